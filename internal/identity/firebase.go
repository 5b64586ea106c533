package identity

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/shinyyama/estate-chat/internal/service"
	"google.golang.org/api/option"
)

// Firebase verifies ID tokens and looks users up through the Admin SDK.
type Firebase struct {
	client *auth.Client
}

func NewFirebase(ctx context.Context, projectID, credentialsFile string) (*Firebase, error) {
	if projectID == "" {
		return nil, errors.New("FIREBASE_PROJECT_ID is not set")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	return &Firebase{client: client}, nil
}

func (f *Firebase) Verify(ctx context.Context, credential string) (string, error) {
	token, err := f.client.VerifyIDToken(ctx, credential)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return token.UID, nil
}

func (f *Firebase) GetUser(ctx context.Context, uid string) (*service.Profile, error) {
	u, err := f.client.GetUser(ctx, uid)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, service.ErrUserNotFound
		}
		return nil, err
	}
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	return &service.Profile{
		UID:          u.UID,
		Name:         name,
		Email:        u.Email,
		ProfileImage: strPtrOrNil(u.PhotoURL),
	}, nil
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
