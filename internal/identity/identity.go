// Package identity authenticates callers and resolves user profiles.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shinyyama/estate-chat/internal/config"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// HeaderUserID carries the caller's uid when AUTH_MODE=header.
const HeaderUserID = "X-User-ID"

// Verifier turns a presented credential into a uid.
type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// Authenticator extracts a credential from a request and verifies it.
// Lookup order: X-User-ID (header mode only), Authorization bearer, ?token=.
// The query parameter exists for browser WebSocket clients, which cannot set headers.
type Authenticator struct {
	mode     string
	verifier Verifier
}

func NewAuthenticator(mode string, v Verifier) *Authenticator {
	return &Authenticator{mode: mode, verifier: v}
}

func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	cred := ""
	if a.mode == config.AuthModeHeader {
		cred = strings.TrimSpace(r.Header.Get(HeaderUserID))
	}
	if cred == "" {
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			cred = strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		}
	}
	if cred == "" {
		cred = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if cred == "" {
		return "", ErrMissingCredential
	}
	return a.verifier.Verify(r.Context(), cred)
}

// HeaderVerifier trusts the presented value as the uid. Development only.
type HeaderVerifier struct{}

func (HeaderVerifier) Verify(_ context.Context, credential string) (string, error) {
	uid := strings.TrimSpace(credential)
	if uid == "" || len(uid) > 128 {
		return "", ErrInvalidCredential
	}
	return uid, nil
}
