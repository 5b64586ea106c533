package service

import (
	"context"
	"errors"
)

var ErrUserNotFound = errors.New("user not found")

// Profile is the public part of a user record.
type Profile struct {
	UID          string  `json:"uid"`
	Name         string  `json:"name"`
	Email        string  `json:"email,omitempty"`
	ProfileImage *string `json:"profileImage,omitempty"`
}

// UserDirectory resolves user ids. GetUser returns ErrUserNotFound for unknown ids.
type UserDirectory interface {
	GetUser(ctx context.Context, uid string) (*Profile, error)
}
