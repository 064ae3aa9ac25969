package core

import (
	"context"
	"errors"
)

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type UserWithoutSecrets struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

var (
	ErrConflictedUser = errors.New("user already exists")
)

// UserDirectory resolves users for notification text.
type UserDirectory interface {
	// Lookup returns the user with the given id.
	// If the user is not found, it returns nil.
	Lookup(ctx context.Context, userID string) (*UserWithoutSecrets, error)
}

type UserStore interface {
	UserDirectory

	// CreateUser hashes the password and stores the user. An id is generated when the user has none.
	// If the username is taken, it returns ErrConflictedUser.
	CreateUser(ctx context.Context, user User) (string, error)

	// GetUserByUsername returns nil if the user is not found.
	GetUserByUsername(ctx context.Context, username string) (*UserWithoutSecrets, error)

	// ComparePassword reports whether the password matches the stored hash.
	// If the user is not found, it returns ErrInvalidUser.
	ComparePassword(ctx context.Context, username, password string) (bool, error)
}
