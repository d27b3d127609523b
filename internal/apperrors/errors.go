package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Expected authentication outcomes. Returned as values, never panics.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserLockedOut      = errors.New("user is locked out")

	// Refresh failure taxonomy.
	// ErrRefreshReused additionally means the whole user lineage was revoked.
	ErrRefreshInvalid = errors.New("refresh token not found")
	ErrRefreshExpired = errors.New("refresh token is expired")
	ErrRefreshReused  = errors.New("refresh token reuse detected")

	// ErrConfiguration is fatal: the service must not start with it.
	ErrConfiguration = errors.New("invalid configuration")
)
