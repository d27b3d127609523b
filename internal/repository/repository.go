package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/akimenko/authd/internal/models"
)

type CreateUserParams struct {
	Email        string
	FirstName    string
	LastName     string
	Roles        []string
	PasswordHash string
}

type UpdateUserParams struct {
	FirstName *string
	LastName  *string
	Roles     []string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with email exists already has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	ListUsers(ctx context.Context) ([]models.User, error)

	// Update only the fields set in params, bump updated_at
	UpdateUser(ctx context.Context, userID uuid.UUID, params UpdateUserParams) (models.User, error)

	DeleteUser(ctx context.Context, userID uuid.UUID) error

	// Report whether at least one user holds the role. Used by startup seeding.
	AnyUserWithRole(ctx context.Context, role string) (bool, error)
}

// RefreshToken repository interface
// Values are stored hashed, every tokenHash argument is the SHA-256 hex
// of the opaque client value.
type RefreshTokenRepo interface {
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Get token no matter its state
	// If the token not found must return apperrors.ErrRefreshInvalid
	Get(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Same as Get but locks the row (SELECT ... FOR UPDATE)
	// Only meaningful inside InTx: concurrent rotations of the same value
	// serialize on this lock
	GetForUpdate(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Mark token rotated: revoked with reason "rotated" and chained to its successor
	MarkRotated(ctx context.Context, tokenHash string, replacedBy string, ip string, at time.Time) error

	// Revoke the token
	// Idempotent: an already revoked token keeps its original revocation
	Revoke(ctx context.Context, tokenHash string, ip string, reason string) error

	// Revoke every currently active token of the user, return how many
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, ip string, reason string) (int64, error)
}

// Storage combines repositories and lets callers run several repository
// calls in one database transaction
type Storage interface {
	User() UserRepo
	RefreshToken() RefreshTokenRepo

	// Run fn with a Storage bound to one transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
