package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akimenko/authd/internal/apperrors"
	"github.com/akimenko/authd/internal/logger"
	"github.com/akimenko/authd/internal/models"
	"github.com/akimenko/authd/internal/repository"
)

// UserService is the credential store: it owns user rows and password
// verification. Session issuing lives in the session service and talks
// to this one through Verify and GetPrincipal.
type UserService struct {
	hasher   PasswordHasher
	userRepo repository.UserRepo
	logger   logger.Logger
}

func NewService(hasher PasswordHasher, userRepo repository.UserRepo, l logger.Logger) *UserService {
	if hasher == nil {
		hasher = DefaultHasher
	}
	if l == nil {
		l = logger.NoOp()
	}

	return &UserService{
		hasher:   hasher,
		userRepo: userRepo,
		logger:   l,
	}
}

type CreateParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Roles     []string
}

type UpdateParams struct {
	FirstName *string
	LastName  *string
	Roles     []string
}

// Verify checks email and password and returns a fresh principal snapshot.
// Expected failures are apperrors.ErrInvalidCredentials and
// apperrors.ErrUserLockedOut, anything else is an infrastructure fault.
func (s *UserService) Verify(ctx context.Context, email string, password string) (models.Principal, error) {
	user, err := s.userRepo.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		// Burn a compare anyway so existing and missing emails cost the same
		_ = s.hasher.Compare("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy", password)
		return models.Principal{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.Principal{}, fmt.Errorf("can't look up user. Err: %w", err)
	}

	if user.Locked(time.Now()) {
		s.logger.Warn("login attempt for locked out user", "email", email)
		return models.Principal{}, apperrors.ErrUserLockedOut
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.logger.Warn("failed login attempt", "email", email)
		return models.Principal{}, apperrors.ErrInvalidCredentials
	}

	return user.Principal(), nil
}

// GetPrincipal rehydrates a principal by user id, e.g. for silent session restore
func (s *UserService) GetPrincipal(ctx context.Context, userID uuid.UUID) (models.Principal, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return models.Principal{}, err
	}
	return user.Principal(), nil
}

// Register creates a regular user with the default role
func (s *UserService) Register(ctx context.Context, email string, password string, firstName string, lastName string) (models.User, error) {
	return s.Create(ctx, CreateParams{
		Email:     email,
		Password:  password,
		FirstName: firstName,
		LastName:  lastName,
		Roles:     []string{models.RoleUser},
	})
}

func (s *UserService) Create(ctx context.Context, params CreateParams) (models.User, error) {
	var user models.User

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	roles := params.Roles
	if len(roles) == 0 {
		roles = []string{models.RoleUser}
	}

	user, err = s.userRepo.CreateUser(ctx, repository.CreateUserParams{
		Email:        params.Email,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Roles:        roles,
		PasswordHash: hash,
	})
	if err != nil {
		return user, err
	}

	s.logger.Info("user created", "email", user.Email, "roles", user.Roles)
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.userRepo.GetUserByID(ctx, userID)
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	return s.userRepo.ListUsers(ctx)
}

func (s *UserService) Update(ctx context.Context, userID uuid.UUID, params UpdateParams) (models.User, error) {
	return s.userRepo.UpdateUser(ctx, userID, repository.UpdateUserParams{
		FirstName: params.FirstName,
		LastName:  params.LastName,
		Roles:     params.Roles,
	})
}

func (s *UserService) UpdateRoles(ctx context.Context, userID uuid.UUID, roles []string) (models.User, error) {
	return s.userRepo.UpdateUser(ctx, userID, repository.UpdateUserParams{Roles: roles})
}

func (s *UserService) Delete(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.DeleteUser(ctx, userID)
}

// EnsureAdmin seeds the bootstrap admin account if no admin exists yet
func (s *UserService) EnsureAdmin(ctx context.Context, email string, password string) error {
	exists, err := s.userRepo.AnyUserWithRole(ctx, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("can't check for existing admin. Err: %w", err)
	}
	if exists {
		return nil
	}

	_, err = s.Create(ctx, CreateParams{
		Email:     email,
		Password:  password,
		FirstName: "System",
		LastName:  "Admin",
		Roles:     []string{models.RoleAdmin, models.RoleUser},
	})
	if err != nil && !errors.Is(err, apperrors.ErrUserAlreadyExists) {
		return err
	}

	s.logger.Info("seeded default admin user", "email", email)
	return nil
}
