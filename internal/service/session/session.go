package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akimenko/authd/internal/apperrors"
	"github.com/akimenko/authd/internal/logger"
	"github.com/akimenko/authd/internal/models"
	"github.com/akimenko/authd/internal/repository"
	"github.com/akimenko/authd/internal/service/session/tokenmanager"
)

const (
	defaultRefreshTokenTTL   = 7 * 24 * time.Hour
	defaultRefreshTokenBytes = 48
	defaultRefreshCookieName = "refreshToken"
	defaultCookiePath        = "/api/session"
)

// CredentialStore verifies user credentials and rehydrates principals.
// Password storage and hashing are its concern, not this package's.
type CredentialStore interface {
	Verify(ctx context.Context, email string, password string) (models.Principal, error)
	GetPrincipal(ctx context.Context, userID uuid.UUID) (models.Principal, error)
}

// Metrics receives auth events. Implemented by internal/metrics, NoOp by default.
type Metrics interface {
	LoginObserved(result string)
	RefreshObserved(result string)
	ReplayDetected()
}

type noopMetrics struct{}

func (noopMetrics) LoginObserved(string)   {}
func (noopMetrics) RefreshObserved(string) {}
func (noopMetrics) ReplayDetected()        {}

type Config struct {
	// Refresh token lifetime, defaults to a week
	RefreshTTL time.Duration

	// Random bytes in the opaque refresh value, defaults to 48
	RefreshTokenBytes int

	// Cookie the refresh token travels in
	RefreshCookieName string
	CookiePath        string

	// Set to false only for plain http dev setups
	CookieSecure *bool
}

// SessionService owns the refresh token lifecycle: issue at login, rotate
// at refresh, revoke at logout, revoke the whole lineage on replay.
type SessionService struct {
	cfg     Config
	token   *tokenmanager.TokenManager
	users   CredentialStore
	storage repository.Storage
	logger  logger.Logger
	metrics Metrics

	cookieSecure bool
}

func NewService(cfg Config, token *tokenmanager.TokenManager, users CredentialStore, storage repository.Storage, l logger.Logger, m Metrics) (*SessionService, error) {
	if token == nil || users == nil || storage == nil {
		return nil, errors.New("token manager, credential store and storage must not be nil")
	}
	if l == nil {
		l = logger.NoOp()
	}
	if m == nil {
		m = noopMetrics{}
	}

	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTokenTTL
	}
	if cfg.RefreshTokenBytes == 0 {
		cfg.RefreshTokenBytes = defaultRefreshTokenBytes
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = defaultRefreshCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}

	cookieSecure := true
	if cfg.CookieSecure != nil {
		cookieSecure = *cfg.CookieSecure
	}

	return &SessionService{
		cfg:          cfg,
		token:        token,
		users:        users,
		storage:      storage,
		logger:       l,
		metrics:      m,
		cookieSecure: cookieSecure,
	}, nil
}

// Login verifies credentials and starts a fresh refresh lineage.
// Expected failures pass through as apperrors values, never as panics.
func (s *SessionService) Login(ctx context.Context, email string, password string, ip string) (models.Session, error) {
	principal, err := s.users.Verify(ctx, email, password)
	if err != nil {
		s.metrics.LoginObserved("failure")
		return models.Session{}, err
	}

	session, err := s.issue(ctx, principal, ip)
	if err != nil {
		s.metrics.LoginObserved("error")
		return models.Session{}, err
	}

	s.metrics.LoginObserved("success")
	s.logger.Info("user logged in", "email", email)
	return session, nil
}

// IssueFor starts a lineage for an already verified principal, e.g. right
// after self registration.
func (s *SessionService) IssueFor(ctx context.Context, principal models.Principal, ip string) (models.Session, error) {
	return s.issue(ctx, principal, ip)
}

func (s *SessionService) issue(ctx context.Context, principal models.Principal, ip string) (models.Session, error) {
	value, hash, err := newOpaqueToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return models.Session{}, fmt.Errorf("error while generating refresh token. Err: %w", err)
	}

	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(s.cfg.RefreshTTL)

	_, err = s.storage.RefreshToken().Create(ctx, models.RefreshToken{
		ID:          uuid.New(),
		UserID:      principal.ID,
		TokenHash:   hash,
		CreatedAt:   now,
		CreatedByIP: ip,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	access, err := s.token.Mint(principal)
	if err != nil {
		return models.Session{}, err
	}

	return models.Session{
		Access:    access,
		Refresh:   models.IssuedToken{Value: value, ExpiresAt: expiresAt},
		Principal: principal,
	}, nil
}

// Refresh redeems a presented refresh token for a new pair.
//
// State machine per token:
//   - unknown value            -> apperrors.ErrRefreshInvalid
//   - revoked or rotated       -> replay: revoke the whole user lineage,
//     commit that, and return apperrors.ErrRefreshReused
//   - expired                  -> apperrors.ErrRefreshExpired
//   - active                   -> rotate inside the same transaction
//
// The row is locked with SELECT ... FOR UPDATE, so of N concurrent calls
// with one value exactly one rotates and the rest observe a rotated row.
func (s *SessionService) Refresh(ctx context.Context, presented string, ip string) (models.Session, error) {
	hash := hashToken(presented)

	var (
		userID       uuid.UUID
		refreshValue string
		refreshExp   time.Time
		refreshErr   error
	)

	err := s.storage.InTx(ctx, func(store repository.Storage) error {
		tokens := store.RefreshToken()

		token, err := tokens.GetForUpdate(ctx, hash)
		if err != nil {
			refreshErr = err
			if errors.Is(err, apperrors.ErrRefreshInvalid) {
				return nil // nothing written, commit is a no-op
			}
			return err
		}

		now := time.Now()

		// Revocation wins over expiry: replaying a rotated token is a
		// security signal even when the token also happens to be expired.
		if token.RevokedAt != nil {
			n, err := tokens.RevokeAllForUser(ctx, token.UserID, ip, "refresh token reuse detected")
			if err != nil {
				return err
			}

			s.logger.Warn("refresh token replayed, user lineage revoked",
				"user_id", token.UserID, "revoked", n, "ip", ip)
			s.metrics.ReplayDetected()

			// Deliberately return nil: the lineage revocation must commit
			// even though the refresh itself failed.
			refreshErr = apperrors.ErrRefreshReused
			return nil
		}

		if !now.Before(token.ExpiresAt) {
			refreshErr = apperrors.ErrRefreshExpired
			return nil
		}

		value, newHash, err := newOpaqueToken(s.cfg.RefreshTokenBytes)
		if err != nil {
			return fmt.Errorf("error while generating refresh token. Err: %w", err)
		}

		now = now.Truncate(time.Second)
		expiresAt := now.Add(s.cfg.RefreshTTL)

		_, err = tokens.Create(ctx, models.RefreshToken{
			ID:          uuid.New(),
			UserID:      token.UserID,
			TokenHash:   newHash,
			CreatedAt:   now,
			CreatedByIP: ip,
			ExpiresAt:   expiresAt,
		})
		if err != nil {
			return err
		}

		if err := tokens.MarkRotated(ctx, hash, newHash, ip, now); err != nil {
			return err
		}

		userID = token.UserID
		refreshValue = value
		refreshExp = expiresAt
		return nil
	})

	switch {
	case err != nil:
		s.metrics.RefreshObserved("error")
		return models.Session{}, err
	case refreshErr != nil:
		s.metrics.RefreshObserved("failure")
		return models.Session{}, refreshErr
	}

	principal, err := s.users.GetPrincipal(ctx, userID)
	if err != nil {
		s.metrics.RefreshObserved("error")
		return models.Session{}, fmt.Errorf("can't rehydrate principal. Err: %w", err)
	}

	access, err := s.token.Mint(principal)
	if err != nil {
		s.metrics.RefreshObserved("error")
		return models.Session{}, err
	}

	s.metrics.RefreshObserved("success")
	return models.Session{
		Access:    access,
		Refresh:   models.IssuedToken{Value: refreshValue, ExpiresAt: refreshExp},
		Principal: principal,
	}, nil
}

// Logout revokes the presented token. It never fails the caller: a missing
// or already revoked token is treated as logged out, infrastructure errors
// are logged and swallowed.
func (s *SessionService) Logout(ctx context.Context, presented string, ip string) {
	if presented == "" {
		return
	}

	err := s.storage.RefreshToken().Revoke(ctx, hashToken(presented), ip, "logout")
	switch {
	case err == nil, errors.Is(err, apperrors.ErrRefreshInvalid):
	default:
		s.logger.Error("error while revoking refresh token on logout", "error", err.Error())
	}
}

// RevokeAll revokes every active token of the user ("logout everywhere").
// Used on role changes and suspected compromise.
func (s *SessionService) RevokeAll(ctx context.Context, userID uuid.UUID, ip string, reason string) error {
	n, err := s.storage.RefreshToken().RevokeAllForUser(ctx, userID, ip, reason)
	if err != nil {
		return err
	}

	s.logger.Info("revoked all user sessions", "user_id", userID, "revoked", n, "reason", reason)
	return nil
}

// GetPrincipal is a read-through to the credential store
func (s *SessionService) GetPrincipal(ctx context.Context, userID uuid.UUID) (models.Principal, error) {
	return s.users.GetPrincipal(ctx, userID)
}

// newOpaqueToken returns the plaintext value and its storage hash.
// The value is URL-safe base64, no padding. Plaintext never hits the database.
func newOpaqueToken(nBytes int) (plain string, hashHex string, err error) {
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashToken(plain), nil
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
