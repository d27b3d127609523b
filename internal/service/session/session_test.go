package session

import (
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akimenko/authd/internal/apperrors"
	"github.com/akimenko/authd/internal/models"
	"github.com/akimenko/authd/internal/repository"
	"github.com/akimenko/authd/internal/repository/postgres"
	"github.com/akimenko/authd/internal/service/session/tokenmanager"
	"github.com/akimenko/authd/internal/service/user"
	"github.com/akimenko/authd/internal/testutil"
)

func newSessionService(t *testing.T, db postgres.DBTX, cfg Config) (*SessionService, repository.Storage) {
	t.Helper()

	storage := postgres.NewStorage(db)

	tm, err := tokenmanager.New(tokenmanager.Config{
		SecretKey: "test-secret-key",
		AccessTTL: 15 * time.Minute,
	})
	require.NoError(t, err, "token manager should be created without errors")

	users := user.NewService(user.DefaultHasher, storage.User(), nil)

	s, err := NewService(cfg, tm, users, storage, nil, nil)
	require.NoError(t, err, "session service should be created without errors")

	return s, storage
}

func registerUser(t *testing.T, storage repository.Storage, email string) models.User {
	t.Helper()

	users := user.NewService(user.DefaultHasher, storage.User(), nil)
	u, err := users.Register(t.Context(), email, "pwd12345", "Alice", "Doe")
	require.NoError(t, err)
	return u
}

func Test_SessionService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Begin new db transaction and create new SessionService over it
	// Rollback transaction when test stops
	withSession := func(cfg Config, t *testing.T, fn func(s *SessionService, storage repository.Storage)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s, storage := newSessionService(t, tx, cfg)
			fn(s, storage)
		})
	}

	t.Run("service defaults", func(t *testing.T) {
		withSession(Config{}, t, func(s *SessionService, _ repository.Storage) {
			require.Equal(t, 7*24*time.Hour, s.cfg.RefreshTTL)
			require.Equal(t, 48, s.cfg.RefreshTokenBytes)
			require.Equal(t, "refreshToken", s.cfg.RefreshCookieName)
			require.Equal(t, "/api/session", s.cfg.CookiePath)
			require.True(t, s.cookieSecure)
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("valid credentials ok", func(t *testing.T) {
			withSession(Config{}, t, func(s *SessionService, storage repository.Storage) {
				registerUser(t, storage, "alice@example.com")

				session, err := s.Login(t.Context(), "alice@example.com", "pwd12345", "127.0.0.1")

				require.NoError(t, err)
				require.NotEmpty(t, session.Access.Value, "access token should not be empty")
				require.NotEmpty(t, session.Refresh.Value, "refresh token should not be empty")
				assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), session.Refresh.ExpiresAt, 5*time.Second)

				// Access token claims carry the principal's role set
				principal, err := s.token.ParseAccess(session.Access.Value)
				require.NoError(t, err)
				assert.Equal(t, session.Principal.ID, principal.ID)
				assert.Equal(t, []string{models.RoleUser}, principal.Roles)

				// The persisted token is active and stored hashed
				stored, err := storage.RefreshToken().Get(t.Context(), hashToken(session.Refresh.Value))
				require.NoError(t, err)
				assert.True(t, stored.Active(time.Now()))
				assert.NotEqual(t, session.Refresh.Value, stored.TokenHash)
			})
		})

		t.Run("wrong password", func(t *testing.T) {
			withSession(Config{}, t, func(s *SessionService, storage repository.Storage) {
				registerUser(t, storage, "alice@example.com")

				_, err := s.Login(t.Context(), "alice@example.com", "wrong", "127.0.0.1")

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
			})
		})

		t.Run("unknown user", func(t *testing.T) {
			withSession(Config{}, t, func(s *SessionService, _ repository.Storage) {
				_, err := s.Login(t.Context(), "nobody@example.com", "pwd12345", "127.0.0.1")

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
			})
		})
	})

	t.Run("locked user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s, storage := newSessionService(t, tx, Config{})
			u := registerUser(t, storage, "locked@example.com")

			_, err := tx.Exec(t.Context(),
				"UPDATE users SET locked_until = now() + interval '1 hour' WHERE id = $1", u.ID)
			require.NoError(t, err)

			_, err = s.Login(t.Context(), "locked@example.com", "pwd12345", "127.0.0.1")

			require.ErrorIs(t, err, apperrors.ErrUserLockedOut)
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("rotates the token", func(t *testing.T) {
			withSession(Config{}, t, func(s *SessionService, storage repository.Storage) {
				registerUser(t, storage, "alice@example.com")
				first, err := s.Login(t.Context(), "alice@example.com", "pwd12345", "127.0.0.1")
				require.NoError(t, err)

				second, err := s.Refresh(t.Context(), first.Refresh.Value, "127.0.0.1")

				require.NoError(t, err)
				assert.NotEqual(t, first.Access.Value, second.Access.Value)
				assert.NotEqual(t, first.Refresh.Value, second.Refresh.Value)
				assert.Equal(t, first.Principal.ID, second.Principal.ID)

				// Old row is rotated and chained to its successor
				old, err := storage.RefreshToken().Get(t.Context(), hashToken(first.Refresh.Value))
				require.NoError(t, err)
				require.True(t, old.Rotated())
				assert.Equal(t, hashToken(second.Refresh.Value), *old.ReplacedBy)
			})
		})

		t.Run("unknown value", func(t *testing.T) {
			withSession(Config{}, t, func(s *SessionService, _ repository.Storage) {
				_, err := s.Refresh(t.Context(), "never-issued", "127.0.0.1")

				require.ErrorIs(t, err, apperrors.ErrRefreshInvalid)
			})
		})

		t.Run("replay revokes the whole lineage", func(t *testing.T) {
			withSession(Config{}, t, func(s *SessionService, storage repository.Storage) {
				registerUser(t, storage, "alice@example.com")
				first, err := s.Login(t.Context(), "alice@example.com", "pwd12345", "127.0.0.1")
				require.NoError(t, err)

				second, err := s.Refresh(t.Context(), first.Refresh.Value, "127.0.0.1")
				require.NoError(t, err)

				// Redeeming the rotated value again is replay, not "invalid"
				_, err = s.Refresh(t.Context(), first.Refresh.Value, "10.0.0.66")
				require.ErrorIs(t, err, apperrors.ErrRefreshReused)

				// The legitimate successor is dead too
				_, err = s.Refresh(t.Context(), second.Refresh.Value, "127.0.0.1")
				require.ErrorIs(t, err, apperrors.ErrRefreshReused)

				successor, err := storage.RefreshToken().Get(t.Context(), hashToken(second.Refresh.Value))
				require.NoError(t, err)
				require.NotNil(t, successor.RevokedAt)
				assert.Equal(t, "refresh token reuse detected", *successor.RevokedReason)
			})
		})

		t.Run("expired token", func(t *testing.T) {
			withSession(Config{RefreshTTL: -time.Hour}, t, func(s *SessionService, storage repository.Storage) {
				registerUser(t, storage, "alice@example.com")
				session, err := s.Login(t.Context(), "alice@example.com", "pwd12345", "127.0.0.1")
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), session.Refresh.Value, "127.0.0.1")

				require.ErrorIs(t, err, apperrors.ErrRefreshExpired)
			})
		})

		t.Run("logout then refresh never succeeds", func(t *testing.T) {
			withSession(Config{}, t, func(s *SessionService, storage repository.Storage) {
				registerUser(t, storage, "alice@example.com")
				session, err := s.Login(t.Context(), "alice@example.com", "pwd12345", "127.0.0.1")
				require.NoError(t, err)

				s.Logout(t.Context(), session.Refresh.Value, "127.0.0.1")

				_, err = s.Refresh(t.Context(), session.Refresh.Value, "127.0.0.1")
				require.ErrorIs(t, err, apperrors.ErrRefreshReused)
			})
		})
	})

	t.Run("Logout", func(t *testing.T) {
		t.Run("idempotent and never fails", func(t *testing.T) {
			withSession(Config{}, t, func(s *SessionService, storage repository.Storage) {
				registerUser(t, storage, "alice@example.com")
				session, err := s.Login(t.Context(), "alice@example.com", "pwd12345", "127.0.0.1")
				require.NoError(t, err)

				s.Logout(t.Context(), session.Refresh.Value, "127.0.0.1")
				s.Logout(t.Context(), session.Refresh.Value, "127.0.0.1")
				s.Logout(t.Context(), "", "127.0.0.1")
				s.Logout(t.Context(), "never-issued", "127.0.0.1")

				stored, err := storage.RefreshToken().Get(t.Context(), hashToken(session.Refresh.Value))
				require.NoError(t, err)
				require.NotNil(t, stored.RevokedAt)
				assert.Equal(t, "logout", *stored.RevokedReason)
			})
		})
	})

	t.Run("RevokeAll", func(t *testing.T) {
		withSession(Config{}, t, func(s *SessionService, storage repository.Storage) {
			u := registerUser(t, storage, "alice@example.com")
			one, err := s.Login(t.Context(), "alice@example.com", "pwd12345", "127.0.0.1")
			require.NoError(t, err)
			two, err := s.Login(t.Context(), "alice@example.com", "pwd12345", "10.0.0.2")
			require.NoError(t, err)

			err = s.RevokeAll(t.Context(), u.ID, "127.0.0.1", "roles changed")
			require.NoError(t, err)

			for _, session := range []models.Session{one, two} {
				_, err := s.Refresh(t.Context(), session.Refresh.Value, "127.0.0.1")
				require.ErrorIs(t, err, apperrors.ErrRefreshReused)
			}
		})
	})
}

// Uses the shared pool instead of a rolled back transaction: the racing
// goroutines must hold separate connections for the row lock to matter.
func Test_SessionService_ConcurrentRefresh(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	s, storage := newSessionService(t, pg.Pool, Config{})
	registerUser(t, storage, "race@example.com")

	session, err := s.Login(t.Context(), "race@example.com", "pwd12345", "127.0.0.1")
	require.NoError(t, err)

	const n = 8
	results := make(chan error, n)

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Refresh(t.Context(), session.Refresh.Value, "127.0.0.1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, reused int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			require.ErrorIs(t, err, apperrors.ErrRefreshReused)
			reused++
		}
	}

	require.Equal(t, 1, succeeded, "exactly one concurrent refresh may win")
	require.Equal(t, n-1, reused, "every loser must observe the replay")

	// The winner's token is part of the revoked lineage afterwards
	_, err = s.Refresh(t.Context(), session.Refresh.Value, "127.0.0.1")
	require.ErrorIs(t, err, apperrors.ErrRefreshReused)
}
