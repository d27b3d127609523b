package tokenmanager

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akimenko/authd/internal/apperrors"
	"github.com/akimenko/authd/internal/models"
)

func testPrincipal() models.Principal {
	return models.Principal{
		ID:        uuid.New(),
		Email:     "alice@example.com",
		FirstName: "Alice",
		LastName:  "Liddell",
		Roles:     []string{"Admin", "User"},
	}
}

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	t.Run("fail without secret key", func(t *testing.T) {
		_, err := New(Config{})

		require.Error(t, err)
		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})

	t.Run("defaults applied", func(t *testing.T) {
		m, err := New(Config{SecretKey: "test-secret-key"})

		require.NoError(t, err)
		require.Equal(t, defaultAccessTokenTTL, m.AccessTTL())
	})

	t.Run("mint and parse roundtrip", func(t *testing.T) {
		m, err := New(Config{SecretKey: "test-secret-key", AccessTTL: time.Minute})
		require.NoError(t, err)
		principal := testPrincipal()

		issued, err := m.Mint(principal)
		require.NoError(t, err)
		require.NotEmpty(t, issued.Value)
		require.WithinDuration(t, time.Now().Add(time.Minute), issued.ExpiresAt, 2*time.Second)

		got, err := m.ParseAccess(issued.Value)
		require.NoError(t, err)
		assert.Equal(t, principal.ID, got.ID)
		assert.Equal(t, principal.Email, got.Email)
		assert.ElementsMatch(t, principal.Roles, got.Roles, "roles claim should carry the full role set")
	})

	t.Run("jti differs between tokens", func(t *testing.T) {
		m, err := New(Config{SecretKey: "test-secret-key"})
		require.NoError(t, err)
		principal := testPrincipal()

		first, err := m.Mint(principal)
		require.NoError(t, err)
		second, err := m.Mint(principal)
		require.NoError(t, err)

		require.NotEqual(t, first.Value, second.Value, "two tokens for same principal should not be equal")
	})

	t.Run("expired token rejected", func(t *testing.T) {
		m, err := New(Config{SecretKey: "test-secret-key", AccessTTL: -time.Minute})
		require.NoError(t, err)

		issued, err := m.Mint(testPrincipal())
		require.NoError(t, err)

		_, err = m.ParseAccess(issued.Value)
		require.Error(t, err, "token minted in the past should not validate")
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		m, err := New(Config{SecretKey: "test-secret-key"})
		require.NoError(t, err)
		other, err := New(Config{SecretKey: "other-secret-key"})
		require.NoError(t, err)

		issued, err := m.Mint(testPrincipal())
		require.NoError(t, err)

		_, err = other.ParseAccess(issued.Value)
		require.Error(t, err, "token signed with different key should not validate")
	})

	t.Run("garbage rejected", func(t *testing.T) {
		m, err := New(Config{SecretKey: "test-secret-key"})
		require.NoError(t, err)

		_, err = m.ParseAccess("not-even-a-token")
		require.Error(t, err)
	})
}
