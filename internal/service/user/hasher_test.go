package user

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_BcryptHasher(t *testing.T) {
	t.Parallel()

	h := BcryptHasher{}

	t.Run("hash and compare ok", func(t *testing.T) {
		hash, err := h.Hash("pwd12345")
		require.NoError(t, err)
		require.NotEqual(t, "pwd12345", hash)

		require.NoError(t, h.Compare(hash, "pwd12345"))
	})

	t.Run("compare fails for wrong password", func(t *testing.T) {
		hash, err := h.Hash("pwd12345")
		require.NoError(t, err)

		require.Error(t, h.Compare(hash, "other"))
	})

	t.Run("same password hashes differently", func(t *testing.T) {
		first, err := h.Hash("pwd12345")
		require.NoError(t, err)
		second, err := h.Hash("pwd12345")
		require.NoError(t, err)

		require.NotEqual(t, first, second, "bcrypt salts every hash")
	})

	t.Run("long passwords survive the 72 byte limit", func(t *testing.T) {
		long := strings.Repeat("a", 100)
		hash, err := h.Hash(long)
		require.NoError(t, err)

		require.NoError(t, h.Compare(hash, long))
		require.Error(t, h.Compare(hash, long+"b"), "bytes past 72 must still matter")
	})
}
