package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akimenko/authd/internal/apperrors"
	"github.com/akimenko/authd/internal/models"
	"github.com/akimenko/authd/internal/repository"
	"github.com/akimenko/authd/internal/testutil"
)

func Test_UserRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("create user ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			user, err := r.CreateUser(t.Context(), repository.CreateUserParams{
				Email:        "create@example.com",
				FirstName:    "Alice",
				LastName:     "Doe",
				Roles:        []string{models.RoleUser},
				PasswordHash: "hashedpassword123",
			})

			require.NoError(t, err)
			assert.Equal(t, "create@example.com", user.Email)
			assert.Equal(t, "Alice", user.FirstName)
			assert.Equal(t, []string{models.RoleUser}, user.Roles)
			assert.Equal(t, "hashedpassword123", user.PasswordHash)
			assert.Nil(t, user.UpdatedAt)
			assert.WithinDuration(t, time.Now(), user.CreatedAt, time.Second, "CreatedAt should be recent")
		})
	})

	t.Run("create user duplicate email", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			params := repository.CreateUserParams{
				Email:        "dup@example.com",
				Roles:        []string{models.RoleUser},
				PasswordHash: "hashedpassword123",
			}

			_, err := r.CreateUser(t.Context(), params)
			require.NoError(t, err)

			_, err = r.CreateUser(t.Context(), params)
			assert.ErrorIs(t, err, apperrors.ErrUserAlreadyExists, "should return well known error")
		})
	})

	t.Run("get user by id and email", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			created, err := r.CreateUser(t.Context(), repository.CreateUserParams{
				Email:        "find@example.com",
				Roles:        []string{models.RoleUser},
				PasswordHash: "hashedpassword123",
			})
			require.NoError(t, err)

			byID, err := r.GetUserByID(t.Context(), created.ID)
			require.NoError(t, err)
			assert.Equal(t, created.ID, byID.ID)

			byEmail, err := r.GetUserByEmail(t.Context(), "find@example.com")
			require.NoError(t, err)
			assert.Equal(t, created.ID, byEmail.ID)
		})
	})

	t.Run("get user not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			_, err := r.GetUserByID(t.Context(), uuid.New())
			assert.ErrorIs(t, err, apperrors.ErrUserNotFound, "should return well known error")

			_, err = r.GetUserByEmail(t.Context(), "nobody@example.com")
			assert.ErrorIs(t, err, apperrors.ErrUserNotFound, "should return well known error")
		})
	})

	t.Run("update user partial", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			created, err := r.CreateUser(t.Context(), repository.CreateUserParams{
				Email:        "update@example.com",
				FirstName:    "Before",
				LastName:     "Unchanged",
				Roles:        []string{models.RoleUser},
				PasswordHash: "hashedpassword123",
			})
			require.NoError(t, err)

			first := "After"
			updated, err := r.UpdateUser(t.Context(), created.ID, repository.UpdateUserParams{
				FirstName: &first,
			})

			require.NoError(t, err)
			assert.Equal(t, "After", updated.FirstName)
			assert.Equal(t, "Unchanged", updated.LastName, "unset fields must keep their value")
			require.NotNil(t, updated.UpdatedAt)
		})
	})

	t.Run("update user not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			first := "Nobody"

			_, err := r.UpdateUser(t.Context(), uuid.New(), repository.UpdateUserParams{FirstName: &first})

			assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("delete user cascades tokens", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			users := UserRepo{DB: tx}
			tokens := RefreshTokenRepo{DB: tx}

			created, err := users.CreateUser(t.Context(), repository.CreateUserParams{
				Email:        "delete@example.com",
				Roles:        []string{models.RoleUser},
				PasswordHash: "hashedpassword123",
			})
			require.NoError(t, err)

			_, err = tokens.Create(t.Context(), newToken(created.ID, "orphan", time.Hour))
			require.NoError(t, err)

			err = users.DeleteUser(t.Context(), created.ID)
			require.NoError(t, err)

			_, err = users.GetUserByID(t.Context(), created.ID)
			assert.ErrorIs(t, err, apperrors.ErrUserNotFound)

			_, err = tokens.Get(t.Context(), tokenHash("orphan"))
			assert.ErrorIs(t, err, apperrors.ErrRefreshInvalid, "tokens must not outlive their user")
		})
	})

	t.Run("any user with role", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			exists, err := r.AnyUserWithRole(t.Context(), models.RoleAdmin)
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = r.CreateUser(t.Context(), repository.CreateUserParams{
				Email:        "admin@example.com",
				Roles:        []string{models.RoleAdmin, models.RoleUser},
				PasswordHash: "hashedpassword123",
			})
			require.NoError(t, err)

			exists, err = r.AnyUserWithRole(t.Context(), models.RoleAdmin)
			require.NoError(t, err)
			assert.True(t, exists)
		})
	})
}
