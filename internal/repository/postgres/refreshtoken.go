package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/akimenko/authd/internal/apperrors"
	"github.com/akimenko/authd/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, token_hash, created_at, created_by_ip, expires_at,
revoked_at, revoked_by_ip, revoked_reason, replaced_by`

const createToken = `-- name: CreateToken
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, created_by_ip, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + tokenColumns

func (r *RefreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, createToken,
		token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.CreatedByIP, token.ExpiresAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToToken)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

const getToken = `-- name: GetToken
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get returns the token whatever its state: rotated and revoked rows are
// kept for replay audit and must stay findable
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	return r.get(ctx, getToken, tokenHash)
}

const getTokenForUpdate = getToken + `FOR UPDATE
`

// GetForUpdate locks the token row until the surrounding transaction ends.
// Two refreshes racing on the same value serialize here: the loser sees
// the row already rotated
func (r *RefreshTokenRepo) GetForUpdate(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	return r.get(ctx, getTokenForUpdate, tokenHash)
}

func (r *RefreshTokenRepo) get(ctx context.Context, sql string, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, sql, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshInvalid
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const markRotated = `-- name: MarkRotated
UPDATE refresh_tokens
SET revoked_at = $4, revoked_by_ip = $3, revoked_reason = 'rotated', replaced_by = $2
WHERE token_hash = $1 AND revoked_at IS NULL
RETURNING id
`

func (r *RefreshTokenRepo) MarkRotated(ctx context.Context, tokenHash string, replacedBy string, ip string, at time.Time) error {
	rows, _ := r.DB.Query(ctx, markRotated, tokenHash, replacedBy, ip, at)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.ErrRefreshInvalid
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const revokeToken = `-- name: RevokeToken
UPDATE refresh_tokens
SET revoked_at     = COALESCE(revoked_at, $4),
    revoked_by_ip  = COALESCE(revoked_by_ip, $2),
    revoked_reason = COALESCE(revoked_reason, $3)
WHERE token_hash = $1
RETURNING id
`

// Revoke is idempotent: a second revocation keeps the first one's
// timestamp, ip and reason
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenHash string, ip string, reason string) error {
	rows, _ := r.DB.Query(ctx, revokeToken, tokenHash, ip, reason, time.Now())
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.ErrRefreshInvalid
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const revokeAllForUser = `-- name: RevokeAllForUser
UPDATE refresh_tokens
SET revoked_at = $4, revoked_by_ip = $2, revoked_reason = $3
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $4
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, ip string, reason string) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, ip, reason, time.Now())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.CreatedByIP, &t.ExpiresAt,
		&t.RevokedAt, &t.RevokedByIP, &t.RevokedReason, &t.ReplacedBy,
	)
	return t, err
}
