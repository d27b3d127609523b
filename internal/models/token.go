package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one persisted link of a refresh lineage. Only the SHA-256
// hash of the opaque value is stored, the plaintext exists client-side only.
type RefreshToken struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	TokenHash   string
	CreatedAt   time.Time
	CreatedByIP string
	ExpiresAt   time.Time

	RevokedAt     *time.Time
	RevokedByIP   *string
	RevokedReason *string

	// Hash of the successor token. Set exactly once, at rotation.
	ReplacedBy *string
}

// Active means the token may still be redeemed: not revoked and not expired.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Rotated means the token was redeemed and replaced by a successor.
func (t *RefreshToken) Rotated() bool {
	return t.RevokedAt != nil && t.ReplacedBy != nil
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Session is what a successful login or refresh hands back to the caller:
// a signed access token, the plaintext refresh token and the principal.
type Session struct {
	Access    IssuedToken
	Refresh   IssuedToken
	Principal Principal
}
