package models

import "time"

// AccessTokenStatus is the state of a QR access token.
type AccessTokenStatus string

const (
	AccessTokenActive  AccessTokenStatus = "active"
	AccessTokenUsed    AccessTokenStatus = "used"
	AccessTokenExpired AccessTokenStatus = "expired"
)

// AccessToken binds a reservation to an on-site check-in.
// Only Hash is persisted; ID and URL are populated when the token is issued.
type AccessToken struct {
	ID            string            `db:"-" json:"token,omitempty"`
	URL           string            `db:"-" json:"url,omitempty"`
	Hash          string            `db:"token_hash" json:"-"`
	ReservationID string            `db:"reservation_id" json:"reservation_id"`
	Status        AccessTokenStatus `db:"status" json:"status"`
	IssuedAt      time.Time         `db:"issued_at" json:"issued_at"`
	TTLSeconds    int               `db:"ttl_seconds" json:"ttl_seconds"`
	ExpiresAt     time.Time         `db:"expires_at" json:"expires_at"`
	UsedAt        *time.Time        `db:"used_at" json:"used_at,omitempty"`
}

// ExpiredAt reports whether the token's lifetime has elapsed at now.
func (t *AccessToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ValidAt reports whether the token may still be redeemed at now.
func (t *AccessToken) ValidAt(now time.Time) bool {
	return t.Status == AccessTokenActive && !t.ExpiredAt(now)
}
