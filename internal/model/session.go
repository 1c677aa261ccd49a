package model

import "time"

// Session represents a server-side login session. The raw token is handed to
// the client once at login; only its SHA-256 hash is persisted.
type Session struct {
	ID        int64     `json:"id" db:"id"`
	TokenHash string    `json:"-" db:"token_hash"`
	UserID    int64     `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
