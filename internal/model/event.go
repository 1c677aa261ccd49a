package model

import "time"

// Security event types emitted by the authentication flows. The set mirrors
// the outcomes of login, registration, and the admin account actions.
const (
	EventLoginSuccess        = "login_success"
	EventLoginFailed         = "login_failed"
	EventLoginLocked         = "login_locked_account"
	EventLoginInvalidFormat  = "login_invalid_format"
	EventLoginRateLimited    = "login_rate_limited"
	EventAccountLocked       = "account_locked"
	EventRegisterSuccess     = "registration_success"
	EventRegisterRejected    = "registration_rejected"
	EventRegisterRateLimited = "registration_rate_limited"
	EventLogout              = "logout"
	EventAdminUnlock         = "admin_unlock"
	EventAdminResetAttempts  = "admin_reset_attempts"
	EventAdminSetActive      = "admin_set_active"
)

// SecurityEvent is a single append-only audit record. Events are written by
// the security flows and never mutated or deleted; UserID is nil when the
// event is not tied to a known account (unknown username, rate limits).
type SecurityEvent struct {
	ID        int64     `json:"id" db:"id"`
	EventType string    `json:"event_type" db:"event_type"`
	UserID    *int64    `json:"user_id,omitempty" db:"user_id"`
	ClientID  string    `json:"client_id" db:"client_id"`
	Details   string    `json:"details,omitempty" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
