package model

import "time"

// User represents a site account. Passwords are stored as bcrypt hashes and
// never serialized. The three lockout fields (FailedLoginAttempts, IsLocked,
// LockedUntil) are only ever updated together as one atomic unit.
type User struct {
	ID                  int64      `json:"id" db:"id"`
	Username            string     `json:"username" db:"username"`
	Email               string     `json:"email" db:"email"` // stored lowercase
	PasswordHash        string     `json:"-" db:"password_hash"`
	FailedLoginAttempts int        `json:"failed_login_attempts" db:"failed_login_attempts"`
	IsLocked            bool       `json:"is_locked" db:"is_locked"`
	LockedUntil         *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	IsAdmin             bool       `json:"is_admin" db:"is_admin"`
	LastLogin           *time.Time `json:"last_login,omitempty" db:"last_login"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// LockedNow reports whether the account is locked as of now. It does not
// apply the lazy unlock transition; callers that need the transition go
// through the store so the persisted state stays consistent.
func (u *User) LockedNow(now time.Time) bool {
	if !u.IsLocked {
		return false
	}
	if u.LockedUntil != nil && !now.Before(*u.LockedUntil) {
		return false
	}
	return true
}
