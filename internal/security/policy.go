package security

import "time"

// Policy holds the account-security knobs. The lockout window and the
// rate-limit windows are independent policies and can disagree (a client's
// rate-limit counter may reset while an account lock still holds); they are
// deliberately not merged.
type Policy struct {
	// LockoutThreshold is the failed-attempt count at which an account locks.
	LockoutThreshold int
	// LockoutDuration is how long a lock holds before the lazy unlock.
	LockoutDuration time.Duration

	// LoginLimit / LoginWindow cap login attempts per client identifier.
	LoginLimit  int
	LoginWindow time.Duration

	// RegisterLimit / RegisterWindow cap registrations per client
	// identifier. Stricter than login.
	RegisterLimit  int
	RegisterWindow time.Duration
}

// DefaultPolicy returns the production policy: lock after 5 failures for
// 15 minutes, 5 login attempts and 3 registrations per 5 minutes.
func DefaultPolicy() Policy {
	return Policy{
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		LoginLimit:       5,
		LoginWindow:      5 * time.Minute,
		RegisterLimit:    3,
		RegisterWindow:   5 * time.Minute,
	}
}
