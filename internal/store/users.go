package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mangadox/mangadox/internal/model"
)

// CreateUser inserts a new account. The ID, CreatedAt, and UpdatedAt fields
// on user are populated after a successful insert. The email must already be
// lowercased by the caller. Unique constraint violations are mapped to
// ErrDuplicateUsername / ErrDuplicateEmail.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const q = `INSERT INTO users
		(username, email, password_hash, failed_login_attempts, is_locked, locked_until,
		 is_active, is_admin, last_login, created_at, updated_at)
		VALUES
		(:username, :email, :password_hash, :failed_login_attempts, :is_locked, :locked_until,
		 :is_active, :is_admin, :last_login, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, user)
	if err != nil {
		return classifyUniqueViolation(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get user id: %w", err)
	}
	user.ID = id
	return nil
}

// classifyUniqueViolation maps SQLite unique constraint errors on the users
// table to the store's duplicate sentinels.
func classifyUniqueViolation(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		if strings.Contains(msg, "users.username") {
			return ErrDuplicateUsername
		}
		if strings.Contains(msg, "users.email") {
			return ErrDuplicateEmail
		}
	}
	return fmt.Errorf("insert user: %w", err)
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername returns a user by their unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE username = ?", username); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &user, nil
}

// GetUserByEmail returns a user by email address. The lookup is
// case-insensitive; emails are stored lowercase.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE email = ?", strings.ToLower(email)); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

// ListUsers returns accounts ordered by creation time, newest first.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users,
		"SELECT * FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", limit, offset); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// LockoutState is the slice of an account's lockout fields returned by the
// atomic lockout mutations.
type LockoutState struct {
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	IsLocked            bool       `db:"is_locked"`
	LockedUntil         *time.Time `db:"locked_until"`
}

// RecordFailedLogin increments the failed-attempt counter and, when the
// incremented counter reaches threshold, locks the account until lockUntil.
// Counter, flag, and timestamp change in one statement so two concurrent
// failures both count and the locking transition is atomic. The state after
// the update is returned.
func (s *Store) RecordFailedLogin(ctx context.Context, id int64, threshold int, lockUntil time.Time) (*LockoutState, error) {
	const q = `UPDATE users SET
		failed_login_attempts = failed_login_attempts + 1,
		is_locked = CASE WHEN failed_login_attempts + 1 >= ? THEN 1 ELSE is_locked END,
		locked_until = CASE WHEN failed_login_attempts + 1 >= ? THEN ? ELSE locked_until END,
		updated_at = ?
		WHERE id = ?
		RETURNING failed_login_attempts, is_locked, locked_until`

	var state LockoutState
	err := s.db.QueryRowxContext(ctx, q, threshold, threshold, lockUntil.UTC(), time.Now().UTC(), id).
		Scan(&state.FailedLoginAttempts, &state.IsLocked, &state.LockedUntil)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("record failed login: %w", err)
	}
	return &state, nil
}

// ClearExpiredLock applies the lazy unlock transition: if the account is
// locked and its locked_until has passed, the lock flag and timestamp are
// cleared while the failed-attempt counter is left untouched. Returns true
// when a lock was cleared.
func (s *Store) ClearExpiredLock(ctx context.Context, id int64, now time.Time) (bool, error) {
	const q = `UPDATE users SET is_locked = 0, locked_until = NULL, updated_at = ?
		WHERE id = ? AND is_locked = 1 AND locked_until IS NOT NULL AND locked_until <= ?`

	result, err := s.db.ExecContext(ctx, q, now.UTC(), id, now.UTC())
	if err != nil {
		return false, fmt.Errorf("clear expired lock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear expired lock rows affected: %w", err)
	}
	return n > 0, nil
}

// RecordLoginSuccess resets the failed-attempt counter and lock fields and
// stamps last_login, all in one statement.
func (s *Store) RecordLoginSuccess(ctx context.Context, id int64, now time.Time) error {
	const q = `UPDATE users SET
		failed_login_attempts = 0, is_locked = 0, locked_until = NULL,
		last_login = ?, updated_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, q, now.UTC(), now.UTC(), id)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record login success rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetLockout is the administrative unlock: counter, flag, and timestamp
// are reset unconditionally as one unit. last_login is not touched.
func (s *Store) ResetLockout(ctx context.Context, id int64) error {
	const q = `UPDATE users SET
		failed_login_attempts = 0, is_locked = 0, locked_until = NULL, updated_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset lockout rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserActive enables or disables an account.
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?", active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user active rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the total number of accounts.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}
