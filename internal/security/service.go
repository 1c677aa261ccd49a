// Package security implements the authentication core: input validation,
// per-client rate limiting, the account lockout state machine, and the
// login/registration flows that bind them together over the user store.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mangadox/mangadox/internal/audit"
	"github.com/mangadox/mangadox/internal/model"
	"github.com/mangadox/mangadox/internal/session"
	"github.com/mangadox/mangadox/internal/store"
)

// Rate-limited action names. They key the counter store together with the
// client identifier.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
)

// dummyHash is a bcrypt hash of an unguessable throwaway value. It is
// compared against when the username does not resolve to an account, so the
// unknown-user path costs roughly the same as a wrong-password path.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Service orchestrates the login and registration flows. A user record is
// borrowed from the store for the duration of one attempt and never cached
// across requests.
type Service struct {
	store    *store.Store
	sessions *session.Manager
	limiter  *Limiter
	sink     audit.Sink
	policy   Policy
	logger   *slog.Logger

	now func() time.Time
}

// NewService creates a Service.
func NewService(st *store.Store, sessions *session.Manager, limiter *Limiter, sink audit.Sink, policy Policy, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		sessions: sessions,
		limiter:  limiter,
		sink:     sink,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// LoginRequest carries one login attempt. PriorToken is the session token
// the client presented with the request, if any; it is flushed on success so
// a pre-set session identifier can never survive authentication.
type LoginRequest struct {
	Username   string
	Password   string
	ClientID   string
	PriorToken string
}

// LoginResult is the outcome of a login attempt. Locked is a UX hint that
// the account is currently locked; it is also set on the attempt that
// triggered a fresh lock, so the caller cannot tell a just-locked account
// from an already-locked one.
type LoginResult struct {
	Outcome      Outcome
	Reason       string
	UserID       int64
	SessionToken string
	Locked       bool
}

// AttemptLogin runs the login flow. The check order is fixed to bound what
// an attacker can learn: rate limit, username format, account lookup,
// lockout state, then password. Policy outcomes come back in the result;
// a non-nil error means infrastructure failure and the attempt must be
// treated as denied.
func (s *Service) AttemptLogin(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	limited, err := s.limiter.IsLimited(ctx, req.ClientID, ActionLogin, s.policy.LoginLimit, s.policy.LoginWindow)
	if err != nil {
		return nil, err
	}
	if limited {
		s.emit(model.EventLoginRateLimited, nil, req.ClientID, "")
		return &LoginResult{Outcome: OutcomeRateLimited, Reason: MsgRateLimited}, nil
	}

	if req.Username == "" || req.Password == "" {
		s.emit(model.EventLoginInvalidFormat, nil, req.ClientID, "missing fields")
		return &LoginResult{Outcome: OutcomeValidationFailed, Reason: "Username and password are required."}, nil
	}
	if err := ValidateUsername(req.Username); err != nil {
		// Generic reason: which rule failed is not revealed on the login path.
		s.emit(model.EventLoginInvalidFormat, nil, req.ClientID, "")
		return &LoginResult{Outcome: OutcomeValidationFailed, Reason: MsgInvalidFormat}, nil
	}

	user, err := s.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a hash comparison so this path is not observably faster
			// than a wrong password.
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(req.Password))
			s.emit(model.EventLoginFailed, nil, req.ClientID, "unknown username")
			return &LoginResult{Outcome: OutcomeInvalidCredentials, Reason: MsgInvalidCredentials}, nil
		}
		return nil, fmt.Errorf("login lookup: %w", err)
	}

	locked, err := s.checkLockout(ctx, user)
	if err != nil {
		return nil, err
	}
	if locked {
		s.emit(model.EventLoginLocked, &user.ID, req.ClientID, "")
		return &LoginResult{Outcome: OutcomeAccountLocked, Reason: MsgAccountLocked, Locked: true}, nil
	}

	if !user.IsActive {
		// Inactive accounts cannot authenticate. Indistinguishable from bad
		// credentials; no failed-attempt transition, the account is dead
		// weight either way.
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(req.Password))
		s.emit(model.EventLoginFailed, &user.ID, req.ClientID, "inactive account")
		return &LoginResult{Outcome: OutcomeInvalidCredentials, Reason: MsgInvalidCredentials}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		state, err := s.store.RecordFailedLogin(ctx, user.ID, s.policy.LockoutThreshold, s.now().Add(s.policy.LockoutDuration))
		if err != nil {
			return nil, fmt.Errorf("record failed login: %w", err)
		}

		if state.IsLocked {
			s.emit(model.EventAccountLocked, &user.ID, req.ClientID,
				fmt.Sprintf("failed attempts: %d", state.FailedLoginAttempts))
		} else {
			s.emit(model.EventLoginFailed, &user.ID, req.ClientID, "wrong password")
		}

		// The outcome stays InvalidCredentials even when this attempt locked
		// the account; Locked only says "locked now", never "you locked it".
		return &LoginResult{
			Outcome: OutcomeInvalidCredentials,
			Reason:  MsgInvalidCredentials,
			Locked:  state.IsLocked,
		}, nil
	}

	if err := s.store.RecordLoginSuccess(ctx, user.ID, s.now()); err != nil {
		return nil, fmt.Errorf("record login success: %w", err)
	}

	// Session fixation defense: the presented session dies, a fresh one is
	// issued bound to the user.
	if err := s.sessions.Flush(ctx, req.PriorToken); err != nil {
		return nil, fmt.Errorf("flush prior session: %w", err)
	}
	token, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.emit(model.EventLoginSuccess, &user.ID, req.ClientID, "")
	return &LoginResult{
		Outcome:      OutcomeSuccess,
		UserID:       user.ID,
		SessionToken: token,
	}, nil
}

// checkLockout evaluates the lockout state of a user, applying the lazy
// unlock transition when the lock has expired. The failed-attempt counter is
// left untouched by an expiry; only a successful login clears it.
func (s *Service) checkLockout(ctx context.Context, user *model.User) (bool, error) {
	if !user.IsLocked {
		return false, nil
	}

	now := s.now()
	if user.LockedUntil != nil && !now.Before(*user.LockedUntil) {
		if _, err := s.store.ClearExpiredLock(ctx, user.ID, now); err != nil {
			return true, err
		}
		user.IsLocked = false
		user.LockedUntil = nil
		return false, nil
	}
	return true, nil
}

// RegistrationRequest carries one registration attempt.
type RegistrationRequest struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	ClientID        string
}

// RegistrationResult is the outcome of a registration attempt. Unlike login,
// Reason is specific: registration failures are not an account-disclosure
// risk and the user needs to know what to fix.
type RegistrationResult struct {
	Outcome Outcome
	Reason  string
	UserID  int64
}

// AttemptRegistration runs the registration flow: rate limit, username
// format, email format, password policy (with similarity checks against the
// username and email local-part), confirmation equality, then uniqueness,
// then creation with a bcrypt hash. Each check fails the attempt
// immediately.
func (s *Service) AttemptRegistration(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	limited, err := s.limiter.IsLimited(ctx, req.ClientID, ActionRegister, s.policy.RegisterLimit, s.policy.RegisterWindow)
	if err != nil {
		return nil, err
	}
	if limited {
		s.emit(model.EventRegisterRateLimited, nil, req.ClientID, "")
		return &RegistrationResult{Outcome: OutcomeRateLimited, Reason: MsgRateLimited}, nil
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	if err := ValidateUsername(req.Username); err != nil {
		return s.reject(req.ClientID, OutcomeValidationFailed, err.Error()), nil
	}
	if err := ValidateEmail(email); err != nil {
		return s.reject(req.ClientID, OutcomeValidationFailed, err.Error()), nil
	}
	if err := ValidatePassword(req.Password, req.Username, email); err != nil {
		return s.reject(req.ClientID, OutcomeValidationFailed, err.Error()), nil
	}
	if req.Password != req.ConfirmPassword {
		return s.reject(req.ClientID, OutcomeMismatch, MsgPasswordMismatch), nil
	}

	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		return s.reject(req.ClientID, OutcomeDuplicateUsername, "Username already exists! Please choose another."), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("registration username check: %w", err)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return s.reject(req.ClientID, OutcomeDuplicateEmail, "Email already registered! Please use another or login."), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("registration email check: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     req.Username,
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		// A concurrent registrant may win the race between the uniqueness
		// check and the insert; the constraint violation is the authority.
		switch {
		case errors.Is(err, store.ErrDuplicateUsername):
			return s.reject(req.ClientID, OutcomeDuplicateUsername, "Username already exists! Please choose another."), nil
		case errors.Is(err, store.ErrDuplicateEmail):
			return s.reject(req.ClientID, OutcomeDuplicateEmail, "Email already registered! Please use another or login."), nil
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.emit(model.EventRegisterSuccess, &user.ID, req.ClientID, "")
	return &RegistrationResult{Outcome: OutcomeSuccess, Reason: "Registration successful! Please login with your credentials.", UserID: user.ID}, nil
}

func (s *Service) reject(clientID string, outcome Outcome, reason string) *RegistrationResult {
	s.emit(model.EventRegisterRejected, nil, clientID, string(outcome))
	return &RegistrationResult{Outcome: outcome, Reason: reason}
}

// Logout flushes the presented session and records the event.
func (s *Service) Logout(ctx context.Context, token, clientID string, userID *int64) error {
	if err := s.sessions.Flush(ctx, token); err != nil {
		return err
	}
	s.emit(model.EventLogout, userID, clientID, "")
	return nil
}

// Unlock is the administrative override: all three lockout fields reset as
// one unit, regardless of the current state.
func (s *Service) Unlock(ctx context.Context, userID int64, clientID string) error {
	if err := s.store.ResetLockout(ctx, userID); err != nil {
		return err
	}
	s.emit(model.EventAdminUnlock, &userID, clientID, "")
	return nil
}

// ResetAttempts is an alias for Unlock kept for the admin API surface; the
// three lockout fields always reset together.
func (s *Service) ResetAttempts(ctx context.Context, userID int64, clientID string) error {
	if err := s.store.ResetLockout(ctx, userID); err != nil {
		return err
	}
	s.emit(model.EventAdminResetAttempts, &userID, clientID, "")
	return nil
}

// SetActive enables or disables an account. Deactivation also flushes every
// session the account holds.
func (s *Service) SetActive(ctx context.Context, userID int64, active bool, clientID string) error {
	if err := s.store.SetUserActive(ctx, userID, active); err != nil {
		return err
	}
	if !active {
		if err := s.sessions.FlushUser(ctx, userID); err != nil {
			return err
		}
	}
	s.emit(model.EventAdminSetActive, &userID, clientID, fmt.Sprintf("active=%t", active))
	return nil
}

// emit records exactly one security event for an outcome. Details never
// include credentials.
func (s *Service) emit(eventType string, userID *int64, clientID, details string) {
	s.sink.Record(model.SecurityEvent{
		EventType: eventType,
		UserID:    userID,
		ClientID:  clientID,
		Details:   details,
		CreatedAt: s.now().UTC(),
	})
}
