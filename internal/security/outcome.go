package security

// Outcome classifies the result of a login or registration attempt. Policy
// outcomes are values, not errors: only infrastructure failures (store or
// counter store unreachable) propagate as Go errors, and those must be
// surfaced to the client as a generic failure.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeInvalidCredentials Outcome = "invalid_credentials"
	OutcomeAccountLocked      Outcome = "account_locked"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeValidationFailed   Outcome = "validation_failed"
	OutcomeMismatch           Outcome = "password_mismatch"
	OutcomeDuplicateUsername  Outcome = "duplicate_username"
	OutcomeDuplicateEmail     Outcome = "duplicate_email"
)

// User-facing messages. Login messages are deliberately generic so that no
// outcome reveals whether an account exists; registration messages are
// specific because they aid legitimate self-service.
const (
	MsgInvalidCredentials = "Invalid username or password."
	MsgAccountLocked      = "Account is temporarily locked due to multiple failed login attempts. Please try again later."
	MsgRateLimited        = "Too many attempts. Please try again later."
	MsgInvalidFormat      = "Invalid username format."
	MsgPasswordMismatch   = "Passwords do not match."
)
