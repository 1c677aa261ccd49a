package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Input policy bounds. Username and password limits match the account
// creation forms; the email cap is the RFC 5321 address limit.
const (
	usernameMinLen = 3
	usernameMaxLen = 30
	emailMaxLen    = 254
	passwordMinLen = 12
	passwordMaxLen = 128
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	upperPattern  = regexp.MustCompile(`[A-Z]`)
	lowerPattern  = regexp.MustCompile(`[a-z]`)
	digitPattern  = regexp.MustCompile(`\d`)
	symbolPattern = regexp.MustCompile(`[!@#$%^&*()_+=\-\[\]{};:'",.<>?/\\|` + "`" + `~]`)
)

// ValidateUsername checks a username against the account policy: non-empty,
// 3-30 characters, letters, digits, underscores, and dashes only. Returns
// nil when valid, otherwise an error whose message is safe to show to the
// user.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(username) < usernameMinLen {
		return fmt.Errorf("username must be at least %d characters long", usernameMinLen)
	}
	if len(username) > usernameMaxLen {
		return fmt.Errorf("username must not exceed %d characters", usernameMaxLen)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username can only contain letters, numbers, underscores, and dashes")
	}
	return nil
}

// ValidateEmail checks an email address: non-empty, at most 254 characters,
// and a local@domain.tld shape with a 2+ character TLD.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > emailMaxLen {
		return fmt.Errorf("email address is too long")
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("please enter a valid email address")
	}
	return nil
}

// ValidatePassword checks password strength: 12-128 characters with at least
// one uppercase letter, one lowercase letter, one digit, and one symbol, and
// not containing the username or the email local-part (case-insensitive).
// Checks run in a fixed order and the first violation is returned; callers
// surface exactly one reason per attempt. Pass empty strings to skip the
// similarity checks.
func ValidatePassword(password, username, email string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) < passwordMinLen {
		return fmt.Errorf("password must be at least %d characters long", passwordMinLen)
	}
	if len(password) > passwordMaxLen {
		return fmt.Errorf("password must not exceed %d characters", passwordMaxLen)
	}
	if !upperPattern.MatchString(password) {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !lowerPattern.MatchString(password) {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !digitPattern.MatchString(password) {
		return fmt.Errorf("password must contain at least one digit")
	}
	if !symbolPattern.MatchString(password) {
		return fmt.Errorf("password must contain at least one special character (!@#$%%^&*...)")
	}

	lowered := strings.ToLower(password)
	if username != "" && strings.Contains(lowered, strings.ToLower(username)) {
		return fmt.Errorf("password is too similar to your username")
	}
	if email != "" {
		// Only the local-part is compared; the domain is shared across many
		// accounts and would make common passwords fail spuriously.
		local, _, _ := strings.Cut(email, "@")
		if local != "" && strings.Contains(lowered, strings.ToLower(local)) {
			return fmt.Errorf("password is too similar to your email address")
		}
	}
	return nil
}

var sanitizer = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Sanitize escapes the HTML-significant characters < > " ' for output paths
// that do not escape themselves. Apply exactly once per output: escaping an
// already-sanitized string double-encodes it.
func Sanitize(s string) string {
	return sanitizer.Replace(s)
}
