package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mangadox/mangadox/internal/security"
	"github.com/mangadox/mangadox/internal/session"
	"github.com/mangadox/mangadox/internal/store"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// SessionCookie is the name of the session cookie issued at login.
const SessionCookie = "mangadox_session"

// Principal represents the authenticated identity making the request.
type Principal struct {
	Type         string // "session" or "token"
	UserID       int64
	Username     string
	IsAdmin      bool
	SessionToken string // raw token when Type == "session"
}

// Authenticate returns an HTTP middleware that resolves the request's
// identity. It supports two methods:
//
//  1. Session cookie (browser clients, issued at login)
//  2. Bearer token via the Authorization header (admin API, CLI, scripts)
//
// On success, a Principal is attached to the request context. On failure,
// a 401 JSON error response is returned.
func Authenticate(sessions *session.Manager, tokens *security.TokenService, users *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			// Try the session cookie first.
			if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
				sess, err := sessions.Resolve(r.Context(), cookie.Value)
				if err != nil && !errors.Is(err, session.ErrNoSession) {
					writeAuthError(w, http.StatusInternalServerError, "Authentication unavailable")
					return
				}
				if err == nil {
					user, err := users.GetUser(r.Context(), sess.UserID)
					if err != nil || !user.IsActive {
						writeAuthError(w, http.StatusUnauthorized, "Session is no longer valid")
						return
					}
					principal = &Principal{
						Type:         "session",
						UserID:       user.ID,
						Username:     user.Username,
						IsAdmin:      user.IsAdmin,
						SessionToken: cookie.Value,
					}
				}
			}

			// Fall back to a bearer token.
			if principal == nil {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					tok := strings.TrimPrefix(authHeader, "Bearer ")
					p, err := tokens.Validate(tok)
					if err != nil {
						writeAuthError(w, http.StatusUnauthorized, "Invalid token")
						return
					}
					principal = &Principal{
						Type:     "token",
						UserID:   p.UserID,
						Username: p.Username,
						IsAdmin:  p.IsAdmin,
					}
				}
			}

			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Log in or provide a bearer token.")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"` + message + `"}}`))
}
