package handler

import (
	"net/http"
	"time"

	"github.com/mangadox/mangadox/internal/security"
	"github.com/mangadox/mangadox/internal/server/middleware"
	"github.com/mangadox/mangadox/internal/session"
	"github.com/mangadox/mangadox/internal/store"
)

// AuthHandler exposes the login, registration, and logout flows over HTTP.
// It translates security outcomes into status codes and owns the session
// cookie; all policy decisions live in the security service.
type AuthHandler struct {
	svc      *security.Service
	sessions *session.Manager
	users    *store.Store
	ttl      time.Duration
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc *security.Service, sessions *session.Manager, users *store.Store, sessionTTL time.Duration) *AuthHandler {
	if sessionTTL <= 0 {
		sessionTTL = session.DefaultTTL
	}
	return &AuthHandler{svc: svc, sessions: sessions, users: users, ttl: sessionTTL}
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Register creates a new account.
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.svc.AttemptRegistration(r.Context(), security.RegistrationRequest{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		ClientID:        middleware.ClientID(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	switch result.Outcome {
	case security.OutcomeSuccess:
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"user_id": result.UserID,
			"message": result.Reason,
		})
	case security.OutcomeRateLimited:
		writeError(w, http.StatusForbidden, result.Reason)
	case security.OutcomeDuplicateUsername, security.OutcomeDuplicateEmail:
		writeError(w, http.StatusConflict, result.Reason)
	default: // validation failure, password mismatch
		writeError(w, http.StatusBadRequest, result.Reason)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	SessionToken string `json:"session_token"`
	Message      string `json:"message"`
}

// Login authenticates a user and establishes a fresh session.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.svc.AttemptLogin(r.Context(), security.LoginRequest{
		Username:   req.Username,
		Password:   req.Password,
		ClientID:   middleware.ClientID(r),
		PriorToken: priorToken(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	switch result.Outcome {
	case security.OutcomeSuccess:
		h.setSessionCookie(w, result.SessionToken)
		writeJSON(w, http.StatusOK, loginResponse{
			UserID:       result.UserID,
			Username:     req.Username,
			SessionToken: result.SessionToken,
			Message:      "Welcome back, " + security.Sanitize(req.Username) + "!",
		})
	case security.OutcomeValidationFailed:
		writeError(w, http.StatusBadRequest, result.Reason)
	case security.OutcomeInvalidCredentials:
		if result.Locked {
			// The account is locked now; which attempt locked it is not said.
			writeError(w, http.StatusForbidden, security.MsgAccountLocked)
			return
		}
		writeError(w, http.StatusUnauthorized, result.Reason)
	case security.OutcomeAccountLocked, security.OutcomeRateLimited:
		writeError(w, http.StatusForbidden, result.Reason)
	default:
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

// Logout flushes the presented session. POST-only so a cross-site GET cannot
// log a user out.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := priorToken(r)

	var userID *int64
	if sess, err := h.sessions.Resolve(r.Context(), token); err == nil {
		userID = &sess.UserID
	}

	if err := h.svc.Logout(r.Context(), token, middleware.ClientID(r), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Logged out successfully!",
	})
}

// Me returns the authenticated user's own record.
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.users.GetUser(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// priorToken extracts the session token the client presented, preferring the
// cookie over a bearer-style header.
func priorToken(r *http.Request) string {
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
