package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mangadox/mangadox/internal/model"
	"github.com/mangadox/mangadox/internal/security"
	"github.com/mangadox/mangadox/internal/server/middleware"
	"github.com/mangadox/mangadox/internal/store"
)

// AdminHandler exposes account management to administrators: listing users,
// unlocking accounts, resetting counters, and toggling active state. All of
// it sits behind Authenticate + RequireAdmin.
type AdminHandler struct {
	svc    *security.Service
	users  *store.Store
	tokens *security.TokenService
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc *security.Service, users *store.Store, tokens *security.TokenService) *AdminHandler {
	return &AdminHandler{svc: svc, users: users, tokens: tokens}
}

type adminLoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
}

// Login authenticates an admin through the full login flow (rate limiting
// and lockout included) and returns a bearer token for the admin API.
// POST /api/v1/admin/session
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.svc.AttemptLogin(r.Context(), security.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		ClientID: middleware.ClientID(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	switch result.Outcome {
	case security.OutcomeSuccess:
		// fall through below
	case security.OutcomeRateLimited, security.OutcomeAccountLocked:
		writeError(w, http.StatusForbidden, result.Reason)
		return
	default:
		writeError(w, http.StatusUnauthorized, security.MsgInvalidCredentials)
		return
	}

	user, err := h.users.GetUser(r.Context(), result.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}
	if !user.IsAdmin {
		writeError(w, http.StatusForbidden, "Admin access required")
		return
	}

	token, err := h.tokens.Issue(security.TokenPrincipal{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, adminLoginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.tokens.TTL().Seconds()),
		UserID:    user.ID,
		Username:  user.Username,
	})
}

// ListUsers returns accounts, newest first.
// GET /api/v1/admin/user
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	users, err := h.users.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: users,
		Meta:     &model.ResponseMeta{Count: len(users), Limit: limit, Offset: offset},
	})
}

// GetUser returns one account by ID.
// GET /api/v1/admin/user/{userID}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Unlock resets the lockout state of an account unconditionally.
// POST /api/v1/admin/user/{userID}/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Unlock(r.Context(), id, middleware.ClientID(r)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to unlock user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ResetAttempts clears the failed-attempt counter (and with it any lock).
// POST /api/v1/admin/user/{userID}/reset-attempts
func (h *AdminHandler) ResetAttempts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.svc.ResetAttempts(r.Context(), id, middleware.ClientID(r)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to reset attempts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// SetActive enables or disables an account.
// POST /api/v1/admin/user/{userID}/activate
// POST /api/v1/admin/user/{userID}/deactivate
func (h *AdminHandler) SetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.userID(w, r)
		if !ok {
			return
		}

		if err := h.svc.SetActive(r.Context(), id, active, middleware.ClientID(r)); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "User not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to update user")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "is_active": active})
	}
}

// ListEvents returns recent security events, newest first.
// GET /api/v1/admin/event
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	events, err := h.users.ListEvents(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: events,
		Meta:     &model.ResponseMeta{Count: len(events), Limit: limit, Offset: offset},
	})
}

func (h *AdminHandler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return 0, false
	}
	return id, true
}
