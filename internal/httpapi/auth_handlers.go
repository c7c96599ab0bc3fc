package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"distress.org/internal/audit"
	"distress.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	SubjectID string    `json:"subject_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.users.Authenticate(r.Context(), email, req.Password)
	if err != nil {
		// A single 401 for every failure mode keeps credential probing blind.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, id, err := a.tokens.Issue(*user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issue failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"subject_id": id.SubjectID,
		"role":       string(id.Role),
		"expires_at": id.ExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		SubjectID: id.SubjectID,
		Role:      string(id.Role),
		ExpiresAt: id.ExpiresAt,
	})
}

// handleRefresh exchanges a valid or recently expired token for a fresh one.
// The subject must still be an active user; the old session is revoked so the
// previous token cannot be replayed for its remaining lifetime.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	id, err := a.tokens.Verify(raw)
	switch {
	case err == nil:
		// Still valid; retire the old session before reissuing.
		if err := a.tokens.Revoke(raw); err != nil {
			writeError(w, r, http.StatusInternalServerError, "token refresh failed")
			return
		}
	case errors.Is(err, auth.ErrExpiredToken):
		id, err = a.tokens.DecodeExpired(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
	default:
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	user, err := a.users.ActiveUser(r.Context(), id.SubjectID)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "subject no longer active")
		return
	}

	token, newID, err := a.tokens.Issue(*user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issue failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.refreshed", map[string]any{
		"subject_id": newID.SubjectID,
		"role":       string(newID.Role),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		SubjectID: newID.SubjectID,
		Role:      string(newID.Role),
		ExpiresAt: newID.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.tokens.Revoke(token); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.revoked", nil)

	w.WriteHeader(http.StatusNoContent)
}
