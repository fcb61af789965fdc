package httpapi

import (
	"net/http"
	"strings"
	"time"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/auth"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type registerIdentityRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	AccountID string `json:"account_id"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	identity, err := a.identities.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		// Invalid credentials and unknown accounts answer identically.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(identity.ID, identity.Role, identity.AccountID, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"identity_id": identity.ID,
		"role":        identity.Role,
		"expires_at":  expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Role:      identity.Role,
		ExpiresAt: expiresAt,
	})
}

func (a *API) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	decision, err := a.authority.Authorize(r.Context(), actor, access.ActionManageStaff, access.Resource{ID: "identities"})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !decision.Allow {
		writeErrorPayload(w, r, http.StatusForbidden, map[string]any{
			"error":  "forbidden",
			"reason": decision.Reason,
		})
		return
	}

	var req registerIdentityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := a.identities.Register(r.Context(), req.Email, req.Password, req.Role, req.AccountID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.identity.registered", map[string]any{
		"identity_id": identity.ID,
		"role":        identity.Role,
	})
	w.Header().Set("Location", "/v1/identities/"+identity.ID)
	writeJSON(w, http.StatusCreated, identity)
}
