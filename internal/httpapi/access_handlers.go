package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/workflow"
)

type authorizeRequest struct {
	Action       string `json:"action"`
	EntityID     string `json:"entity_id"`
	AccountID    string `json:"account_id"`
	IsRestricted bool   `json:"is_restricted"`
}

type createGrantRequest struct {
	ActorID  string `json:"actor_id"`
	EntityID string `json:"entity_id"`
	Type     string `json:"grant_type"`
}

// handleAuthorize evaluates a decision without performing anything. Useful
// for UIs that grey out controls before the user tries them.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	resource := access.Resource{
		ID:           strings.TrimSpace(req.EntityID),
		AccountID:    strings.TrimSpace(req.AccountID),
		IsRestricted: req.IsRestricted,
	}
	if resource.ID != "" {
		// The stored entity overrides caller-supplied resource fields; the
		// caller's account/restricted claims apply only to ids the store does
		// not know (dry runs against hypothetical resources).
		stored, err := a.workflows.Resource(r.Context(), resource.ID)
		switch {
		case err == nil:
			resource = stored
		case errors.Is(err, workflow.ErrNotFound):
		default:
			handleDomainError(w, r, err)
			return
		}
	}

	decision, err := a.authority.Authorize(r.Context(), actor, access.Action(req.Action), resource)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createGrant(w, r)
	case http.MethodGet:
		a.listGrants(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) createGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	grant, err := a.authority.Grant(r.Context(), actor, access.Grant{
		ActorID:  strings.TrimSpace(req.ActorID),
		EntityID: strings.TrimSpace(req.EntityID),
		Type:     access.GrantType(req.Type),
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/grants/"+grant.ID)
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	decision, err := a.authority.Authorize(r.Context(), actor, access.ActionManageEntities, access.Resource{ID: "grants"})
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

	grants, err := a.authority.List(r.Context(),
		strings.TrimSpace(r.URL.Query().Get("actor_id")),
		strings.TrimSpace(r.URL.Query().Get("entity_id")))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": grants})
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/grants/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := a.authority.Revoke(r.Context(), actor, id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
