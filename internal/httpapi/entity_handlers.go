package httpapi

import (
	"net/http"
	"strings"

	"taxdesk.org/internal/workflow"
)

type createEntityRequest struct {
	AccountID string `json:"account_id"`
	Type      string `json:"entity_type"`
	TaxYear   int    `json:"tax_year"`
}

type transitionRequest struct {
	Target string `json:"target_status"`
	Reason string `json:"reason"`
}

type fileExtensionRequest struct {
	DocRef string `json:"doc_ref"`
}

type restrictRequest struct {
	Restricted bool `json:"restricted"`
}

func (a *API) handleEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createEntityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	typ, ok := workflow.ParseEntityType(req.Type)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown entity_type")
		return
	}

	entity := workflow.Entity{
		AccountID: strings.TrimSpace(req.AccountID),
		Type:      typ,
		TaxYear:   req.TaxYear,
	}
	if err := a.workflows.Create(r.Context(), actor, &entity); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/entities/"+entity.ID)
	writeJSON(w, http.StatusCreated, entity)
}

func (a *API) handleEntityScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/entities/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	parts := strings.Split(path, "/")
	entityID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		entity, err := a.workflows.Get(r.Context(), actor, entityID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entity)

	case len(parts) == 2 && parts[1] == "readiness":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		result, err := a.workflows.EvaluateReadiness(r.Context(), actor, entityID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 2 && parts[1] == "transition":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req transitionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		result, err := a.workflows.Transition(r.Context(), actor, entityID, workflow.Status(req.Target), req.Reason)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 3 && parts[1] == "extension" && parts[2] == "request":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		entity, err := a.workflows.RequestExtension(r.Context(), actor, entityID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entity)

	case len(parts) == 3 && parts[1] == "extension" && parts[2] == "file":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req fileExtensionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		entity, err := a.workflows.FileExtension(r.Context(), actor, entityID, req.DocRef)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entity)

	case len(parts) == 2 && parts[1] == "restrict":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req restrictRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.workflows.SetRestricted(r.Context(), actor, entityID, req.Restricted); err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entity_id":  entityID,
			"restricted": req.Restricted,
		})

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
