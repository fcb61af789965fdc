package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/auth"
	"taxdesk.org/internal/sla"
	"taxdesk.org/internal/workflow"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps domain sentinels onto HTTP statuses. Conflicts
// (illegal transitions, failed gates, lost races) are 409: the request was
// well-formed and permitted, the entity's state just disagrees.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var notReady *workflow.NotReadyError
	if errors.As(err, &notReady) {
		writeErrorPayload(w, r, http.StatusConflict, map[string]any{
			"error":   "entity not ready",
			"reasons": notReady.Reasons,
		})
		return
	}
	var denied *workflow.UnauthorizedError
	if errors.As(err, &denied) {
		writeErrorPayload(w, r, http.StatusForbidden, map[string]any{
			"error":  "forbidden",
			"reason": denied.Reason,
		})
		return
	}

	switch {
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrConcurrentModification):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrUnauthorized),
		errors.Is(err, access.ErrUnauthorized),
		errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, workflow.ErrNotFound),
		errors.Is(err, access.ErrNotFound),
		errors.Is(err, auth.ErrNotFound),
		errors.Is(err, sla.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrInvalidInput),
		errors.Is(err, access.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrAlreadyExists),
		errors.Is(err, sla.ErrInvalidInput),
		errors.Is(err, audit.ErrInvalidEntry):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorPayload(w, r, code, map[string]any{"error": msg})
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
