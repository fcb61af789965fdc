package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/audit"
)

// handleAuditQuery serves the ledger read side. Permission-change history is
// limited to super admins; everything else needs plain entity read access.
func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		EntityID: strings.TrimSpace(q.Get("entity_id")),
		Type:     audit.EntryType(strings.TrimSpace(q.Get("type"))),
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		filter.From = ts
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
		filter.To = ts
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}

	action := access.ActionEntityRead
	if filter.Type == audit.TypePermissionChange {
		action = access.ActionReadPermissionAudit
	}
	resource := access.Resource{ID: "audit"}
	if filter.EntityID != "" {
		var err error
		resource, err = a.workflows.Resource(r.Context(), filter.EntityID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
	}

	decision, err := a.authority.Authorize(r.Context(), actor, action, resource)
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

	entries, err := a.ledger.Query(r.Context(), filter)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"as_of": time.Now().UTC(),
	})
}
