package httpapi

import (
	"net/http"
	"strings"
	"time"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/sla"
)

type createThreadRequest struct {
	EntityID string `json:"entity_id"`
	TaxYear  int    `json:"tax_year"`
}

type messageRequest struct {
	Direction string    `json:"direction"` // inbound | outbound
	SentAt    time.Time `json:"sent_at,omitzero"`
}

type createReminderRequest struct {
	EntityID string    `json:"entity_id"`
	Kind     string    `json:"kind"`
	SendAt   time.Time `json:"send_at"`
}

type rescheduleRequest struct {
	SendAt time.Time `json:"send_at"`
}

func (a *API) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createThreadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.authorizeEntityAction(w, r, actor, access.ActionMessageSend, req.EntityID) {
		return
	}
	thread := sla.Thread{
		EntityID: strings.TrimSpace(req.EntityID),
		TaxYear:  req.TaxYear,
	}
	if err := a.threads.Create(r.Context(), &thread); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/threads/"+thread.ID)
	writeJSON(w, http.StatusCreated, thread)
}

func (a *API) handleThreadScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/threads/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	parts := strings.Split(path, "/")
	threadID := parts[0]

	thread, err := a.threads.Get(r.Context(), threadID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "sla":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.authorizeEntityAction(w, r, actor, access.ActionEntityRead, thread.EntityID) {
			return
		}
		writeJSON(w, http.StatusOK, thread)

	case len(parts) == 2 && parts[1] == "recompute":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if !a.authorizeEntityAction(w, r, actor, access.ActionEntityRead, thread.EntityID) {
			return
		}
		status, err := a.engine.Recompute(r.Context(), threadID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"thread_id":  threadID,
			"sla_status": status,
		})

	case len(parts) == 2 && parts[1] == "messages":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if !a.authorizeEntityAction(w, r, actor, access.ActionMessageSend, thread.EntityID) {
			return
		}
		var req messageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		at := req.SentAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		var status sla.Status
		switch req.Direction {
		case "inbound":
			status, err = a.engine.OnInboundMessage(r.Context(), threadID, at)
		case "outbound":
			status, err = a.engine.OnOutboundMessage(r.Context(), threadID, at)
		default:
			writeError(w, r, http.StatusBadRequest, "direction must be inbound or outbound")
			return
		}
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"thread_id":  threadID,
			"sla_status": status,
		})

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleReminders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createReminderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.authorizeEntityAction(w, r, actor, access.ActionMessageSend, req.EntityID) {
		return
	}
	reminder, err := a.scheduler.Schedule(r.Context(), strings.TrimSpace(req.EntityID), sla.Kind(req.Kind), req.SendAt)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/reminders/"+reminder.ID)
	writeJSON(w, http.StatusCreated, reminder)
}

func (a *API) handleReminderScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/reminders/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	reminderID := parts[0]

	// Cancelling or rescheduling changes state for the reminder's entity, so
	// it is gated on that entity, not just on holding a valid token.
	reminder, err := a.reminders.Get(r.Context(), reminderID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !a.authorizeEntityAction(w, r, actor, access.ActionMessageSend, reminder.EntityID) {
		return
	}

	switch parts[1] {
	case "cancel":
		if err := a.scheduler.Cancel(r.Context(), reminderID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"reminder_id": reminderID,
			"status":      sla.ReminderDismissed,
		})
	case "reschedule":
		var req rescheduleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.scheduler.Reschedule(r.Context(), reminderID, req.SendAt); err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"reminder_id":  reminderID,
			"next_send_at": req.SendAt.UTC(),
		})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// authorizeEntityAction resolves the entity and checks the action against it.
// Writes the error response itself and reports whether to proceed. The
// resource always comes from the store so the restricted flag and owning
// account are authoritative; a failed lookup is an error, never a fallback to
// an unrestricted resource.
func (a *API) authorizeEntityAction(w http.ResponseWriter, r *http.Request, actor access.Actor, action access.Action, entityID string) bool {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		writeError(w, r, http.StatusBadRequest, "entity_id is required")
		return false
	}
	resource, err := a.workflows.Resource(r.Context(), entityID)
	if err != nil {
		handleDomainError(w, r, err)
		return false
	}
	decision, err := a.authority.Authorize(r.Context(), actor, action, resource)
	if err != nil {
		handleDomainError(w, r, err)
		return false
	}
	if !decision.Allow {
		writeErrorPayload(w, r, http.StatusForbidden, map[string]any{
			"error":  "forbidden",
			"reason": decision.Reason,
		})
		return false
	}
	return true
}
