// Package audit owns the append-only ledger of every governance-relevant
// state change. The ledger is the single source of truth for "what happened":
// no other component keeps its own history.
package audit

import (
	"context"
	"errors"
	"time"
)

// EntryType categorises what a ledger entry records.
type EntryType string

const (
	TypeStatusChange     EntryType = "status_change"
	TypePermissionChange EntryType = "permission_change"
	TypeDocumentEvent    EntryType = "document_event"
	TypeUserAction       EntryType = "user_action"
)

// SystemActor identifies entries written by the engine itself rather than a
// person (SLA recomputation, scheduled reminders).
const SystemActor = "system"

// Entry is an immutable ledger record. Created exactly once by a committing
// operation; never updated or deleted. Entries outlive the entities they
// describe.
type Entry struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	ActorID    string    `json:"actor_id"`
	Type       EntryType `json:"audit_type"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Details    string    `json:"details,omitempty"`

	// Seq is the insertion sequence, assigned by the ledger on append. It
	// breaks occurred-at ties so query ordering stays deterministic.
	Seq uint64 `json:"seq"`
}

// Filter narrows a ledger query. Zero values match everything.
type Filter struct {
	EntityID string
	Type     EntryType
	From     time.Time
	To       time.Time
	Limit    int
}

var (
	ErrInvalidEntry = errors.New("audit: invalid entry")
)

// Ledger is the append-only store contract. Append never fails for a
// well-formed entry except on storage I/O, which is fatal to the caller's
// operation: an operation that cannot guarantee its audit write must not
// report success. Query returns entries newest first (occurred_at descending,
// ties broken by insertion sequence descending).
type Ledger interface {
	Append(ctx context.Context, entry *Entry) (string, error)
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// Matches reports whether the entry satisfies the filter.
func (f Filter) Matches(e Entry) bool {
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.OccurredAt.After(f.To) {
		return false
	}
	return true
}

// Validate checks the fields a committing operation must supply.
func (e *Entry) Validate() error {
	if e == nil {
		return ErrInvalidEntry
	}
	if e.EntityID == "" || e.ActorID == "" {
		return ErrInvalidEntry
	}
	switch e.Type {
	case TypeStatusChange, TypePermissionChange, TypeDocumentEvent, TypeUserAction:
	default:
		return ErrInvalidEntry
	}
	return nil
}
