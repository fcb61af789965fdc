package workflow

import (
	"context"
	"time"

	"taxdesk.org/internal/audit"
)

// ExtensionUpdate carries the fields written exactly once when an extension
// is filed.
type ExtensionUpdate struct {
	DueDate time.Time
	DocRef  string
}

// Store persists entities. Commit operations are compare-and-swap: the write
// happens only if the entity's state still matches what the caller observed,
// and the audit entry lands in the same atomic unit, so a transition is never
// observably half-applied. A failed condition is ErrConcurrentModification.
type Store interface {
	Create(ctx context.Context, entity *Entity) error
	Get(ctx context.Context, id string) (Entity, error)

	// CommitTransition sets status conditioned on the observed status and
	// appends the entry atomically. Returns the appended entry.
	CommitTransition(ctx context.Context, entityID string, observed, target Status, entry audit.Entry) (audit.Entry, error)

	// CommitExtension advances the extension sub-state the same way. The
	// update is applied only on the requested→filed step.
	CommitExtension(ctx context.Context, entityID string, observed, target ExtensionState, update ExtensionUpdate, entry audit.Entry) (audit.Entry, error)

	// SetRestricted flips the restricted-ACL flag, audited as a user action.
	SetRestricted(ctx context.Context, entityID string, restricted bool, entry audit.Entry) (audit.Entry, error)
}
