package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Lock order is
// always store mutex first, then the ledger's internal lock via AppendAtomic,
// so a status write and its audit entry commit as one unit.
type InMemory struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	ledger   *audit.InMemory
	now      func() time.Time
}

// NewInMemory creates a store backed by the given ledger.
func NewInMemory(ledger *audit.InMemory) *InMemory {
	return &InMemory{
		entities: make(map[string]*Entity),
		ledger:   ledger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *InMemory) WithClock(fn func() time.Time) *InMemory {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemory) Create(ctx context.Context, entity *Entity) error {
	if entity.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if _, ok := ParseEntityType(string(entity.Type)); !ok {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, entity.Type)
	}
	if entity.TaxYear < 1900 {
		return fmt.Errorf("%w: tax year %d", ErrInvalidInput, entity.TaxYear)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entity.ID == "" {
		entity.ID = ids.New()
	}
	if entity.Status == "" {
		entity.Status = StatusNotStarted
	}
	if entity.Extension == "" {
		entity.Extension = ExtensionNone
	}
	now := s.now()
	entity.CreatedAt = now
	entity.UpdatedAt = now

	cp := *entity
	s.entities[cp.ID] = &cp
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return *e, nil
}

func (s *InMemory) CommitTransition(ctx context.Context, entityID string, observed, target Status, entry audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return audit.Entry{}, ErrNotFound
	}

	entry.EntityID = entityID
	entry.Type = audit.TypeStatusChange
	entry.OldValue = string(observed)
	entry.NewValue = string(target)
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now()
	}

	_, err := s.ledger.AppendAtomic(ctx, &entry, func() error {
		if e.Status != observed {
			return ErrConcurrentModification
		}
		e.Status = target
		e.UpdatedAt = entry.OccurredAt
		return nil
	})
	if err != nil {
		return audit.Entry{}, err
	}
	return entry, nil
}

func (s *InMemory) CommitExtension(ctx context.Context, entityID string, observed, target ExtensionState, update ExtensionUpdate, entry audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return audit.Entry{}, ErrNotFound
	}

	entry.EntityID = entityID
	entry.Type = audit.TypeUserAction
	entry.OldValue = "extension:" + string(observed)
	entry.NewValue = "extension:" + string(target)
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now()
	}

	_, err := s.ledger.AppendAtomic(ctx, &entry, func() error {
		if e.Extension != observed {
			return ErrConcurrentModification
		}
		e.Extension = target
		if target == ExtensionFiled && e.ExtensionDueDate.IsZero() {
			e.ExtensionDueDate = update.DueDate
			e.ExtensionDocRef = update.DocRef
		}
		e.UpdatedAt = entry.OccurredAt
		return nil
	})
	if err != nil {
		return audit.Entry{}, err
	}
	return entry, nil
}

func (s *InMemory) SetRestricted(ctx context.Context, entityID string, restricted bool, entry audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return audit.Entry{}, ErrNotFound
	}

	entry.EntityID = entityID
	entry.Type = audit.TypeUserAction
	entry.OldValue = fmt.Sprintf("restricted:%t", e.IsRestricted)
	entry.NewValue = fmt.Sprintf("restricted:%t", restricted)
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now()
	}

	_, err := s.ledger.AppendAtomic(ctx, &entry, func() error {
		e.IsRestricted = restricted
		e.UpdatedAt = entry.OccurredAt
		return nil
	})
	if err != nil {
		return audit.Entry{}, err
	}
	return entry, nil
}

var _ Store = (*InMemory)(nil)
