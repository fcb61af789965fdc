package access

import (
	"context"
	"sync"
)

// InMemoryGrants implements GrantStore with in-process concurrency safety.
type InMemoryGrants struct {
	mu     sync.RWMutex
	byID   map[string]Grant
	insert []string // preserves grant creation order for listings
}

// NewInMemoryGrants creates an empty grant store.
func NewInMemoryGrants() *InMemoryGrants {
	return &InMemoryGrants{byID: make(map[string]Grant)}
}

func (s *InMemoryGrants) Create(ctx context.Context, grant *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[grant.ID] = *grant
	s.insert = append(s.insert, grant.ID)
	return nil
}

func (s *InMemoryGrants) Find(ctx context.Context, id string) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.byID[id]
	if !ok {
		return Grant{}, ErrNotFound
	}
	return grant, nil
}

func (s *InMemoryGrants) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *InMemoryGrants) ListByActor(ctx context.Context, actorID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for _, id := range s.insert {
		if g, ok := s.byID[id]; ok && g.ActorID == actorID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *InMemoryGrants) ListByEntity(ctx context.Context, entityID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for _, id := range s.insert {
		if g, ok := s.byID[id]; ok && g.EntityID == entityID {
			out = append(out, g)
		}
	}
	return out, nil
}

var _ GrantStore = (*InMemoryGrants)(nil)
