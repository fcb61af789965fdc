package sla

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"taxdesk.org/internal/ids"
)

// InMemoryThreads implements ThreadStore for tests and single-node runs.
type InMemoryThreads struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	order   []string
}

// NewInMemoryThreads creates an empty thread store.
func NewInMemoryThreads() *InMemoryThreads {
	return &InMemoryThreads{threads: make(map[string]*Thread)}
}

func (s *InMemoryThreads) Create(ctx context.Context, thread *Thread) error {
	if thread.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}
	if thread.TaxYear < 1900 {
		return fmt.Errorf("%w: tax year %d", ErrInvalidInput, thread.TaxYear)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if thread.ID == "" {
		thread.ID = ids.New()
	}
	if thread.Status == "" {
		thread.Status = StatusOK
	}
	cp := *thread
	s.threads[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return nil
}

func (s *InMemoryThreads) Get(ctx context.Context, id string) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return Thread{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemoryThreads) RecordInbound(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(t.LastInboundAt) {
		t.LastInboundAt = at.UTC()
	}
	return nil
}

func (s *InMemoryThreads) RecordOutbound(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(t.LastOutboundAt) {
		t.LastOutboundAt = at.UTC()
	}
	return nil
}

func (s *InMemoryThreads) SetStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *InMemoryThreads) List(ctx context.Context) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.threads[id])
	}
	return out, nil
}

var _ ThreadStore = (*InMemoryThreads)(nil)

// InMemoryReminders implements ReminderStore.
type InMemoryReminders struct {
	mu        sync.RWMutex
	reminders map[string]*Reminder
	now       func() time.Time
}

// NewInMemoryReminders creates an empty reminder store.
func NewInMemoryReminders() *InMemoryReminders {
	return &InMemoryReminders{
		reminders: make(map[string]*Reminder),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *InMemoryReminders) WithClock(fn func() time.Time) *InMemoryReminders {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemoryReminders) Create(ctx context.Context, r *Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	cp := *r
	s.reminders[cp.ID] = &cp
	return nil
}

func (s *InMemoryReminders) Get(ctx context.Context, id string) (Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reminders[id]
	if !ok {
		return Reminder{}, ErrNotFound
	}
	return *r, nil
}

func (s *InMemoryReminders) Update(ctx context.Context, r *Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[r.ID]; !ok {
		return ErrNotFound
	}
	r.UpdatedAt = s.now()
	cp := *r
	s.reminders[cp.ID] = &cp
	return nil
}

func (s *InMemoryReminders) ListDue(ctx context.Context, now time.Time) ([]Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reminder
	for _, r := range s.reminders {
		if r.Status == ReminderPending && !r.NextSendAt.After(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextSendAt.Equal(out[j].NextSendAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextSendAt.Before(out[j].NextSendAt)
	})
	return out, nil
}

var _ ReminderStore = (*InMemoryReminders)(nil)

// InMemoryDeliveryLog implements DeliveryLog.
type InMemoryDeliveryLog struct {
	mu       sync.RWMutex
	attempts []DeliveryAttempt
}

// NewInMemoryDeliveryLog creates an empty delivery log.
func NewInMemoryDeliveryLog() *InMemoryDeliveryLog {
	return &InMemoryDeliveryLog{}
}

func (l *InMemoryDeliveryLog) Record(ctx context.Context, a DeliveryAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
	return nil
}

// Attempts returns a copy of everything recorded so far.
func (l *InMemoryDeliveryLog) Attempts() []DeliveryAttempt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]DeliveryAttempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}

var _ DeliveryLog = (*InMemoryDeliveryLog)(nil)
