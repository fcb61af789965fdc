package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"taxdesk.org/internal/ids"
)

// InMemory implements Ledger with in-process concurrency safety. Appends for
// the same entity are serialized under the ledger mutex so per-entity history
// never interleaves.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
	seq     uint64
	now     func() time.Time
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source. Intended for tests.
func (l *InMemory) WithClock(fn func() time.Time) *InMemory {
	if fn != nil {
		l.now = fn
	}
	return l
}

func (l *InMemory) Append(ctx context.Context, entry *Entry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(entry), nil
}

// appendLocked assigns identity and sequence under the ledger lock. Callers
// that need a status write and its audit entry to commit as one unit hold the
// lock across both.
func (l *InMemory) appendLocked(entry *Entry) string {
	stored := *entry
	if stored.ID == "" {
		stored.ID = ids.New()
	}
	if stored.OccurredAt.IsZero() {
		stored.OccurredAt = l.now()
	}
	l.seq++
	stored.Seq = l.seq
	l.entries = append(l.entries, stored)
	*entry = stored
	return stored.ID
}

// AppendAtomic runs fn and, only if it succeeds, appends the entry in the
// same critical section. The workflow store uses this to keep "commit status,
// write audit" observably atomic.
func (l *InMemory) AppendAtomic(ctx context.Context, entry *Entry, fn func() error) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := fn(); err != nil {
		return "", err
	}
	return l.appendLocked(entry), nil
}

func (l *InMemory) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var res []Entry
	for _, e := range l.entries {
		if filter.Matches(e) {
			res = append(res, e)
		}
	}
	// Newest first; ties broken by insertion sequence.
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].OccurredAt.Equal(res[j].OccurredAt) {
			return res[i].Seq > res[j].Seq
		}
		return res[i].OccurredAt.After(res[j].OccurredAt)
	})
	if filter.Limit > 0 && len(res) > filter.Limit {
		res = res[:filter.Limit]
	}
	return res, nil
}

var _ Ledger = (*InMemory)(nil)
