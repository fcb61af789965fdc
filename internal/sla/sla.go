// Package sla classifies the urgency of unanswered client communication and
// drives time-based reminders. Status is derived state: it can always be
// rebuilt from message timestamps, so recomputation is idempotent and safe to
// run more often than necessary.
package sla

import (
	"context"
	"errors"
	"time"

	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/obs"
)

// Status is the escalation level of a communication thread.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Escalation thresholds on the time since the last unanswered inbound
// client message.
const (
	WarningAfter  = 48 * time.Hour
	CriticalAfter = 72 * time.Hour
)

// Thread is one communication thread per entity and tax year. Timestamps are
// mutated only by message events; the status field is a cache of the derived
// classification, never set directly by a user action.
type Thread struct {
	ID             string    `json:"id"`
	EntityID       string    `json:"entity_id"`
	TaxYear        int       `json:"tax_year"`
	LastInboundAt  time.Time `json:"last_inbound_at,omitzero"`
	LastOutboundAt time.Time `json:"last_outbound_at,omitzero"`
	Status         Status    `json:"sla_status"`
}

var (
	ErrNotFound     = errors.New("sla: not found")
	ErrInvalidInput = errors.New("sla: invalid input")
)

// ThreadStore persists threads and their message timestamps.
type ThreadStore interface {
	Create(ctx context.Context, thread *Thread) error
	Get(ctx context.Context, id string) (Thread, error)
	RecordInbound(ctx context.Context, id string, at time.Time) error
	RecordOutbound(ctx context.Context, id string, at time.Time) error
	SetStatus(ctx context.Context, id string, status Status) error
	List(ctx context.Context) ([]Thread, error)
}

// Engine recomputes thread escalation state. Safe to run concurrently across
// distinct threads.
type Engine struct {
	threads ThreadStore
	ledger  audit.Ledger
	now     func() time.Time
}

// NewEngine wires the engine to its stores.
func NewEngine(threads ThreadStore, ledger audit.Ledger) *Engine {
	return &Engine{
		threads: threads,
		ledger:  ledger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Intended for tests.
func (e *Engine) WithClock(fn func() time.Time) *Engine {
	if fn != nil {
		e.now = fn
	}
	return e
}

// Classify derives the status from message timestamps alone.
func Classify(t Thread, now time.Time) Status {
	if t.LastInboundAt.IsZero() {
		return StatusOK
	}
	// An outbound staff message at or after the last inbound resets the clock.
	if !t.LastOutboundAt.IsZero() && !t.LastOutboundAt.Before(t.LastInboundAt) {
		return StatusOK
	}
	elapsed := now.Sub(t.LastInboundAt)
	switch {
	case elapsed < WarningAfter:
		return StatusOK
	case elapsed < CriticalAfter:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// Recompute rebuilds the cached status from timestamps. Escalation changes
// are recorded in the ledger under the system actor.
func (e *Engine) Recompute(ctx context.Context, threadID string) (Status, error) {
	t, err := e.threads.Get(ctx, threadID)
	if err != nil {
		return "", err
	}
	next := Classify(t, e.now())
	if next == t.Status {
		return next, nil
	}
	if err := e.threads.SetStatus(ctx, threadID, next); err != nil {
		return "", err
	}
	obs.ObserveSlaEscalation(string(next))
	if _, err := e.ledger.Append(ctx, &audit.Entry{
		EntityID:   t.EntityID,
		ActorID:    audit.SystemActor,
		Type:       audit.TypeUserAction,
		OldValue:   "sla:" + string(t.Status),
		NewValue:   "sla:" + string(next),
		OccurredAt: e.now(),
		Details:    "thread " + threadID,
	}); err != nil {
		return "", err
	}
	return next, nil
}

// OnInboundMessage records a client message and recomputes.
func (e *Engine) OnInboundMessage(ctx context.Context, threadID string, at time.Time) (Status, error) {
	if err := e.threads.RecordInbound(ctx, threadID, at); err != nil {
		return "", err
	}
	return e.Recompute(ctx, threadID)
}

// OnOutboundMessage records a staff response and recomputes.
func (e *Engine) OnOutboundMessage(ctx context.Context, threadID string, at time.Time) (Status, error) {
	if err := e.threads.RecordOutbound(ctx, threadID, at); err != nil {
		return "", err
	}
	return e.Recompute(ctx, threadID)
}

// RunAll recomputes every thread. Intended for the periodic schedule; being
// invoked more often than necessary is harmless.
func (e *Engine) RunAll(ctx context.Context) error {
	threads, err := e.threads.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range threads {
		if _, err := e.Recompute(ctx, t.ID); err != nil {
			return err
		}
	}
	return nil
}
