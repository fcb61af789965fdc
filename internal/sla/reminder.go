package sla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taxdesk.org/internal/obs"
)

// Kind identifies what a reminder nags about.
type Kind string

const (
	KindChecklist       Kind = "checklist"
	KindEngagement      Kind = "engagement"
	KindFilingReadiness Kind = "filing_readiness"
)

// ParseKind validates a reminder kind string.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindChecklist, KindEngagement, KindFilingReadiness:
		return Kind(s), true
	}
	return "", false
}

// ReminderStatus is the lifecycle state of a reminder. Failed and bounced are
// terminal; only a pending reminder can be sent, dismissed or rescheduled.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderDismissed ReminderStatus = "dismissed"
	ReminderFailed    ReminderStatus = "failed"
	ReminderBounced   ReminderStatus = "bounced"
)

// Reminder is a scheduled nudge tied to an entity. LastSentFor records which
// scheduled occurrence was delivered, which is what makes dispatch idempotent
// when the scheduler overlaps itself.
type Reminder struct {
	ID          string         `json:"id"`
	EntityID    string         `json:"entity_id"`
	Kind        Kind           `json:"kind"`
	Status      ReminderStatus `json:"status"`
	NextSendAt  time.Time      `json:"next_send_at"`
	SendCount   int            `json:"send_count"`
	Attempts    int            `json:"attempts"`
	LastSentFor time.Time      `json:"last_sent_for,omitzero"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ReminderStore persists reminders.
type ReminderStore interface {
	Create(ctx context.Context, r *Reminder) error
	Get(ctx context.Context, id string) (Reminder, error)
	Update(ctx context.Context, r *Reminder) error
	// ListDue returns pending reminders whose NextSendAt is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]Reminder, error)
}

// Mailer delivers one reminder. ErrBounced signals a permanent recipient
// failure and short-circuits retries.
type Mailer interface {
	Send(ctx context.Context, r Reminder) error
}

// ErrBounced is returned by a Mailer when the recipient address rejected the
// message permanently.
var ErrBounced = errors.New("sla: recipient bounced")

// DeliveryAttempt is one row of the delivery log.
type DeliveryAttempt struct {
	ReminderID string    `json:"reminder_id"`
	At         time.Time `json:"at"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// DeliveryLog records every delivery attempt, successful or not.
type DeliveryLog interface {
	Record(ctx context.Context, a DeliveryAttempt) error
}

// maxDeliveryAttempts bounds transient retries before a reminder goes
// terminally failed.
const maxDeliveryAttempts = 3

// Scheduler dispatches due reminders through a Mailer and keeps the delivery
// log. One Run call processes everything due at that instant; running again
// for the same occurrence is a no-op.
type Scheduler struct {
	reminders  ReminderStore
	mailer     Mailer
	deliveries DeliveryLog
	now        func() time.Time
}

// NewScheduler wires the scheduler to its collaborators.
func NewScheduler(reminders ReminderStore, mailer Mailer, deliveries DeliveryLog) *Scheduler {
	return &Scheduler{
		reminders:  reminders,
		mailer:     mailer,
		deliveries: deliveries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *Scheduler) WithClock(fn func() time.Time) *Scheduler {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Schedule creates a pending reminder.
func (s *Scheduler) Schedule(ctx context.Context, entityID string, kind Kind, at time.Time) (Reminder, error) {
	if entityID == "" {
		return Reminder{}, fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}
	if _, ok := ParseKind(string(kind)); !ok {
		return Reminder{}, fmt.Errorf("%w: unknown reminder kind %q", ErrInvalidInput, kind)
	}
	if at.IsZero() {
		return Reminder{}, fmt.Errorf("%w: send time is required", ErrInvalidInput)
	}
	r := Reminder{
		EntityID:   entityID,
		Kind:       kind,
		Status:     ReminderPending,
		NextSendAt: at.UTC(),
	}
	if err := s.reminders.Create(ctx, &r); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

// Cancel dismisses a pending reminder. Dismissing anything else is an error.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	r, err := s.reminders.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != ReminderPending {
		return fmt.Errorf("%w: reminder is %s, want pending", ErrInvalidInput, r.Status)
	}
	r.Status = ReminderDismissed
	return s.reminders.Update(ctx, &r)
}

// Reschedule moves a pending reminder to a new occurrence and resets its
// attempt counter.
func (s *Scheduler) Reschedule(ctx context.Context, id string, at time.Time) error {
	r, err := s.reminders.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != ReminderPending {
		return fmt.Errorf("%w: reminder is %s, want pending", ErrInvalidInput, r.Status)
	}
	if at.IsZero() {
		return fmt.Errorf("%w: send time is required", ErrInvalidInput)
	}
	r.NextSendAt = at.UTC()
	r.Attempts = 0
	return s.reminders.Update(ctx, &r)
}

// Run processes every reminder due at the current instant.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.now()
	due, err := s.reminders.ListDue(ctx, now)
	if err != nil {
		return err
	}
	for _, r := range due {
		if err := s.dispatch(ctx, r, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, r Reminder, now time.Time) error {
	// Already delivered for this occurrence, nothing to do.
	if r.LastSentFor.Equal(r.NextSendAt) {
		return nil
	}

	sendErr := s.mailer.Send(ctx, r)
	attempt := DeliveryAttempt{ReminderID: r.ID, At: now, Outcome: "delivered"}
	if sendErr != nil {
		attempt.Outcome = "error"
		attempt.Error = sendErr.Error()
		if errors.Is(sendErr, ErrBounced) {
			attempt.Outcome = "bounced"
		}
	}
	if err := s.deliveries.Record(ctx, attempt); err != nil {
		return err
	}

	switch {
	case sendErr == nil:
		r.Status = ReminderSent
		r.SendCount++
		r.Attempts = 0
		r.LastSentFor = r.NextSendAt
		obs.ObserveReminder(string(r.Kind), "sent")
	case errors.Is(sendErr, ErrBounced):
		r.Status = ReminderBounced
		obs.ObserveReminder(string(r.Kind), "bounced")
	default:
		r.Attempts++
		if r.Attempts >= maxDeliveryAttempts {
			r.Status = ReminderFailed
			obs.ObserveReminder(string(r.Kind), "failed")
		} else {
			obs.ObserveReminder(string(r.Kind), "retry")
		}
	}
	return s.reminders.Update(ctx, &r)
}
