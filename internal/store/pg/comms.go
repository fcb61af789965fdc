package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taxdesk.org/internal/ids"
	"taxdesk.org/internal/sla"
)

// Threads is the PostgreSQL thread store.
type Threads struct {
	db *sql.DB
}

func (s *Store) Threads() *Threads { return &Threads{db: s.db} }

var _ sla.ThreadStore = (*Threads)(nil)

func (t *Threads) Create(ctx context.Context, thread *sla.Thread) error {
	if thread.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", sla.ErrInvalidInput)
	}
	if thread.TaxYear < 1900 {
		return fmt.Errorf("%w: tax year %d", sla.ErrInvalidInput, thread.TaxYear)
	}
	if thread.ID == "" {
		thread.ID = ids.New()
	}
	if thread.Status == "" {
		thread.Status = sla.StatusOK
	}
	_, err := t.db.ExecContext(ctx, `
		insert into threads (id, entity_id, tax_year, sla_status)
		values ($1, $2, $3, $4)
	`, thread.ID, thread.EntityID, thread.TaxYear, string(thread.Status))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return sla.ErrNotFound
		}
		return err
	}
	return nil
}

func scanThread(row rowScanner) (sla.Thread, error) {
	var (
		th       sla.Thread
		status   string
		inbound  sql.NullTime
		outbound sql.NullTime
	)
	err := row.Scan(&th.ID, &th.EntityID, &th.TaxYear, &inbound, &outbound, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return sla.Thread{}, sla.ErrNotFound
	}
	if err != nil {
		return sla.Thread{}, err
	}
	th.Status = sla.Status(status)
	if inbound.Valid {
		th.LastInboundAt = inbound.Time
	}
	if outbound.Valid {
		th.LastOutboundAt = outbound.Time
	}
	return th, nil
}

func (t *Threads) Get(ctx context.Context, id string) (sla.Thread, error) {
	return scanThread(t.db.QueryRowContext(ctx, `
		select id, entity_id, tax_year, last_inbound_at, last_outbound_at, sla_status
		from threads
		where id = $1
	`, id))
}

// greatest keeps the timestamp monotonic when messages arrive out of order.
func (t *Threads) RecordInbound(ctx context.Context, id string, at time.Time) error {
	return t.touch(ctx, `
		update threads set last_inbound_at = greatest(coalesce(last_inbound_at, $2), $2)
		where id = $1
	`, id, at.UTC())
}

func (t *Threads) RecordOutbound(ctx context.Context, id string, at time.Time) error {
	return t.touch(ctx, `
		update threads set last_outbound_at = greatest(coalesce(last_outbound_at, $2), $2)
		where id = $1
	`, id, at.UTC())
}

func (t *Threads) SetStatus(ctx context.Context, id string, status sla.Status) error {
	return t.touch(ctx, `update threads set sla_status = $2 where id = $1`, id, string(status))
}

func (t *Threads) touch(ctx context.Context, query string, args ...any) error {
	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return sla.ErrNotFound
	}
	return nil
}

func (t *Threads) List(ctx context.Context) ([]sla.Thread, error) {
	rows, err := t.db.QueryContext(ctx, `
		select id, entity_id, tax_year, last_inbound_at, last_outbound_at, sla_status
		from threads
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []sla.Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, th)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return threads, nil
}

// Reminders is the PostgreSQL reminder store.
type Reminders struct {
	db *sql.DB
}

func (s *Store) Reminders() *Reminders { return &Reminders{db: s.db} }

var _ sla.ReminderStore = (*Reminders)(nil)

func (r *Reminders) Create(ctx context.Context, rem *sla.Reminder) error {
	if rem.ID == "" {
		rem.ID = ids.New()
	}
	err := r.db.QueryRowContext(ctx, `
		insert into reminders (id, entity_id, kind, status, next_send_at, send_count, attempts)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, rem.ID, rem.EntityID, string(rem.Kind), string(rem.Status),
		rem.NextSendAt, rem.SendCount, rem.Attempts,
	).Scan(&rem.CreatedAt, &rem.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return sla.ErrNotFound
		}
		return err
	}
	return nil
}

func scanReminder(row rowScanner) (sla.Reminder, error) {
	var (
		rem         sla.Reminder
		kind        string
		status      string
		lastSentFor sql.NullTime
	)
	err := row.Scan(&rem.ID, &rem.EntityID, &kind, &status, &rem.NextSendAt,
		&rem.SendCount, &rem.Attempts, &lastSentFor, &rem.CreatedAt, &rem.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sla.Reminder{}, sla.ErrNotFound
	}
	if err != nil {
		return sla.Reminder{}, err
	}
	rem.Kind = sla.Kind(kind)
	rem.Status = sla.ReminderStatus(status)
	if lastSentFor.Valid {
		rem.LastSentFor = lastSentFor.Time
	}
	return rem, nil
}

const reminderColumns = `id, entity_id, kind, status, next_send_at, send_count, attempts, last_sent_for, created_at, updated_at`

func (r *Reminders) Get(ctx context.Context, id string) (sla.Reminder, error) {
	return scanReminder(r.db.QueryRowContext(ctx, `
		select `+reminderColumns+` from reminders where id = $1
	`, id))
}

func (r *Reminders) Update(ctx context.Context, rem *sla.Reminder) error {
	res, err := r.db.ExecContext(ctx, `
		update reminders set status = $2, next_send_at = $3, send_count = $4,
		       attempts = $5, last_sent_for = $6, updated_at = now()
		where id = $1
	`, rem.ID, string(rem.Status), rem.NextSendAt, rem.SendCount,
		rem.Attempts, nullTime(rem.LastSentFor))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return sla.ErrNotFound
	}
	return nil
}

func (r *Reminders) ListDue(ctx context.Context, now time.Time) ([]sla.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+reminderColumns+`
		from reminders
		where status = 'pending' and next_send_at <= $1
		order by next_send_at, id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []sla.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return due, nil
}

// Deliveries is the PostgreSQL delivery log.
type Deliveries struct {
	db *sql.DB
}

func (s *Store) Deliveries() *Deliveries { return &Deliveries{db: s.db} }

var _ sla.DeliveryLog = (*Deliveries)(nil)

func (d *Deliveries) Record(ctx context.Context, a sla.DeliveryAttempt) error {
	_, err := d.db.ExecContext(ctx, `
		insert into reminder_deliveries (reminder_id, attempted_at, outcome, error)
		values ($1, $2, $3, nullif($4, ''))
	`, a.ReminderID, a.At, a.Outcome, a.Error)
	return err
}
