// Package pg backs the governance stores with PostgreSQL. One Store value
// implements every persistence contract so a single pool and a single set of
// migrations serve the whole process.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// appendEntryTx inserts a ledger entry inside the caller's transaction so the
// entry commits or rolls back together with the state change it records.
func appendEntryTx(ctx context.Context, tx *sql.Tx, entry *audit.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	return tx.QueryRowContext(ctx, `
		insert into audit_entries (id, entity_id, actor_id, audit_type, old_value, new_value, occurred_at, details)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning seq
	`, entry.ID, entry.EntityID, entry.ActorID, string(entry.Type),
		entry.OldValue, entry.NewValue, entry.OccurredAt, entry.Details).Scan(&entry.Seq)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
