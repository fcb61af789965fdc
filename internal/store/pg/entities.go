package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/ids"
	"taxdesk.org/internal/workflow"
)

var _ workflow.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, entity *workflow.Entity) error {
	if entity.AccountID == "" {
		return fmt.Errorf("%w: account id is required", workflow.ErrInvalidInput)
	}
	if _, ok := workflow.ParseEntityType(string(entity.Type)); !ok {
		return fmt.Errorf("%w: unknown entity type %q", workflow.ErrInvalidInput, entity.Type)
	}
	if entity.TaxYear < 1900 {
		return fmt.Errorf("%w: tax year %d", workflow.ErrInvalidInput, entity.TaxYear)
	}
	if entity.ID == "" {
		entity.ID = ids.New()
	}
	if entity.Status == "" {
		entity.Status = workflow.StatusNotStarted
	}
	if entity.Extension == "" {
		entity.Extension = workflow.ExtensionNone
	}

	err := s.db.QueryRowContext(ctx, `
		insert into entities (id, account_id, entity_type, tax_year, status, extension_state, is_restricted)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, entity.ID, entity.AccountID, string(entity.Type), entity.TaxYear,
		string(entity.Status), string(entity.Extension), entity.IsRestricted,
	).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: entity %s", workflow.ErrInvalidInput, entity.ID)
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (workflow.Entity, error) {
	return scanEntity(s.db.QueryRowContext(ctx, `
		select id, account_id, entity_type, tax_year, status, extension_state,
		       is_restricted, extension_due_date, extension_doc_ref, created_at, updated_at
		from entities
		where id = $1
	`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (workflow.Entity, error) {
	var (
		e       workflow.Entity
		typ     string
		status  string
		ext     string
		dueDate sql.NullTime
		docRef  sql.NullString
	)
	err := row.Scan(&e.ID, &e.AccountID, &typ, &e.TaxYear, &status, &ext,
		&e.IsRestricted, &dueDate, &docRef, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Entity{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Entity{}, err
	}
	e.Type = workflow.EntityType(typ)
	e.Status = workflow.Status(status)
	e.Extension = workflow.ExtensionState(ext)
	if dueDate.Valid {
		e.ExtensionDueDate = dueDate.Time
	}
	if docRef.Valid {
		e.ExtensionDocRef = docRef.String
	}
	return e, nil
}

// CommitTransition performs the compare-and-swap: the update is conditioned
// on the status the caller observed, and the ledger entry lands in the same
// transaction. Zero rows affected with the entity still present means another
// writer got there first.
func (s *Store) CommitTransition(ctx context.Context, entityID string, observed, target workflow.Status, entry audit.Entry) (audit.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update entities set status = $3, updated_at = now()
		where id = $1 and status = $2
	`, entityID, string(observed), string(target))
	if err != nil {
		return audit.Entry{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return audit.Entry{}, err
	}
	if aff == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `select 1 from entities where id = $1`, entityID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Entry{}, workflow.ErrNotFound
		}
		if err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{}, workflow.ErrConcurrentModification
	}

	entry.EntityID = entityID
	entry.Type = audit.TypeStatusChange
	entry.OldValue = string(observed)
	entry.NewValue = string(target)
	if err := appendEntryTx(ctx, tx, &entry); err != nil {
		return audit.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return audit.Entry{}, err
	}
	return entry, nil
}

func (s *Store) CommitExtension(ctx context.Context, entityID string, observed, target workflow.ExtensionState, update workflow.ExtensionUpdate, entry audit.Entry) (audit.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// coalesce keeps an already-stored due date immutable.
	res, err := tx.ExecContext(ctx, `
		update entities set extension_state = $3,
		       extension_due_date = coalesce(extension_due_date, $4),
		       extension_doc_ref = coalesce(extension_doc_ref, nullif($5, '')),
		       updated_at = now()
		where id = $1 and extension_state = $2
	`, entityID, string(observed), string(target), nullTime(update.DueDate), update.DocRef)
	if err != nil {
		return audit.Entry{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return audit.Entry{}, err
	}
	if aff == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `select 1 from entities where id = $1`, entityID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Entry{}, workflow.ErrNotFound
		}
		if err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{}, workflow.ErrConcurrentModification
	}

	entry.EntityID = entityID
	entry.Type = audit.TypeUserAction
	entry.OldValue = "extension:" + string(observed)
	entry.NewValue = "extension:" + string(target)
	if err := appendEntryTx(ctx, tx, &entry); err != nil {
		return audit.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return audit.Entry{}, err
	}
	return entry, nil
}

func (s *Store) SetRestricted(ctx context.Context, entityID string, restricted bool, entry audit.Entry) (audit.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current bool
	err = tx.QueryRowContext(ctx, `
		select is_restricted from entities where id = $1 for update
	`, entityID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, workflow.ErrNotFound
	}
	if err != nil {
		return audit.Entry{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		update entities set is_restricted = $2, updated_at = now() where id = $1
	`, entityID, restricted); err != nil {
		return audit.Entry{}, err
	}

	entry.EntityID = entityID
	entry.Type = audit.TypeUserAction
	entry.OldValue = fmt.Sprintf("restricted:%t", current)
	entry.NewValue = fmt.Sprintf("restricted:%t", restricted)
	if err := appendEntryTx(ctx, tx, &entry); err != nil {
		return audit.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return audit.Entry{}, err
	}
	return entry, nil
}
