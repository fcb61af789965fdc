package pg

import (
	"context"
	"fmt"
	"strings"

	"taxdesk.org/internal/audit"
)

var _ audit.Ledger = (*Store)(nil)

// Append writes a standalone ledger entry in its own transaction. Entries
// tied to a state change go through the commit paths in entities.go instead.
func (s *Store) Append(ctx context.Context, entry *audit.Entry) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if err := appendEntryTx(ctx, tx, entry); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if filter.EntityID != "" {
		where = append(where, fmt.Sprintf("entity_id = $%d", idx))
		args = append(args, filter.EntityID)
		idx++
	}
	if filter.Type != "" {
		where = append(where, fmt.Sprintf("audit_type = $%d", idx))
		args = append(args, string(filter.Type))
		idx++
	}
	if !filter.From.IsZero() {
		where = append(where, fmt.Sprintf("occurred_at >= $%d", idx))
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		where = append(where, fmt.Sprintf("occurred_at <= $%d", idx))
		args = append(args, filter.To)
		idx++
	}

	query := `
		select id, entity_id, actor_id, audit_type, old_value, new_value, occurred_at, details, seq
		from audit_entries`
	if len(where) > 0 {
		query += "\n\t\twhere " + strings.Join(where, " and ")
	}
	query += "\n\t\torder by occurred_at desc, seq desc"
	if filter.Limit > 0 {
		query += fmt.Sprintf("\n\t\tlimit $%d", idx)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e   audit.Entry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.ActorID, &typ,
			&e.OldValue, &e.NewValue, &e.OccurredAt, &e.Details, &e.Seq); err != nil {
			return nil, err
		}
		e.Type = audit.EntryType(typ)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
