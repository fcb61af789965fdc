package pg

import (
	"context"
	"database/sql"
	"errors"

	"taxdesk.org/internal/auth"
	"taxdesk.org/internal/ids"
)

// Identities is the PostgreSQL identity store.
type Identities struct {
	db *sql.DB
}

func (s *Store) Identities() *Identities { return &Identities{db: s.db} }

var _ auth.IdentityStore = (*Identities)(nil)

const identityColumns = `id, email, password_hash, role, coalesce(account_id, ''), status, created_at, updated_at`

func (st *Identities) Create(ctx context.Context, identity *auth.Identity) error {
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	err := st.db.QueryRowContext(ctx, `
		insert into identities (id, email, password_hash, role, account_id, status)
		values ($1, $2, $3, $4, nullif($5, ''), $6)
		returning created_at, updated_at
	`, identity.ID, identity.Email, identity.PasswordHash, identity.Role,
		identity.AccountID, identity.Status,
	).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func scanIdentity(row rowScanner) (*auth.Identity, error) {
	var id auth.Identity
	err := row.Scan(&id.ID, &id.Email, &id.PasswordHash, &id.Role,
		&id.AccountID, &id.Status, &id.CreatedAt, &id.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (st *Identities) Find(ctx context.Context, id string) (*auth.Identity, error) {
	return scanIdentity(st.db.QueryRowContext(ctx, `
		select `+identityColumns+` from identities where id = $1
	`, id))
}

func (st *Identities) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	return scanIdentity(st.db.QueryRowContext(ctx, `
		select `+identityColumns+` from identities where email = $1
	`, email))
}

func (st *Identities) List(ctx context.Context) ([]*auth.Identity, error) {
	rows, err := st.db.QueryContext(ctx, `
		select `+identityColumns+` from identities order by email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (st *Identities) SetStatus(ctx context.Context, id, status string) error {
	return st.exec(ctx, `update identities set status = $2, updated_at = now() where id = $1`, id, status)
}

func (st *Identities) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return st.exec(ctx, `update identities set password_hash = $2, updated_at = now() where id = $1`, id, passwordHash)
}

func (st *Identities) exec(ctx context.Context, query string, args ...any) error {
	res, err := st.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
