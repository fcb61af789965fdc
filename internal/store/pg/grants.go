package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taxdesk.org/internal/access"
)

// Grants is the PostgreSQL grant store. Obtained from Store.Grants so the
// whole process shares one pool.
type Grants struct {
	db *sql.DB
}

func (s *Store) Grants() *Grants { return &Grants{db: s.db} }

var _ access.GrantStore = (*Grants)(nil)

func (g *Grants) Create(ctx context.Context, grant *access.Grant) error {
	_, err := g.db.ExecContext(ctx, `
		insert into grants (id, actor_id, entity_id, grant_type, granted_by, granted_at)
		values ($1, $2, $3, $4, $5, $6)
	`, grant.ID, grant.ActorID, grant.EntityID, string(grant.Type), grant.GrantedBy, grant.GrantedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: grant %s", access.ErrInvalidInput, grant.ID)
			case pgErrForeignKeyViolation:
				return access.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (g *Grants) Find(ctx context.Context, id string) (access.Grant, error) {
	var (
		grant access.Grant
		typ   string
	)
	err := g.db.QueryRowContext(ctx, `
		select id, actor_id, entity_id, grant_type, granted_by, granted_at
		from grants
		where id = $1
	`, id).Scan(&grant.ID, &grant.ActorID, &grant.EntityID, &typ, &grant.GrantedBy, &grant.GrantedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Grant{}, access.ErrNotFound
	}
	if err != nil {
		return access.Grant{}, err
	}
	grant.Type = access.GrantType(typ)
	return grant, nil
}

func (g *Grants) Revoke(ctx context.Context, id string) error {
	res, err := g.db.ExecContext(ctx, `delete from grants where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (g *Grants) list(ctx context.Context, column, value string) ([]access.Grant, error) {
	rows, err := g.db.QueryContext(ctx, `
		select id, actor_id, entity_id, grant_type, granted_by, granted_at
		from grants
		where `+column+` = $1
		order by granted_at, id
	`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []access.Grant
	for rows.Next() {
		var (
			grant access.Grant
			typ   string
		)
		if err := rows.Scan(&grant.ID, &grant.ActorID, &grant.EntityID, &typ, &grant.GrantedBy, &grant.GrantedAt); err != nil {
			return nil, err
		}
		grant.Type = access.GrantType(typ)
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (g *Grants) ListByActor(ctx context.Context, actorID string) ([]access.Grant, error) {
	return g.list(ctx, "actor_id", actorID)
}

func (g *Grants) ListByEntity(ctx context.Context, entityID string) ([]access.Grant, error) {
	return g.list(ctx, "entity_id", entityID)
}
