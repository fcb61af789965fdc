package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/ids"
	"taxdesk.org/internal/obs"
)

// GrantStore persists explicit grants.
type GrantStore interface {
	Create(ctx context.Context, grant *Grant) error
	Find(ctx context.Context, id string) (Grant, error)
	Revoke(ctx context.Context, id string) error
	ListByActor(ctx context.Context, actorID string) ([]Grant, error)
	ListByEntity(ctx context.Context, entityID string) ([]Grant, error)
}

// Authority evaluates whether an actor may perform an action on a resource.
// Stateless over its inputs; safe for concurrent use.
type Authority struct {
	grants GrantStore
	ledger audit.Ledger
	now    func() time.Time
}

// NewAuthority constructs the permission authority.
func NewAuthority(grants GrantStore, ledger audit.Ledger) *Authority {
	return &Authority{
		grants: grants,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Intended for tests.
func (a *Authority) WithClock(fn func() time.Time) *Authority {
	if fn != nil {
		a.now = fn
	}
	return a
}

// Authorize returns a Decision for actor performing action on resource.
// "No grant found" is an ordinary allow=false result; only malformed input
// (missing actor/resource id, unknown action or role) is an error.
func (a *Authority) Authorize(ctx context.Context, actor Actor, action Action, resource Resource) (Decision, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return Decision{}, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(resource.ID) == "" {
		return Decision{}, fmt.Errorf("%w: resource id is required", ErrInvalidInput)
	}
	if _, ok := capabilities[action]; !ok {
		return Decision{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	if _, ok := ParseRole(string(actor.Role)); !ok {
		return Decision{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, actor.Role)
	}

	decision, err := a.decide(ctx, actor, action, resource)
	if err != nil {
		return Decision{}, err
	}
	if !decision.Allow {
		obs.ObserveAuthorizeDenial(decision.Reason)
	}
	return decision, nil
}

func (a *Authority) decide(ctx context.Context, actor Actor, action Action, resource Resource) (Decision, error) {
	if actor.Role == RoleClient {
		return a.decideClient(actor, action, resource), nil
	}
	return a.decideStaff(ctx, actor, action, resource)
}

// decideClient: clients reach only entities inside their own account, for the
// client action set. Cross-account access is denied before anything else;
// grants never apply to clients.
func (a *Authority) decideClient(actor Actor, action Action, resource Resource) Decision {
	if actor.AccountID == "" || resource.AccountID != actor.AccountID {
		return Decision{Allow: false, Reason: ReasonCrossAccount}
	}
	if !clientActions[action] {
		return Decision{Allow: false, Reason: ReasonClientAction}
	}
	return Decision{Allow: true, Reason: ReasonAccountMember}
}

func (a *Authority) decideStaff(ctx context.Context, actor Actor, action Action, resource Resource) (Decision, error) {
	min := capabilities[action]
	if !actor.Role.Covers(min) {
		return Decision{Allow: false, Reason: ReasonRoleInsufficient}, nil
	}
	if administrative[action] {
		return Decision{Allow: true, Reason: ReasonRole}, nil
	}

	grants, err := a.grants.ListByActor(ctx, actor.ID)
	if err != nil {
		return Decision{}, err
	}
	matching := grantsForEntity(grants, resource.ID)

	// Restricted entities flip staff access from default-allow to
	// default-deny: an explicit acl_override is required no matter the role
	// or any other grant held.
	if resource.IsRestricted {
		if !hasGrant(matching, GrantACLOverride) {
			return Decision{Allow: false, Reason: ReasonRestrictedNoOverride}, nil
		}
		return Decision{Allow: true, Reason: ReasonACLOverride}, nil
	}

	// Unrestricted operational access is default-allow for staff. Grant
	// effects union with the role default, so the most specific allow wins
	// for reporting purposes.
	switch {
	case hasGrant(matching, GrantAssignment):
		return Decision{Allow: true, Reason: ReasonAssignment}, nil
	case hasGrant(matching, GrantTaxAccess) && (action == ActionDocsRead || action == ActionDocsWrite):
		return Decision{Allow: true, Reason: ReasonTaxAccess}, nil
	default:
		return Decision{Allow: true, Reason: ReasonRole}, nil
	}
}

func grantsForEntity(grants []Grant, entityID string) []Grant {
	var out []Grant
	for _, g := range grants {
		if g.EntityID == entityID {
			out = append(out, g)
		}
	}
	return out
}

func hasGrant(grants []Grant, typ GrantType) bool {
	for _, g := range grants {
		if g.Type == typ {
			return true
		}
	}
	return false
}

// Grant creates an explicit grant after authorizing the grantor, and records
// a permission_change ledger entry in the same operation.
func (a *Authority) Grant(ctx context.Context, grantor Actor, grant Grant) (Grant, error) {
	if strings.TrimSpace(grant.ActorID) == "" || strings.TrimSpace(grant.EntityID) == "" {
		return Grant{}, fmt.Errorf("%w: grantee and entity are required", ErrInvalidInput)
	}
	switch grant.Type {
	case GrantAssignment, GrantTaxAccess, GrantACLOverride:
	default:
		return Grant{}, fmt.Errorf("%w: unknown grant type %q", ErrInvalidInput, grant.Type)
	}

	decision, err := a.Authorize(ctx, grantor, manageActionFor(grant.Type), Resource{ID: grant.EntityID})
	if err != nil {
		return Grant{}, err
	}
	if !decision.Allow {
		return Grant{}, fmt.Errorf("%w: %s", ErrUnauthorized, decision.Reason)
	}

	grant.ID = ids.New()
	grant.GrantedBy = grantor.ID
	grant.GrantedAt = a.now()
	if err := a.grants.Create(ctx, &grant); err != nil {
		return Grant{}, err
	}
	if _, err := a.ledger.Append(ctx, &audit.Entry{
		EntityID:   grant.EntityID,
		ActorID:    grantor.ID,
		Type:       audit.TypePermissionChange,
		NewValue:   string(grant.Type),
		OccurredAt: grant.GrantedAt,
		Details:    fmt.Sprintf("grant %s to %s", grant.Type, grant.ActorID),
	}); err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// Revoke removes a grant after authorizing the revoker, recording the change.
func (a *Authority) Revoke(ctx context.Context, revoker Actor, grantID string) error {
	if strings.TrimSpace(grantID) == "" {
		return fmt.Errorf("%w: grant id is required", ErrInvalidInput)
	}
	removed, err := a.grants.Find(ctx, grantID)
	if err != nil {
		return err
	}

	decision, err := a.Authorize(ctx, revoker, manageActionFor(removed.Type), Resource{ID: removed.EntityID})
	if err != nil {
		return err
	}
	if !decision.Allow {
		return fmt.Errorf("%w: %s", ErrUnauthorized, decision.Reason)
	}
	if err := a.grants.Revoke(ctx, grantID); err != nil {
		return err
	}

	_, err = a.ledger.Append(ctx, &audit.Entry{
		EntityID:   removed.EntityID,
		ActorID:    revoker.ID,
		Type:       audit.TypePermissionChange,
		OldValue:   string(removed.Type),
		OccurredAt: a.now(),
		Details:    fmt.Sprintf("revoke %s from %s", removed.Type, removed.ActorID),
	})
	return err
}

// List returns grants scoped to an actor, an entity, or both. At least one
// filter is required; listing every grant in the system is never needed.
func (a *Authority) List(ctx context.Context, actorID, entityID string) ([]Grant, error) {
	actorID = strings.TrimSpace(actorID)
	entityID = strings.TrimSpace(entityID)
	switch {
	case actorID != "":
		grants, err := a.grants.ListByActor(ctx, actorID)
		if err != nil {
			return nil, err
		}
		if entityID == "" {
			return grants, nil
		}
		return grantsForEntity(grants, entityID), nil
	case entityID != "":
		return a.grants.ListByEntity(ctx, entityID)
	default:
		return nil, fmt.Errorf("%w: actor or entity filter is required", ErrInvalidInput)
	}
}

// manageActionFor picks the administrative capability that guards changes to
// a grant type. Restricted-ACL overrides are managed under acl.manage; the
// rest under entity.manage.
func manageActionFor(typ GrantType) Action {
	if typ == GrantACLOverride {
		return ActionManageACL
	}
	return ActionManageEntities
}
