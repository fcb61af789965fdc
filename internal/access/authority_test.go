package access

import (
	"context"
	"errors"
	"testing"

	"taxdesk.org/internal/audit"
)

func newAuthority() (*Authority, *InMemoryGrants, *audit.InMemory) {
	grants := NewInMemoryGrants()
	ledger := audit.NewInMemory()
	return NewAuthority(grants, ledger), grants, ledger
}

func staff(id string) Actor      { return Actor{ID: id, Role: RoleStaff} }
func admin(id string) Actor      { return Actor{ID: id, Role: RoleAdmin} }
func superAdmin(id string) Actor { return Actor{ID: id, Role: RoleSuperAdmin} }

func TestRoleHierarchyIsTotal(t *testing.T) {
	a, _, _ := newAuthority()
	ctx := context.Background()
	res := Resource{ID: "ent-1", AccountID: "acct-1"}

	cases := []struct {
		actor  Actor
		action Action
		allow  bool
		reason string
	}{
		{staff("s"), ActionTransitionStatus, true, ReasonRole},
		{staff("s"), ActionManageAccounts, false, ReasonRoleInsufficient},
		{staff("s"), ActionManageStaff, false, ReasonRoleInsufficient},
		{admin("a"), ActionManageAccounts, true, ReasonRole},
		{admin("a"), ActionManageStaff, false, ReasonRoleInsufficient},
		{admin("a"), ActionReadPermissionAudit, false, ReasonRoleInsufficient},
		{superAdmin("sa"), ActionManageStaff, true, ReasonRole},
		{superAdmin("sa"), ActionReadPermissionAudit, true, ReasonRole},
		{superAdmin("sa"), ActionTransitionStatus, true, ReasonRole},
	}
	for _, tc := range cases {
		d, err := a.Authorize(ctx, tc.actor, tc.action, res)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.actor.Role, tc.action, err)
		}
		if d.Allow != tc.allow || d.Reason != tc.reason {
			t.Fatalf("%s/%s: got %+v, want allow=%v reason=%s", tc.actor.Role, tc.action, d, tc.allow, tc.reason)
		}
	}
}

// Restricted entities deny every operational staff action without an
// acl_override, even when an assignment grant exists.
func TestRestrictedEntityRequiresOverride(t *testing.T) {
	a, _, _ := newAuthority()
	ctx := context.Background()
	res := Resource{ID: "ent-r", AccountID: "acct-1", IsRestricted: true}

	assigned := staff("assigned")
	if _, err := a.Grant(ctx, admin("boss"), Grant{ActorID: assigned.ID, EntityID: res.ID, Type: GrantAssignment}); err != nil {
		t.Fatal(err)
	}

	for _, action := range []Action{ActionEntityRead, ActionTransitionStatus, ActionDocsRead, ActionDocsWrite, ActionMessageSend} {
		d, err := a.Authorize(ctx, assigned, action, res)
		if err != nil {
			t.Fatal(err)
		}
		if d.Allow || d.Reason != ReasonRestrictedNoOverride {
			t.Fatalf("%s: got %+v, want restricted denial", action, d)
		}
	}

	if _, err := a.Grant(ctx, admin("boss"), Grant{ActorID: assigned.ID, EntityID: res.ID, Type: GrantACLOverride}); err != nil {
		t.Fatal(err)
	}
	d, err := a.Authorize(ctx, assigned, ActionEntityRead, res)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allow || d.Reason != ReasonACLOverride {
		t.Fatalf("override should unlock access, got %+v", d)
	}
}

func TestGrantUnionReporting(t *testing.T) {
	a, _, _ := newAuthority()
	ctx := context.Background()
	res := Resource{ID: "ent-1", AccountID: "acct-1"}
	actor := staff("preparer")

	if _, err := a.Grant(ctx, admin("boss"), Grant{ActorID: actor.ID, EntityID: res.ID, Type: GrantTaxAccess}); err != nil {
		t.Fatal(err)
	}
	d, _ := a.Authorize(ctx, actor, ActionDocsRead, res)
	if !d.Allow || d.Reason != ReasonTaxAccess {
		t.Fatalf("tax_access should cover docs.read, got %+v", d)
	}

	if _, err := a.Grant(ctx, admin("boss"), Grant{ActorID: actor.ID, EntityID: res.ID, Type: GrantAssignment}); err != nil {
		t.Fatal(err)
	}
	d, _ = a.Authorize(ctx, actor, ActionDocsRead, res)
	if !d.Allow || d.Reason != ReasonAssignment {
		t.Fatalf("assignment should take precedence in reporting, got %+v", d)
	}
}

func TestClientScoping(t *testing.T) {
	a, _, _ := newAuthority()
	ctx := context.Background()
	client := Actor{ID: "c-1", Role: RoleClient, AccountID: "acct-1"}

	own := Resource{ID: "ent-own", AccountID: "acct-1"}
	other := Resource{ID: "ent-other", AccountID: "acct-2"}

	d, err := a.Authorize(ctx, client, ActionEntityRead, own)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allow || d.Reason != ReasonAccountMember {
		t.Fatalf("client own-account read denied: %+v", d)
	}

	d, _ = a.Authorize(ctx, client, ActionEntityRead, other)
	if d.Allow || d.Reason != ReasonCrossAccount {
		t.Fatalf("cross-account must always deny: %+v", d)
	}

	d, _ = a.Authorize(ctx, client, ActionTransitionStatus, own)
	if d.Allow || d.Reason != ReasonClientAction {
		t.Fatalf("clients must not transition status: %+v", d)
	}
}

func TestMalformedInputIsAnError(t *testing.T) {
	a, _, _ := newAuthority()
	ctx := context.Background()

	if _, err := a.Authorize(ctx, Actor{Role: RoleStaff}, ActionEntityRead, Resource{ID: "e"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing actor id: %v", err)
	}
	if _, err := a.Authorize(ctx, staff("s"), ActionEntityRead, Resource{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing resource id: %v", err)
	}
	if _, err := a.Authorize(ctx, staff("s"), Action("bogus.action"), Resource{ID: "e"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown action: %v", err)
	}
	if _, err := a.Authorize(ctx, Actor{ID: "x", Role: "owner"}, ActionEntityRead, Resource{ID: "e"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown role: %v", err)
	}
}

func TestGrantAndRevokeAreAudited(t *testing.T) {
	a, _, ledger := newAuthority()
	ctx := context.Background()

	grant, err := a.Grant(ctx, superAdmin("root"), Grant{ActorID: "s-1", EntityID: "ent-1", Type: GrantACLOverride})
	if err != nil {
		t.Fatal(err)
	}
	if grant.GrantedBy != "root" || grant.ID == "" {
		t.Fatalf("grant metadata missing: %+v", grant)
	}

	if err := a.Revoke(ctx, superAdmin("root"), grant.ID); err != nil {
		t.Fatal(err)
	}

	entries, err := ledger.Query(ctx, audit.Filter{EntityID: "ent-1", Type: audit.TypePermissionChange})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 permission_change entries, got %d", len(entries))
	}
}

func TestGrantRequiresAuthority(t *testing.T) {
	a, _, _ := newAuthority()
	ctx := context.Background()

	// Staff cannot manage grants at all.
	if _, err := a.Grant(ctx, staff("s"), Grant{ActorID: "x", EntityID: "ent-1", Type: GrantAssignment}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("staff grant should be unauthorized, got %v", err)
	}
	// acl_override management needs admin or above.
	if _, err := a.Grant(ctx, admin("a"), Grant{ActorID: "x", EntityID: "ent-1", Type: GrantACLOverride}); err != nil {
		t.Fatalf("admin should manage overrides: %v", err)
	}
}
