// Package access is the permission authority: the single place where
// role-hierarchy and grant rules live. Call sites never re-implement role
// checks; they ask Authorize and record the decision.
package access

import (
	"errors"
	"time"
)

// Role is the actor's position in the staff hierarchy, or client.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleClient     Role = "client"
)

// rank orders the staff hierarchy. A higher role inherits every capability of
// lower roles. Clients sit outside the hierarchy entirely.
func (r Role) rank() int {
	switch r {
	case RoleSuperAdmin:
		return 3
	case RoleAdmin:
		return 2
	case RoleStaff:
		return 1
	default:
		return 0
	}
}

// IsStaff reports whether the role belongs to the staff hierarchy.
func (r Role) IsStaff() bool { return r.rank() > 0 }

// Covers reports whether the role inherits the capabilities of min.
func (r Role) Covers(min Role) bool { return r.rank() >= min.rank() }

// ParseRole normalizes a role string.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleSuperAdmin, RoleAdmin, RoleStaff, RoleClient:
		return Role(s), true
	}
	return "", false
}

// GrantType classifies explicit grants. Grants are additive; there is no deny
// grant, since absence of a grant on a restricted entity is itself a deny.
type GrantType string

const (
	GrantAssignment  GrantType = "assignment"   // full operational access to the entity
	GrantTaxAccess   GrantType = "tax_access"   // tax documents only
	GrantACLOverride GrantType = "acl_override" // unlocks a restricted entity
)

// Grant scopes an actor to one entity.
type Grant struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	EntityID  string    `json:"entity_id"`
	Type      GrantType `json:"grant_type"`
	GrantedBy string    `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
}

// Actor is the authenticated identity a decision is evaluated for.
type Actor struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	AccountID string `json:"account_id,omitempty"` // client actors only
}

// Resource is the entity-shaped view the authority needs. The workflow
// package maps its entity onto this to avoid a package cycle.
type Resource struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	IsRestricted bool   `json:"is_restricted"`
}

// Action identifies a capability. Operational actions are entity-scoped and
// subject to the restricted-ACL branch; administrative actions are role-only,
// otherwise a restricted entity could never be unlocked.
type Action string

const (
	// Operational.
	ActionEntityRead       Action = "entity.read"
	ActionTransitionStatus Action = "entity.transition_status"
	ActionDocsRead         Action = "docs.read"
	ActionDocsWrite        Action = "docs.write"
	ActionMessageSend      Action = "message.send"

	// Administrative.
	ActionManageStaff         Action = "staff.manage"
	ActionManageAccounts      Action = "account.manage"
	ActionManageEntities      Action = "entity.manage"
	ActionManageACL           Action = "acl.manage"
	ActionReadPermissionAudit Action = "audit.read_permission_changes"
)

// capabilities maps every known action to the minimum staff role.
var capabilities = map[Action]Role{
	ActionEntityRead:       RoleStaff,
	ActionTransitionStatus: RoleStaff,
	ActionDocsRead:         RoleStaff,
	ActionDocsWrite:        RoleStaff,
	ActionMessageSend:      RoleStaff,

	ActionManageStaff:         RoleSuperAdmin,
	ActionReadPermissionAudit: RoleSuperAdmin,
	ActionManageAccounts:      RoleAdmin,
	ActionManageEntities:      RoleAdmin,
	ActionManageACL:           RoleAdmin,
}

// administrative actions skip the entity-scoped restricted check.
var administrative = map[Action]bool{
	ActionManageStaff:         true,
	ActionReadPermissionAudit: true,
	ActionManageAccounts:      true,
	ActionManageEntities:      true,
	ActionManageACL:           true,
}

// clientActions are the only actions a client may perform, and only on
// entities within their own account.
var clientActions = map[Action]bool{
	ActionEntityRead:  true,
	ActionDocsRead:    true,
	ActionDocsWrite:   true,
	ActionMessageSend: true,
}

// Decision is the authorization outcome. Deny is a normal result, never an
// error; Reason is a stable code callers can persist and render.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Stable decision reason codes.
const (
	ReasonRole          = "ok.role"
	ReasonAssignment    = "ok.assignment"
	ReasonTaxAccess     = "ok.tax_access"
	ReasonACLOverride   = "ok.acl_override"
	ReasonAccountMember = "ok.account_member"

	ReasonRoleInsufficient     = "deny.role_insufficient"
	ReasonRestrictedNoOverride = "deny.restricted_no_override"
	ReasonCrossAccount         = "deny.cross_account"
	ReasonClientAction         = "deny.client_action"
)

var (
	ErrInvalidInput = errors.New("access: invalid input")
	ErrUnauthorized = errors.New("access: unauthorized")
	ErrNotFound     = errors.New("access: not found")
)
