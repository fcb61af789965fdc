package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/obs"
	"taxdesk.org/internal/readiness"
)

// Authorizer is the permission authority surface the machine consults before
// committing anything.
type Authorizer interface {
	Authorize(ctx context.Context, actor access.Actor, action access.Action, resource access.Resource) (access.Decision, error)
}

// TransitionResult reports a committed transition.
type TransitionResult struct {
	EntityID     string `json:"entity_id"`
	OldStatus    Status `json:"old_status"`
	NewStatus    Status `json:"new_status"`
	AuditEntryID string `json:"audit_entry_id"`
}

// Service is the status transition machine. Every state change flows through
// here: authorize, gate, then commit-and-audit as one unit.
type Service struct {
	store     Store
	authz     Authorizer
	snapshots readiness.Provider
}

// NewService wires the machine to its collaborators.
func NewService(store Store, authz Authorizer, snapshots readiness.Provider) *Service {
	return &Service{store: store, authz: authz, snapshots: snapshots}
}

// Get loads an entity after an entity.read authorization.
func (s *Service) Get(ctx context.Context, actor access.Actor, entityID string) (Entity, error) {
	e, err := s.store.Get(ctx, entityID)
	if err != nil {
		return Entity{}, err
	}
	if err := s.authorize(ctx, actor, access.ActionEntityRead, e); err != nil {
		return Entity{}, err
	}
	return e, nil
}

// Create registers a new entity. Requires entity.manage.
func (s *Service) Create(ctx context.Context, actor access.Actor, entity *Entity) error {
	decision, err := s.authz.Authorize(ctx, actor, access.ActionManageEntities, access.Resource{ID: "new"})
	if err != nil {
		return err
	}
	if !decision.Allow {
		return &UnauthorizedError{Reason: decision.Reason}
	}
	if err := s.store.Create(ctx, entity); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "workflow.entity_created", map[string]any{
		"entity_id": entity.ID,
		"type":      entity.Type,
		"tax_year":  entity.TaxYear,
	})
	return nil
}

// EvaluateReadiness recomputes the readiness gate for an entity on demand.
// Readiness state names the documents still outstanding, so reading it is
// gated the same way as reading the entity itself.
func (s *Service) EvaluateReadiness(ctx context.Context, actor access.Actor, entityID string) (readiness.Result, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return readiness.Result{}, fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}
	e, err := s.store.Get(ctx, entityID)
	if err != nil {
		return readiness.Result{}, err
	}
	if err := s.authorize(ctx, actor, access.ActionEntityRead, e); err != nil {
		return readiness.Result{}, err
	}
	snap, err := s.snapshots.Snapshot(ctx, entityID)
	if err != nil {
		return readiness.Result{}, err
	}
	return readiness.Evaluate(snap), nil
}

// Resource resolves an entity into its authorization resource without any
// permission check. The restricted flag and owning account must come from the
// store, never from caller input, or the restricted-ACL default-deny could be
// sidestepped by claiming an unrestricted resource.
func (s *Service) Resource(ctx context.Context, entityID string) (access.Resource, error) {
	e, err := s.store.Get(ctx, entityID)
	if err != nil {
		return access.Resource{}, err
	}
	return e.Resource(), nil
}

// Transition moves an entity to targetStatus on behalf of actor.
//
// Order matters and is part of the contract: legality first, then
// authorization, then the readiness gate, then a compare-and-swap commit that
// writes exactly one status_change audit entry in the same atomic unit.
func (s *Service) Transition(ctx context.Context, actor access.Actor, entityID string, target Status, reason string) (TransitionResult, error) {
	if _, ok := ParseStatus(string(target)); !ok {
		return TransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, target)
	}

	e, err := s.store.Get(ctx, entityID)
	if err != nil {
		return TransitionResult{}, err
	}

	ok, needsOverride := legalTransition(e.Status, target)
	if !ok {
		obs.ObserveTransition(string(target), "invalid")
		return TransitionResult{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, target)
	}

	decision, err := s.authz.Authorize(ctx, actor, access.ActionTransitionStatus, e.Resource())
	if err != nil {
		return TransitionResult{}, err
	}
	if !decision.Allow {
		// Denied attempts are logged but deliberately not written to the
		// ledger: only committed changes make history.
		obs.ObserveTransition(string(target), "unauthorized")
		_ = audit.LogEvent(ctx, "workflow.transition_denied", map[string]any{
			"entity_id": entityID,
			"target":    target,
			"reason":    decision.Reason,
		})
		return TransitionResult{}, &UnauthorizedError{Reason: decision.Reason}
	}
	if needsOverride && actor.Role != access.RoleSuperAdmin {
		obs.ObserveTransition(string(target), "unauthorized")
		return TransitionResult{}, &UnauthorizedError{Reason: ReasonOverrideRequired}
	}

	if requiresReadiness(e.Status, target) {
		snap, err := s.snapshots.Snapshot(ctx, entityID)
		if err != nil {
			return TransitionResult{}, err
		}
		if res := readiness.Evaluate(snap); !res.Ready {
			obs.ObserveTransition(string(target), "not_ready")
			return TransitionResult{}, &NotReadyError{Reasons: res.Reasons}
		}
	}

	entry, err := s.store.CommitTransition(ctx, entityID, e.Status, target, audit.Entry{
		ActorID: actor.ID,
		Details: reason,
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			obs.ObserveTransition(string(target), "conflict")
		}
		return TransitionResult{}, err
	}

	obs.ObserveTransition(string(target), "committed")
	_ = audit.LogEvent(ctx, "workflow.transition_committed", map[string]any{
		"entity_id": entityID,
		"old":       e.Status,
		"new":       target,
	})
	return TransitionResult{
		EntityID:     entityID,
		OldStatus:    e.Status,
		NewStatus:    target,
		AuditEntryID: entry.ID,
	}, nil
}

// RequestExtension starts the extension sub-flow (none → requested).
func (s *Service) RequestExtension(ctx context.Context, actor access.Actor, entityID string) (Entity, error) {
	e, err := s.store.Get(ctx, entityID)
	if err != nil {
		return Entity{}, err
	}
	if err := s.authorize(ctx, actor, access.ActionTransitionStatus, e); err != nil {
		return Entity{}, err
	}
	if e.Extension != ExtensionNone {
		return Entity{}, fmt.Errorf("%w: extension already %s", ErrInvalidTransition, e.Extension)
	}
	if _, err := s.store.CommitExtension(ctx, entityID, ExtensionNone, ExtensionRequested, ExtensionUpdate{}, audit.Entry{
		ActorID: actor.ID,
		Details: "extension requested",
	}); err != nil {
		return Entity{}, err
	}
	return s.store.Get(ctx, entityID)
}

// FileExtension completes the extension sub-flow (requested → filed). The
// extended due date is computed here, exactly once, and stored immutably
// alongside the filing document reference.
func (s *Service) FileExtension(ctx context.Context, actor access.Actor, entityID, docRef string) (Entity, error) {
	e, err := s.store.Get(ctx, entityID)
	if err != nil {
		return Entity{}, err
	}
	if err := s.authorize(ctx, actor, access.ActionTransitionStatus, e); err != nil {
		return Entity{}, err
	}
	if e.Extension != ExtensionRequested {
		return Entity{}, fmt.Errorf("%w: extension is %s, want requested", ErrInvalidTransition, e.Extension)
	}

	update := ExtensionUpdate{
		DueDate: ExtensionDueDateFor(e.Type, e.TaxYear),
		DocRef:  strings.TrimSpace(docRef),
	}
	if _, err := s.store.CommitExtension(ctx, entityID, ExtensionRequested, ExtensionFiled, update, audit.Entry{
		ActorID: actor.ID,
		Details: "extension filed",
	}); err != nil {
		return Entity{}, err
	}
	return s.store.Get(ctx, entityID)
}

// SetRestricted flips the restricted-ACL flag. Requires acl.manage.
func (s *Service) SetRestricted(ctx context.Context, actor access.Actor, entityID string, restricted bool) error {
	e, err := s.store.Get(ctx, entityID)
	if err != nil {
		return err
	}
	decision, err := s.authz.Authorize(ctx, actor, access.ActionManageACL, e.Resource())
	if err != nil {
		return err
	}
	if !decision.Allow {
		return &UnauthorizedError{Reason: decision.Reason}
	}
	_, err = s.store.SetRestricted(ctx, entityID, restricted, audit.Entry{ActorID: actor.ID})
	return err
}

func (s *Service) authorize(ctx context.Context, actor access.Actor, action access.Action, e Entity) error {
	decision, err := s.authz.Authorize(ctx, actor, action, e.Resource())
	if err != nil {
		return err
	}
	if !decision.Allow {
		return &UnauthorizedError{Reason: decision.Reason}
	}
	return nil
}
