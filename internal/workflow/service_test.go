package workflow

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/readiness"
)

// snapshotMap is a readiness.Provider backed by a map, standing in for the
// checklist/questionnaire/ID sub-systems.
type snapshotMap struct {
	mu    sync.Mutex
	snaps map[string]readiness.Snapshot
}

func newSnapshotMap() *snapshotMap {
	return &snapshotMap{snaps: make(map[string]readiness.Snapshot)}
}

func (p *snapshotMap) set(entityID string, s readiness.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps[entityID] = s
}

func (p *snapshotMap) Snapshot(ctx context.Context, entityID string) (readiness.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snaps[entityID], nil
}

type fixture struct {
	svc    *Service
	store  *InMemory
	ledger *audit.InMemory
	snaps  *snapshotMap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := audit.NewInMemory()
	store := NewInMemory(ledger)
	snaps := newSnapshotMap()
	authority := access.NewAuthority(access.NewInMemoryGrants(), ledger)
	return &fixture{
		svc:    NewService(store, authority, snaps),
		store:  store,
		ledger: ledger,
		snaps:  snaps,
	}
}

func (f *fixture) entity(t *testing.T, typ EntityType, status Status) Entity {
	t.Helper()
	e := Entity{AccountID: "acct-1", Type: typ, TaxYear: 2025, Status: status}
	if err := f.store.Create(context.Background(), &e); err != nil {
		t.Fatal(err)
	}
	return e
}

func readySnapshot() readiness.Snapshot {
	return readiness.Snapshot{
		Checklist: []readiness.ChecklistItem{
			{Name: "W-2", Received: true},
			{Name: "1099", Received: true},
			{Name: "K-1", Received: true},
		},
		QuestionnaireSubmitted: true,
		PrimaryIDValid:         true,
	}
}

var staffActor = access.Actor{ID: "staff-1", Role: access.RoleStaff}

// Scenario: checklist 2-of-3 received blocks both readiness and transition.
func TestTransitionBlockedByIncompleteChecklist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusWaitingOnDocuments)

	snap := readySnapshot()
	snap.Checklist[2].Received = false
	f.snaps.set(e.ID, snap)

	res, err := f.svc.EvaluateReadiness(ctx, staffActor, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Ready || !reflect.DeepEqual(res.Reasons, []string{readiness.ReasonChecklistIncomplete}) {
		t.Fatalf("unexpected readiness: %+v", res)
	}

	_, err = f.svc.Transition(ctx, staffActor, e.ID, StatusInPreparation, "")
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("expected NotReadyError, got %v", err)
	}
	if !reflect.DeepEqual(notReady.Reasons, []string{readiness.ReasonChecklistIncomplete}) {
		t.Fatalf("unexpected reasons: %v", notReady.Reasons)
	}

	// A failed transition leaves no status_change entry behind.
	entries, _ := f.ledger.Query(ctx, audit.Filter{EntityID: e.ID, Type: audit.TypeStatusChange})
	if len(entries) != 0 {
		t.Fatalf("failed transition must not write history: %+v", entries)
	}
}

// Scenario: a ready entity transitions and exactly one entry is appended.
func TestTransitionCommitsWithSingleAuditEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusWaitingOnDocuments)
	f.snaps.set(e.ID, readySnapshot())

	res, err := f.svc.Transition(ctx, staffActor, e.ID, StatusInPreparation, "docs complete")
	if err != nil {
		t.Fatal(err)
	}
	if res.OldStatus != StatusWaitingOnDocuments || res.NewStatus != StatusInPreparation || res.AuditEntryID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, _ := f.store.Get(ctx, e.ID)
	if got.Status != StatusInPreparation {
		t.Fatalf("status not committed: %s", got.Status)
	}

	entries, _ := f.ledger.Query(ctx, audit.Filter{EntityID: e.ID, Type: audit.TypeStatusChange})
	if len(entries) != 1 {
		t.Fatalf("expected exactly one status_change entry, got %d", len(entries))
	}
	if entries[0].OldValue != "waiting_on_documents" || entries[0].NewValue != "in_preparation" {
		t.Fatalf("unexpected entry values: %+v", entries[0])
	}
}

// Readiness state reveals outstanding documents, so it is gated like an
// entity read: wrong-account clients and staff without a restricted-entity
// override get a denial, not the reasons list.
func TestEvaluateReadinessRequiresEntityRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusWaitingOnDocuments)
	f.snaps.set(e.ID, readySnapshot())

	outsider := access.Actor{ID: "client-9", Role: access.RoleClient, AccountID: "acct-other"}
	var denied *UnauthorizedError
	if _, err := f.svc.EvaluateReadiness(ctx, outsider, e.ID); !errors.As(err, &denied) || denied.Reason != access.ReasonCrossAccount {
		t.Fatalf("expected cross-account denial, got %v", err)
	}

	superActor := access.Actor{ID: "root-1", Role: access.RoleSuperAdmin}
	if err := f.svc.SetRestricted(ctx, superActor, e.ID, true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.EvaluateReadiness(ctx, staffActor, e.ID); !errors.As(err, &denied) || denied.Reason != access.ReasonRestrictedNoOverride {
		t.Fatalf("expected restricted denial, got %v", err)
	}

	if _, err := f.svc.EvaluateReadiness(ctx, superActor, e.ID); err == nil {
		t.Fatalf("restricted applies to super_admin reads without override too")
	}
}

func TestIllegalEdgesRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusWaitingOnDocuments)
	f.snaps.set(e.ID, readySnapshot())

	// Skipping forward two states is not an edge.
	if _, err := f.svc.Transition(ctx, staffActor, e.ID, StatusInReview, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	// Backward edges never exist.
	if _, err := f.svc.Transition(ctx, staffActor, e.ID, StatusNotStarted, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for backward edge, got %v", err)
	}
	// Unknown status is malformed input, not a denial.
	if _, err := f.svc.Transition(ctx, staffActor, e.ID, Status("archived"), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFiledIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusFiled)
	f.snaps.set(e.ID, readySnapshot())

	if _, err := f.svc.Transition(ctx, staffActor, e.ID, StatusFiled, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("filed must be terminal, got %v", err)
	}
}

func TestSkipToFiledRequiresSuperAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusInReview)
	f.snaps.set(e.ID, readySnapshot())

	_, err := f.svc.Transition(ctx, staffActor, e.ID, StatusFiled, "")
	var denied *UnauthorizedError
	if !errors.As(err, &denied) || denied.Reason != ReasonOverrideRequired {
		t.Fatalf("expected override denial, got %v", err)
	}

	root := access.Actor{ID: "root", Role: access.RoleSuperAdmin}
	res, err := f.svc.Transition(ctx, root, e.ID, StatusFiled, "override filing")
	if err != nil {
		t.Fatal(err)
	}
	if res.NewStatus != StatusFiled {
		t.Fatalf("unexpected status %s", res.NewStatus)
	}
}

func TestSkipToFiledStillGatedOnReadiness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusInPreparation)
	f.snaps.set(e.ID, readiness.Snapshot{}) // nothing ready

	root := access.Actor{ID: "root", Role: access.RoleSuperAdmin}
	if _, err := f.svc.Transition(ctx, root, e.ID, StatusFiled, ""); !errors.Is(err, ErrNotReady) {
		t.Fatalf("override must not bypass the gate, got %v", err)
	}
}

func TestInitialTransitionSkipsReadiness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusNotStarted)
	// No snapshot registered: the zero snapshot is entirely not ready.

	res, err := f.svc.Transition(ctx, staffActor, e.ID, StatusWaitingOnDocuments, "intake complete")
	if err != nil {
		t.Fatal(err)
	}
	if res.NewStatus != StatusWaitingOnDocuments {
		t.Fatalf("unexpected status %s", res.NewStatus)
	}
}

func TestRestrictedEntityBlocksTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := Entity{AccountID: "acct-1", Type: TypeIndividual, TaxYear: 2025, Status: StatusWaitingOnDocuments, IsRestricted: true}
	if err := f.store.Create(ctx, &e); err != nil {
		t.Fatal(err)
	}
	f.snaps.set(e.ID, readySnapshot())

	_, err := f.svc.Transition(ctx, staffActor, e.ID, StatusInPreparation, "")
	var denied *UnauthorizedError
	if !errors.As(err, &denied) || denied.Reason != access.ReasonRestrictedNoOverride {
		t.Fatalf("expected restricted denial, got %v", err)
	}
}

// The committed status history in the ledger exactly matches the sequence of
// successful transitions: no gaps, no extra entries.
func TestAuditHistoryMatchesTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusNotStarted)
	f.snaps.set(e.ID, readySnapshot())

	chain := []Status{StatusWaitingOnDocuments, StatusInPreparation, StatusInReview, StatusReadyToFile, StatusFiled}
	for _, target := range chain {
		if _, err := f.svc.Transition(ctx, staffActor, e.ID, target, ""); err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
	}
	// Sprinkle in failures that must leave no trace.
	_, _ = f.svc.Transition(ctx, staffActor, e.ID, StatusInReview, "")

	entries, _ := f.ledger.Query(ctx, audit.Filter{EntityID: e.ID, Type: audit.TypeStatusChange})
	if len(entries) != len(chain) {
		t.Fatalf("history length %d, want %d", len(entries), len(chain))
	}
	// Query is newest first; walk backwards to compare against the chain.
	for i, target := range chain {
		entry := entries[len(entries)-1-i]
		if entry.NewValue != string(target) {
			t.Fatalf("entry %d: got %s, want %s", i, entry.NewValue, target)
		}
	}
}

// Two racing transitions with the same observed precondition: exactly one
// commits, the other sees ConcurrentModification.
func TestConcurrentTransitionsOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusWaitingOnDocuments)
	f.snaps.set(e.ID, readySnapshot())

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Transition(ctx, staffActor, e.ID, StatusInPreparation, "")
		}(i)
	}
	wg.Wait()

	var committed int
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, ErrConcurrentModification):
			// Lost the compare-and-swap.
		case errors.Is(err, ErrInvalidTransition):
			// Read the already-advanced status before validating.
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if committed != 1 {
		t.Fatalf("committed=%d, want exactly 1", committed)
	}

	entries, _ := f.ledger.Query(ctx, audit.Filter{EntityID: e.ID, Type: audit.TypeStatusChange})
	if len(entries) != 1 {
		t.Fatalf("expected one committed entry, got %d", len(entries))
	}
}

// Two commits conditioned on the same observed status: the compare-and-swap
// guarantees the second one fails instead of silently overwriting.
func TestCommitTransitionCompareAndSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeIndividual, StatusWaitingOnDocuments)

	if _, err := f.store.CommitTransition(ctx, e.ID, StatusWaitingOnDocuments, StatusInPreparation, audit.Entry{ActorID: "a"}); err != nil {
		t.Fatal(err)
	}
	_, err := f.store.CommitTransition(ctx, e.ID, StatusWaitingOnDocuments, StatusInPreparation, audit.Entry{ActorID: "b"})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	entries, _ := f.ledger.Query(ctx, audit.Filter{EntityID: e.ID, Type: audit.TypeStatusChange})
	if len(entries) != 1 {
		t.Fatalf("losing commit must not write history, got %d entries", len(entries))
	}
}

// Partnership extension: due date computed as September 15 of the filing
// year, stored once, never recomputed.
func TestPartnershipExtensionDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypePartnership, StatusWaitingOnDocuments)

	if _, err := f.svc.RequestExtension(ctx, staffActor, e.ID); err != nil {
		t.Fatal(err)
	}
	filed, err := f.svc.FileExtension(ctx, staffActor, e.ID, "doc-7004")
	if err != nil {
		t.Fatal(err)
	}

	want := ExtensionDueDateFor(TypePartnership, 2025)
	if want.Month() != 9 || want.Day() != 15 || want.Year() != 2026 {
		t.Fatalf("due date rule wrong: %s", want)
	}
	if !filed.ExtensionDueDate.Equal(want) {
		t.Fatalf("stored due date %s, want %s", filed.ExtensionDueDate, want)
	}
	if filed.ExtensionDocRef != "doc-7004" {
		t.Fatalf("doc ref not stored: %q", filed.ExtensionDocRef)
	}

	// Re-reading never recomputes.
	again, _ := f.svc.Get(ctx, staffActor, e.ID)
	if !again.ExtensionDueDate.Equal(want) {
		t.Fatalf("due date changed on read: %s", again.ExtensionDueDate)
	}
}

func TestIndividualExtensionDueDate(t *testing.T) {
	want := ExtensionDueDateFor(TypeIndividual, 2025)
	if want.Month() != 10 || want.Day() != 15 || want.Year() != 2026 {
		t.Fatalf("individual due date rule wrong: %s", want)
	}
	if got := ExtensionDueDateFor(TypeSCorp, 2025); got.Month() != 9 {
		t.Fatalf("s_corp due date rule wrong: %s", got)
	}
}

func TestExtensionFlowOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.entity(t, TypeCCorp, StatusWaitingOnDocuments)

	// Filing before requesting is not a legal step.
	if _, err := f.svc.FileExtension(ctx, staffActor, e.ID, "doc"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.RequestExtension(ctx, staffActor, e.ID); err != nil {
		t.Fatal(err)
	}
	// Requesting twice is rejected.
	if _, err := f.svc.RequestExtension(ctx, staffActor, e.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on re-request, got %v", err)
	}
}
