// Command smoke drives the governance core end to end against the in-memory
// stores: readiness gating, transitions with audit, SLA escalation, the
// extension sub-flow and the optimistic-concurrency discipline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/readiness"
	"taxdesk.org/internal/sla"
	"taxdesk.org/internal/workflow"
)

type snapshotMap map[string]readiness.Snapshot

func (m snapshotMap) Snapshot(ctx context.Context, entityID string) (readiness.Snapshot, error) {
	return m[entityID], nil
}

func main() {
	log.SetFlags(0)
	ctx := context.Background()

	ledger := audit.NewInMemory()
	store := workflow.NewInMemory(ledger)
	authority := access.NewAuthority(access.NewInMemoryGrants(), ledger)
	snaps := snapshotMap{}
	workflows := workflow.NewService(store, authority, snaps)

	admin := access.Actor{ID: "smoke-admin", Role: access.RoleAdmin}

	// Readiness gate blocks with the checklist reason.
	entity := workflow.Entity{AccountID: "smoke-acct", Type: workflow.TypeIndividual, TaxYear: 2025}
	if err := workflows.Create(ctx, admin, &entity); err != nil {
		log.Fatalf("create entity: %v", err)
	}
	if _, err := workflows.Transition(ctx, admin, entity.ID, workflow.StatusWaitingOnDocuments, "intake"); err != nil {
		log.Fatalf("transition to waiting_on_documents: %v", err)
	}
	snaps[entity.ID] = readiness.Snapshot{
		Checklist: []readiness.ChecklistItem{
			{Name: "W-2", Received: true},
			{Name: "1099-INT", Received: true},
			{Name: "K-1"},
		},
		QuestionnaireSubmitted: true,
		PrimaryIDValid:         true,
	}
	_, err := workflows.Transition(ctx, admin, entity.ID, workflow.StatusInPreparation, "")
	var notReady *workflow.NotReadyError
	if !errors.As(err, &notReady) {
		log.Fatalf("expected NotReady, got %v", err)
	}
	if len(notReady.Reasons) != 1 || notReady.Reasons[0] != readiness.ReasonChecklistIncomplete {
		log.Fatalf("unexpected reasons: %v", notReady.Reasons)
	}

	// Completing the checklist unblocks and writes one status_change entry.
	snap := snaps[entity.ID]
	snap.Checklist[2].Received = true
	snaps[entity.ID] = snap
	result, err := workflows.Transition(ctx, admin, entity.ID, workflow.StatusInPreparation, "docs complete")
	if err != nil {
		log.Fatalf("transition to in_preparation: %v", err)
	}
	entries, err := ledger.Query(ctx, audit.Filter{EntityID: entity.ID, Type: audit.TypeStatusChange})
	if err != nil {
		log.Fatalf("audit query: %v", err)
	}
	if len(entries) != 2 {
		log.Fatalf("status_change entries = %d, want 2", len(entries))
	}
	if entries[0].OldValue != string(workflow.StatusWaitingOnDocuments) || entries[0].NewValue != string(workflow.StatusInPreparation) {
		log.Fatalf("latest entry %s -> %s", entries[0].OldValue, entries[0].NewValue)
	}

	// SLA: a 50-hour-old unanswered inbound message escalates, a staff reply
	// resets.
	threads := sla.NewInMemoryThreads()
	engine := sla.NewEngine(threads, ledger)
	thread := sla.Thread{EntityID: entity.ID, TaxYear: 2025}
	if err := threads.Create(ctx, &thread); err != nil {
		log.Fatalf("create thread: %v", err)
	}
	status, err := engine.OnInboundMessage(ctx, thread.ID, time.Now().UTC().Add(-50*time.Hour))
	if err != nil {
		log.Fatalf("inbound message: %v", err)
	}
	if status != sla.StatusWarning {
		log.Fatalf("sla status = %s, want warning", status)
	}
	status, err = engine.OnOutboundMessage(ctx, thread.ID, time.Now().UTC())
	if err != nil {
		log.Fatalf("outbound message: %v", err)
	}
	if status != sla.StatusOK {
		log.Fatalf("sla status after reply = %s, want ok", status)
	}

	// Partnership extension: the due date is computed at filing, once.
	partnership := workflow.Entity{AccountID: "smoke-acct", Type: workflow.TypePartnership, TaxYear: 2025}
	if err := workflows.Create(ctx, admin, &partnership); err != nil {
		log.Fatalf("create partnership: %v", err)
	}
	if _, err := workflows.RequestExtension(ctx, admin, partnership.ID); err != nil {
		log.Fatalf("request extension: %v", err)
	}
	filed, err := workflows.FileExtension(ctx, admin, partnership.ID, "doc-7048")
	if err != nil {
		log.Fatalf("file extension: %v", err)
	}
	want := workflow.ExtensionDueDateFor(workflow.TypePartnership, 2025)
	if !filed.ExtensionDueDate.Equal(want) {
		log.Fatalf("extension due date %s, want %s", filed.ExtensionDueDate, want)
	}

	// Two commits against the same observed status: exactly one wins.
	if _, err := store.CommitTransition(ctx, partnership.ID, workflow.StatusNotStarted, workflow.StatusWaitingOnDocuments, audit.Entry{ActorID: admin.ID}); err != nil {
		log.Fatalf("first commit: %v", err)
	}
	_, err = store.CommitTransition(ctx, partnership.ID, workflow.StatusNotStarted, workflow.StatusWaitingOnDocuments, audit.Entry{ActorID: admin.ID})
	if !errors.Is(err, workflow.ErrConcurrentModification) {
		log.Fatalf("second commit: %v, want ErrConcurrentModification", err)
	}

	fmt.Printf("✅ smoke passed: entity=%s transition=%s thread=%s\n", entity.ID, result.NewStatus, thread.ID)
}
