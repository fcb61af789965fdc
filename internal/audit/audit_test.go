package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"taxdesk.org/internal/auth"
	"taxdesk.org/internal/obs"
)

func TestAppendAssignsIdentityAndSequence(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	e1 := &Entry{EntityID: "ent-1", ActorID: "staff-1", Type: TypeStatusChange, OldValue: "not_started", NewValue: "waiting_on_documents"}
	e2 := &Entry{EntityID: "ent-1", ActorID: "staff-1", Type: TypeStatusChange, OldValue: "waiting_on_documents", NewValue: "in_preparation"}

	id1, err := l.Append(ctx, e1)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := l.Append(ctx, e2)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("bad ids: %q %q", id1, id2)
	}
	if e2.Seq <= e1.Seq {
		t.Fatalf("sequence not monotonic: %d then %d", e1.Seq, e2.Seq)
	}
}

func TestAppendRejectsMalformedEntry(t *testing.T) {
	l := NewInMemory()
	if _, err := l.Append(context.Background(), &Entry{EntityID: "ent-1", ActorID: "a", Type: "bogus"}); err == nil {
		t.Fatal("expected invalid entry error")
	}
	if _, err := l.Append(context.Background(), &Entry{Type: TypeUserAction}); err == nil {
		t.Fatal("expected invalid entry error for missing ids")
	}
}

func TestQueryNewestFirstWithStableTies(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewInMemory().WithClock(func() time.Time { return at })
	ctx := context.Background()

	// Same occurred_at for all three: order must fall back to insertion sequence.
	for _, v := range []string{"first", "second", "third"} {
		if _, err := l.Append(ctx, &Entry{EntityID: "ent-1", ActorID: "a", Type: TypeUserAction, Details: v}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := l.Query(ctx, Filter{EntityID: "ent-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res))
	}
	if res[0].Details != "third" || res[2].Details != "first" {
		t.Fatalf("tie-break ordering wrong: %s, %s, %s", res[0].Details, res[1].Details, res[2].Details)
	}
}

func TestQueryFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	current := base
	l := NewInMemory().WithClock(func() time.Time { return current })
	ctx := context.Background()

	entries := []Entry{
		{EntityID: "ent-1", ActorID: "a", Type: TypeStatusChange},
		{EntityID: "ent-1", ActorID: "a", Type: TypePermissionChange},
		{EntityID: "ent-2", ActorID: "a", Type: TypeStatusChange},
	}
	for i := range entries {
		current = base.Add(time.Duration(i) * time.Hour)
		if _, err := l.Append(ctx, &entries[i]); err != nil {
			t.Fatal(err)
		}
	}

	res, _ := l.Query(ctx, Filter{EntityID: "ent-1", Type: TypeStatusChange})
	if len(res) != 1 || res[0].EntityID != "ent-1" {
		t.Fatalf("unexpected filter result: %+v", res)
	}

	res, _ = l.Query(ctx, Filter{From: base.Add(30 * time.Minute)})
	if len(res) != 2 {
		t.Fatalf("date range filter failed: %+v", res)
	}

	res, _ = l.Query(ctx, Filter{Limit: 1})
	if len(res) != 1 {
		t.Fatalf("limit not applied: %+v", res)
	}
}

func TestAppendAtomicRollsBackOnError(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	_, err := l.AppendAtomic(ctx, &Entry{EntityID: "ent-1", ActorID: "a", Type: TypeStatusChange}, func() error {
		return context.Canceled
	})
	if err == nil {
		t.Fatal("expected error from fn")
	}
	res, _ := l.Query(ctx, Filter{})
	if len(res) != 0 {
		t.Fatalf("entry leaked after failed commit: %+v", res)
	}
}

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithActor(ctx, "staff-42", "admin")

	if err := LogEvent(ctx, "workflow.transition", map[string]any{"target": "in_review"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["event"] != "workflow.transition" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "staff-42" {
		t.Fatalf("unexpected actor id: %v", entry["actor_id"])
	}
}
