package readiness

import (
	"reflect"
	"testing"
)

func completeSnapshot() Snapshot {
	return Snapshot{
		Checklist: []ChecklistItem{
			{Name: "W-2", Received: true},
			{Name: "1099-INT", Received: true},
			{Name: "K-1", NotApplicable: true},
		},
		QuestionnaireSubmitted: true,
		PrimaryIDValid:         true,
	}
}

func TestEvaluateReady(t *testing.T) {
	res := Evaluate(completeSnapshot())
	if !res.Ready {
		t.Fatalf("expected ready, got reasons %v", res.Reasons)
	}
	if len(res.Reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", res.Reasons)
	}
}

func TestChecklistPartiallyReceived(t *testing.T) {
	s := completeSnapshot()
	s.Checklist[1].Received = false

	res := Evaluate(s)
	if res.Ready {
		t.Fatal("expected not ready")
	}
	if !reflect.DeepEqual(res.Reasons, []string{ReasonChecklistIncomplete}) {
		t.Fatalf("unexpected reasons: %v", res.Reasons)
	}
}

func TestEmptyChecklistIsComplete(t *testing.T) {
	s := completeSnapshot()
	s.Checklist = nil
	if res := Evaluate(s); !res.Ready {
		t.Fatalf("empty checklist must be vacuously complete, got %v", res.Reasons)
	}
}

func TestAllNotApplicableIsComplete(t *testing.T) {
	s := completeSnapshot()
	s.Checklist = []ChecklistItem{
		{Name: "K-1", NotApplicable: true},
		{Name: "8283", NotApplicable: true},
	}
	if res := Evaluate(s); !res.Ready {
		t.Fatalf("all-N/A checklist must be complete, got %v", res.Reasons)
	}
}

func TestReasonOrdering(t *testing.T) {
	s := Snapshot{
		Checklist:          []ChecklistItem{{Name: "W-2"}},
		RequiresTwoSigners: true,
		OpenActionItems:    []string{"confirm dependent SSN"},
	}
	res := Evaluate(s)
	want := []string{
		ReasonChecklistIncomplete,
		ReasonQuestionnaireMissing,
		ReasonPrimaryIDInvalid,
		ReasonSpouseIDInvalid,
		ReasonOpenActionItems,
	}
	if !reflect.DeepEqual(res.Reasons, want) {
		t.Fatalf("reasons out of order:\n got %v\nwant %v", res.Reasons, want)
	}
}

func TestSpouseIDOnlyWhenTwoSigners(t *testing.T) {
	s := completeSnapshot()
	s.SpouseIDValid = false
	s.RequiresTwoSigners = false
	if res := Evaluate(s); !res.Ready {
		t.Fatalf("spouse ID must not block single-signer filings, got %v", res.Reasons)
	}
	s.RequiresTwoSigners = true
	res := Evaluate(s)
	if res.Ready || !reflect.DeepEqual(res.Reasons, []string{ReasonSpouseIDInvalid}) {
		t.Fatalf("expected spouse ID reason, got %v", res.Reasons)
	}
}

// Signature workflows never gate operational readiness, no matter their state.
func TestSignatureSignalsNeverBlock(t *testing.T) {
	s := completeSnapshot()
	s.EngagementLetterSigned = false
	s.EfileAuthorizationSigned = false
	s.DocumentReceiptsConfirmed = false

	res := Evaluate(s)
	if !res.Ready {
		t.Fatalf("signature signals must not block, got %v", res.Reasons)
	}

	// Even when everything else fails, the signature signals contribute nothing.
	s = Snapshot{RequiresTwoSigners: true, Checklist: []ChecklistItem{{Name: "W-2"}}}
	res = Evaluate(s)
	for _, reason := range res.Reasons {
		switch reason {
		case ReasonChecklistIncomplete, ReasonQuestionnaireMissing,
			ReasonPrimaryIDInvalid, ReasonSpouseIDInvalid, ReasonOpenActionItems:
		default:
			t.Fatalf("unexpected reason %q", reason)
		}
	}
}
