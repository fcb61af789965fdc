// Package readiness computes whether a filing entity may progress past
// document collection. Evaluation is a pure pipeline of predicate checks;
// each failing predicate contributes exactly one reason, in a fixed order,
// because callers surface "the first blocking reason".
package readiness

import "context"

// ChecklistItem is one requested document on the entity's checklist.
type ChecklistItem struct {
	Name          string `json:"name"`
	NotApplicable bool   `json:"not_applicable"`
	Received      bool   `json:"received"`
}

// Snapshot is the ephemeral input assembled from the owning sub-systems.
// It is recomputed per evaluation and never persisted as a single record.
type Snapshot struct {
	Checklist              []ChecklistItem `json:"checklist"`
	QuestionnaireSubmitted bool            `json:"questionnaire_submitted"`
	PrimaryIDValid         bool            `json:"primary_id_valid"`
	RequiresTwoSigners     bool            `json:"requires_two_signers"`
	SpouseIDValid          bool            `json:"spouse_id_valid"`
	OpenActionItems        []string        `json:"open_action_items"`

	// Signature-workflow signals. Carried for display only: they must never
	// block readiness, regardless of their state.
	EngagementLetterSigned    bool `json:"engagement_letter_signed"`
	EfileAuthorizationSigned  bool `json:"efile_authorization_signed"`
	DocumentReceiptsConfirmed bool `json:"document_receipts_confirmed"`
}

// Result reports readiness and the ordered blocking reasons.
type Result struct {
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons"`
}

// Blocking reasons, one per predicate, in evaluation order.
const (
	ReasonChecklistIncomplete  = "Checklist incomplete"
	ReasonQuestionnaireMissing = "Questionnaire not submitted"
	ReasonPrimaryIDInvalid     = "Primary taxpayer ID invalid"
	ReasonSpouseIDInvalid      = "Spouse ID invalid"
	ReasonOpenActionItems      = "Open action items outstanding"
)

// Provider assembles a snapshot for an entity from the checklist,
// questionnaire and ID sub-systems.
type Provider interface {
	Snapshot(ctx context.Context, entityID string) (Snapshot, error)
}

// Evaluate computes readiness from a snapshot. Deterministic, no side effects.
func Evaluate(s Snapshot) Result {
	var reasons []string

	if !checklistComplete(s.Checklist) {
		reasons = append(reasons, ReasonChecklistIncomplete)
	}
	if !s.QuestionnaireSubmitted {
		reasons = append(reasons, ReasonQuestionnaireMissing)
	}
	if !s.PrimaryIDValid {
		reasons = append(reasons, ReasonPrimaryIDInvalid)
	}
	if s.RequiresTwoSigners && !s.SpouseIDValid {
		reasons = append(reasons, ReasonSpouseIDInvalid)
	}
	if len(s.OpenActionItems) > 0 {
		reasons = append(reasons, ReasonOpenActionItems)
	}

	return Result{Ready: len(reasons) == 0, Reasons: reasons}
}

// checklistComplete holds vacuously for an empty checklist: the predicate is
// required only once at least one item is applicable.
func checklistComplete(items []ChecklistItem) bool {
	for _, item := range items {
		if item.NotApplicable {
			continue
		}
		if !item.Received {
			return false
		}
	}
	return true
}
