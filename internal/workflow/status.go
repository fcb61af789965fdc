// Package workflow owns the entity lifecycle: the status transition machine,
// the extension sub-state, and the commit discipline that keeps a status
// write and its audit entry observably atomic.
package workflow

import "errors"

// Status is the entity lifecycle state. The chain is strictly forward; filed
// is terminal for the tax year. Reopening is a separate administrative record
// type, never a backward edge.
type Status string

const (
	StatusNotStarted         Status = "not_started"
	StatusWaitingOnDocuments Status = "waiting_on_documents"
	StatusInPreparation      Status = "in_preparation"
	StatusInReview           Status = "in_review"
	StatusReadyToFile        Status = "ready_to_file"
	StatusFiled              Status = "filed"
)

// successor is the exhaustive transition table. Every surface consumes this
// table; none re-implements it.
var successor = map[Status]Status{
	StatusNotStarted:         StatusWaitingOnDocuments,
	StatusWaitingOnDocuments: StatusInPreparation,
	StatusInPreparation:      StatusInReview,
	StatusInReview:           StatusReadyToFile,
	StatusReadyToFile:        StatusFiled,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusNotStarted, StatusWaitingOnDocuments, StatusInPreparation,
		StatusInReview, StatusReadyToFile, StatusFiled:
		return Status(s), true
	}
	return "", false
}

// legalTransition reports whether current→target is an edge of the table.
// needsOverride marks the one documented shortcut: filing from any state
// other than ready_to_file, reserved for super_admin and still gated on
// readiness.
func legalTransition(current, target Status) (ok, needsOverride bool) {
	if current == StatusFiled {
		return false, false
	}
	if successor[current] == target {
		return true, false
	}
	if target == StatusFiled {
		return true, true
	}
	return false, false
}

// requiresReadiness holds for every edge except the system-triggered
// not_started → waiting_on_documents.
func requiresReadiness(current, target Status) bool {
	return !(current == StatusNotStarted && target == StatusWaitingOnDocuments)
}

// ExtensionState is the orthogonal extension sub-axis.
type ExtensionState string

const (
	ExtensionNone      ExtensionState = "none"
	ExtensionRequested ExtensionState = "requested"
	ExtensionFiled     ExtensionState = "filed"
)

var (
	ErrNotFound               = errors.New("workflow: not found")
	ErrInvalidInput           = errors.New("workflow: invalid input")
	ErrInvalidTransition      = errors.New("workflow: invalid transition")
	ErrNotReady               = errors.New("workflow: readiness gate failed")
	ErrUnauthorized           = errors.New("workflow: unauthorized")
	ErrConcurrentModification = errors.New("workflow: concurrent modification")
)

// NotReadyError carries the ordered blocking reasons from the gate evaluator.
type NotReadyError struct {
	Reasons []string
}

func (e *NotReadyError) Error() string {
	if len(e.Reasons) == 0 {
		return ErrNotReady.Error()
	}
	return ErrNotReady.Error() + ": " + e.Reasons[0]
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// UnauthorizedError carries the stable denial reason code.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return ErrUnauthorized.Error() + ": " + e.Reason
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// ReasonOverrideRequired denies a skip-to-filed attempted without super_admin
// privilege.
const ReasonOverrideRequired = "deny.override_required"
