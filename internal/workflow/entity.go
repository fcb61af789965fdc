package workflow

import (
	"time"

	"taxdesk.org/internal/access"
)

// EntityType is the filing classification, which drives extension due dates.
type EntityType string

const (
	TypeIndividual  EntityType = "individual"
	TypeHousehold   EntityType = "household"
	TypeCCorp       EntityType = "c_corp"
	TypeSCorp       EntityType = "s_corp"
	TypePartnership EntityType = "partnership"
)

// ParseEntityType validates an entity type string.
func ParseEntityType(s string) (EntityType, bool) {
	switch EntityType(s) {
	case TypeIndividual, TypeHousehold, TypeCCorp, TypeSCorp, TypePartnership:
		return EntityType(s), true
	}
	return "", false
}

// Entity is one tax-filing unit for one account and one tax year. Status only
// moves along the transition table; readiness is recomputed on demand and
// never stored as authoritative truth.
type Entity struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"account_id"`
	Type         EntityType     `json:"entity_type"`
	TaxYear      int            `json:"tax_year"`
	Status       Status         `json:"status"`
	Extension    ExtensionState `json:"extension_state"`
	IsRestricted bool           `json:"is_restricted"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	// Set once when the extension is filed; never recomputed afterwards.
	ExtensionDueDate time.Time `json:"extension_due_date,omitzero"`
	ExtensionDocRef  string    `json:"extension_doc_ref,omitempty"`
}

// Resource maps the entity onto the shape the permission authority evaluates.
func (e Entity) Resource() access.Resource {
	return access.Resource{ID: e.ID, AccountID: e.AccountID, IsRestricted: e.IsRestricted}
}

// ExtensionDueDateFor computes the extended due date at filing time: the
// filing year is the calendar year after the tax year; partnerships and
// S-corps get September 15, everyone else October 15.
func ExtensionDueDateFor(typ EntityType, taxYear int) time.Time {
	filingYear := taxYear + 1
	switch typ {
	case TypePartnership, TypeSCorp:
		return time.Date(filingYear, time.September, 15, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(filingYear, time.October, 15, 0, 0, 0, 0, time.UTC)
	}
}
