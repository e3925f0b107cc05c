package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wizard steps, in the order the setup flow advances through them.
const (
	WizardStepStarted          = "started"
	WizardStepWorkbookSelected = "workbook_selected"
	WizardStepSheetSelected    = "sheet_selected"
	WizardStepCompleted        = "completed"
)

// WizardRunTTL is how long an unfinished setup run stays resumable.
const WizardRunTTL = 30 * time.Minute

// WizardRun is the persisted state of one in-progress worksheet setup
// flow. Runs expire so abandoned sessions cannot be resumed indefinitely.
type WizardRun struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Step       string    `json:"step"`

	WorkbookID   string `json:"workbook_id"`
	WorkbookName string `json:"workbook_name"`

	WorksheetID       string `json:"worksheet_id"`
	WorksheetName     string `json:"worksheet_name"`
	WorksheetPosition int    `json:"worksheet_position"`

	Headers    []string `json:"headers"`
	NumRows    int      `json:"num_rows"`
	NumColumns int      `json:"num_columns"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWizardRun starts a run for a customer with a fresh expiry.
func NewWizardRun(customerID uuid.UUID) WizardRun {
	now := time.Now()
	return WizardRun{
		ID:         uuid.New(),
		CustomerID: customerID,
		Step:       WizardStepStarted,
		ExpiresAt:  now.Add(WizardRunTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Expired reports whether the run can no longer be resumed.
func (r WizardRun) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
