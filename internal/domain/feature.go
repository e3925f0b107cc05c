package domain

import (
	"time"

	"github.com/google/uuid"
)

// HeaderRow is the worksheet row reserved for column headers; data rows
// start below it, so a fresh binding's last row pointer begins at 2.
const HeaderRow = 1

// FeatureBinding ties a customer to the workbook and worksheet their deals
// sync into. LastRow is the cached last-populated row number: it is advanced
// after every successful append and decremented after a row delete, and is
// read by the row locator to bound its search range.
type FeatureBinding struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`

	WorkbookID   string `json:"workbook_id"`
	WorkbookName string `json:"workbook_name"`

	WorksheetID       string `json:"worksheet_id"`
	WorksheetName     string `json:"worksheet_name"`
	WorksheetPosition int    `json:"worksheet_position"`

	Headers    []string `json:"worksheet_headers"`
	NumRows    int      `json:"worksheet_num_rows"`
	NumColumns int      `json:"worksheet_num_columns"`

	LastRow int  `json:"last_row"`
	Active  bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFeatureBinding creates an inactive binding for a customer with the last
// row pointer at the first data row boundary.
func NewFeatureBinding(customerID uuid.UUID) FeatureBinding {
	now := time.Now()
	return FeatureBinding{
		ID:         uuid.New(),
		CustomerID: customerID,
		LastRow:    HeaderRow + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
