package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jcopacetic/definit/internal/domain"
)

// lastColumn is the rightmost cell of a deal row.
const lastColumn = "S"

// BindingCounter persists the last-row counter of a feature binding.
// AdvanceLastRow must apply the delta atomically and return the new value.
type BindingCounter interface {
	AdvanceLastRow(ctx context.Context, bindingID uuid.UUID, delta int) (int, error)
}

// Writer upserts and deletes deal rows in the bound worksheet. Appends to
// the same binding are serialized so two concurrent webhooks cannot claim
// the same row.
type Writer struct {
	sheet    Sheet
	locator  *Locator
	bindings BindingCounter

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewWriter creates a writer over the given sheet client and binding store.
func NewWriter(sheet Sheet, bindings BindingCounter) *Writer {
	return &Writer{
		sheet:    sheet,
		locator:  NewLocator(sheet),
		bindings: bindings,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (w *Writer) bindingLock(bindingID uuid.UUID) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[bindingID]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[bindingID] = lock
	}
	return lock
}

// Upsert writes the record into the row already holding its deal id, or
// appends it below the binding's last populated row. The whole row is
// written in a single range update either way.
func (w *Writer) Upsert(ctx context.Context, binding *domain.FeatureBinding, record domain.DealRecord) error {
	lock := w.bindingLock(binding.ID)
	lock.Lock()
	defer lock.Unlock()

	row, err := w.locator.Locate(ctx, binding.WorkbookID, binding.WorksheetName, "A", record.DealID)
	appending := false
	switch {
	case err == nil:
	case errors.Is(err, ErrRowNotFound):
		row = binding.LastRow + 1
		appending = true
	default:
		return err
	}

	address := fmt.Sprintf("A%d:%s%d", row, lastColumn, row)
	if err := w.sheet.UpdateRange(ctx, binding.WorkbookID, binding.WorksheetName, address, [][]any{rowValues(record)}); err != nil {
		return fmt.Errorf("failed to write deal %s at row %d: %w", record.DealID, row, err)
	}

	if appending {
		newLast, err := w.bindings.AdvanceLastRow(ctx, binding.ID, 1)
		if err != nil {
			return fmt.Errorf("failed to advance last row for binding %s: %w", binding.ID, err)
		}
		binding.LastRow = newLast
		log.Printf("[SYNC] appended deal %s at row %d (last row now %d)", record.DealID, row, newLast)
	} else {
		log.Printf("[SYNC] updated deal %s at row %d", record.DealID, row)
	}
	return nil
}

// Delete removes the row holding the deal id, shifting rows below it up.
// Returns ErrRowNotFound when the deal has no row.
func (w *Writer) Delete(ctx context.Context, binding *domain.FeatureBinding, dealID string) error {
	lock := w.bindingLock(binding.ID)
	lock.Lock()
	defer lock.Unlock()

	row, err := w.locator.Locate(ctx, binding.WorkbookID, binding.WorksheetName, "A", dealID)
	if err != nil {
		return err
	}

	if err := w.sheet.DeleteRow(ctx, binding.WorkbookID, binding.WorksheetName, row); err != nil {
		return fmt.Errorf("failed to delete row %d for deal %s: %w", row, dealID, err)
	}

	newLast, err := w.bindings.AdvanceLastRow(ctx, binding.ID, -1)
	if err != nil {
		return fmt.Errorf("failed to advance last row for binding %s: %w", binding.ID, err)
	}
	binding.LastRow = newLast
	log.Printf("[SYNC] deleted deal %s from row %d (last row now %d)", dealID, row, newLast)
	return nil
}

// rowValues lays a record out across columns A through S.
func rowValues(record domain.DealRecord) []any {
	plansCell := any("")
	if record.PlansLink != "" {
		plansCell = hyperlink(record.PlansLink, "Link to Plans")
	}
	return []any{
		record.DealID,
		hyperlink(record.DealLink, record.Name),
		plansCell,
		record.City,
		record.State,
		record.AssociatedContact,
		record.AssociatedCompany,
		record.DealStage,
		record.DealOwner,
		hyperlink(record.QuoteLink, record.DealAmount),
		record.LastContacted,
		record.LastContactedType,
		record.LastEngagement,
		record.LastEngagementType,
		record.Email,
		record.Call,
		record.Meeting,
		record.Note,
		record.Task,
	}
}

// hyperlink builds a HYPERLINK formula, falling back to the bare text when
// no URL is available.
func hyperlink(url, text string) any {
	if url == "" {
		return text
	}
	escape := func(s string) string { return strings.ReplaceAll(s, `"`, `""`) }
	return fmt.Sprintf(`=HYPERLINK("%s","%s")`, escape(url), escape(text))
}
