package wizard

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/jcopacetic/definit/internal/domain"
	"github.com/jcopacetic/definit/internal/msgraph"
	"github.com/jcopacetic/definit/internal/repository"
	"github.com/jcopacetic/definit/internal/sync"
)

// Drive is the surface of the Graph client the wizard depends on.
type Drive interface {
	sync.Sheet
	Worksheets(ctx context.Context, workbookID string) ([]msgraph.Worksheet, error)
	DownloadWorkbook(ctx context.Context, workbookID string) ([]byte, error)
	WorkbookLastSaved(ctx context.Context, workbookID string) (time.Time, error)
	WaitForSave(ctx context.Context, workbookID string, since time.Time, timeout, interval time.Duration) error
}

// DriveFactory builds a Graph client scoped to one customer's drive.
type DriveFactory func(ctx context.Context, customerID uuid.UUID) (Drive, error)

// SheetInfo summarizes one worksheet tab for the selection step.
type SheetInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Position   int      `json:"position"`
	Headers    []string `json:"headers"`
	NumRows    int      `json:"num_rows"`
	NumColumns int      `json:"num_columns"`
}

// Service walks a customer through binding a workbook and worksheet to the
// deal sync feature. Run state is persisted with a TTL so an abandoned
// session expires instead of lingering half-configured.
type Service struct {
	driveFor DriveFactory
	runs     repository.WizardRepository
	features repository.FeatureRepository
}

// NewService wires the wizard service.
func NewService(driveFor DriveFactory, runs repository.WizardRepository, features repository.FeatureRepository) *Service {
	return &Service{driveFor: driveFor, runs: runs, features: features}
}

// Start opens a fresh run for the customer.
func (s *Service) Start(ctx context.Context, customerID uuid.UUID) (domain.WizardRun, error) {
	run, err := s.runs.Put(ctx, domain.NewWizardRun(customerID))
	if err != nil {
		return domain.WizardRun{}, fmt.Errorf("failed to start wizard run: %w", err)
	}
	return run, nil
}

// Resume fetches a live run. Expired runs surface as not found.
func (s *Service) Resume(ctx context.Context, runID uuid.UUID) (domain.WizardRun, error) {
	return s.runs.Get(ctx, runID)
}

// SelectWorkbook records the chosen drive item and advances the run.
func (s *Service) SelectWorkbook(ctx context.Context, runID uuid.UUID, workbookID, workbookName string) (domain.WizardRun, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return domain.WizardRun{}, err
	}

	run.WorkbookID = workbookID
	run.WorkbookName = workbookName
	run.Step = domain.WizardStepWorkbookSelected
	return s.runs.Put(ctx, run)
}

// InspectWorkbook downloads the selected workbook and describes each sheet
// tab: header labels from row one plus overall dimensions. Inspection runs
// against a local parse of the file, so it costs one download regardless
// of how many tabs the workbook has.
func (s *Service) InspectWorkbook(ctx context.Context, runID uuid.UUID) ([]SheetInfo, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.WorkbookID == "" {
		return nil, fmt.Errorf("wizard run %s has no workbook selected", runID)
	}

	drive, err := s.driveFor(ctx, run.CustomerID)
	if err != nil {
		return nil, err
	}

	data, err := drive.DownloadWorkbook(ctx, run.WorkbookID)
	if err != nil {
		return nil, fmt.Errorf("failed to download workbook: %w", err)
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse workbook: %w", err)
	}
	defer workbook.Close()

	tabs, err := drive.Worksheets(ctx, run.WorkbookID)
	if err != nil {
		return nil, err
	}

	infos := make([]SheetInfo, 0, len(tabs))
	for _, tab := range tabs {
		info := SheetInfo{ID: tab.ID, Name: tab.Name, Position: tab.Position}
		if err := fillSheetDimensions(workbook, &info); err != nil {
			log.Printf("[WIZARD] could not inspect sheet %q: %v", tab.Name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// SelectWorksheet captures the chosen sheet's headers and dimensions on
// the run and advances it.
func (s *Service) SelectWorksheet(ctx context.Context, runID uuid.UUID, worksheetName string) (domain.WizardRun, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return domain.WizardRun{}, err
	}
	if run.WorkbookID == "" {
		return domain.WizardRun{}, fmt.Errorf("wizard run %s has no workbook selected", runID)
	}

	drive, err := s.driveFor(ctx, run.CustomerID)
	if err != nil {
		return domain.WizardRun{}, err
	}

	tabs, err := drive.Worksheets(ctx, run.WorkbookID)
	if err != nil {
		return domain.WizardRun{}, err
	}
	var chosen *msgraph.Worksheet
	for i := range tabs {
		if strings.EqualFold(tabs[i].Name, worksheetName) {
			chosen = &tabs[i]
			break
		}
	}
	if chosen == nil {
		return domain.WizardRun{}, fmt.Errorf("workbook has no worksheet named %q", worksheetName)
	}

	data, err := drive.DownloadWorkbook(ctx, run.WorkbookID)
	if err != nil {
		return domain.WizardRun{}, fmt.Errorf("failed to download workbook: %w", err)
	}
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return domain.WizardRun{}, fmt.Errorf("failed to parse workbook: %w", err)
	}
	defer workbook.Close()

	info := SheetInfo{Name: chosen.Name}
	if err := fillSheetDimensions(workbook, &info); err != nil {
		return domain.WizardRun{}, err
	}

	run.WorksheetID = chosen.ID
	run.WorksheetName = chosen.Name
	run.WorksheetPosition = chosen.Position
	run.Headers = info.Headers
	run.NumRows = info.NumRows
	run.NumColumns = info.NumColumns
	run.Step = domain.WizardStepSheetSelected
	return s.runs.Put(ctx, run)
}

// Complete turns the run into an active feature binding and discards the
// run. The last-row pointer starts at the sheet's current extent so
// existing rows are never overwritten. Waiting for the workbook save is a
// soft check: a timeout is logged, not surfaced.
func (s *Service) Complete(ctx context.Context, runID uuid.UUID) (domain.FeatureBinding, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return domain.FeatureBinding{}, err
	}
	if run.Step != domain.WizardStepSheetSelected {
		return domain.FeatureBinding{}, fmt.Errorf("wizard run %s has no worksheet selected", runID)
	}

	binding := domain.NewFeatureBinding(run.CustomerID)
	binding.WorkbookID = run.WorkbookID
	binding.WorkbookName = run.WorkbookName
	binding.WorksheetID = run.WorksheetID
	binding.WorksheetName = run.WorksheetName
	binding.WorksheetPosition = run.WorksheetPosition
	binding.Headers = run.Headers
	binding.NumRows = run.NumRows
	binding.NumColumns = run.NumColumns
	binding.Active = true
	if run.NumRows > binding.LastRow {
		binding.LastRow = run.NumRows
	}

	created, err := s.features.Create(ctx, binding)
	if err != nil {
		return domain.FeatureBinding{}, fmt.Errorf("failed to create feature binding: %w", err)
	}

	if err := s.runs.Delete(ctx, run.ID); err != nil {
		log.Printf("[WIZARD] failed to discard completed run %s: %v", run.ID, err)
	}

	if drive, err := s.driveFor(ctx, run.CustomerID); err == nil {
		if saved, err := drive.WorkbookLastSaved(ctx, binding.WorkbookID); err == nil {
			if err := drive.WaitForSave(ctx, binding.WorkbookID, saved.Add(-time.Second), 60*time.Second, 5*time.Second); err != nil {
				log.Printf("[WIZARD] workbook save confirmation timed out: %v", err)
			}
		}
	}

	return created, nil
}

// FindDealRow reports where a deal already sits on the bound sheet, or
// sync.ErrRowNotFound. The dashboard uses it for its "already on the
// sheet" check before offering a manual import.
func (s *Service) FindDealRow(ctx context.Context, binding domain.FeatureBinding, dealID string) (int, error) {
	drive, err := s.driveFor(ctx, binding.CustomerID)
	if err != nil {
		return 0, err
	}
	locator := sync.NewLocator(drive)
	return locator.Locate(ctx, binding.WorkbookID, binding.WorksheetName, "A", dealID)
}

// fillSheetDimensions reads headers and extent for one sheet of a parsed
// workbook. Trailing empty header cells are trimmed.
func fillSheetDimensions(workbook *excelize.File, info *SheetInfo) error {
	rows, err := workbook.GetRows(info.Name)
	if err != nil {
		return fmt.Errorf("failed to read sheet %q: %w", info.Name, err)
	}
	if len(rows) == 0 {
		return nil
	}

	headers := rows[0]
	for len(headers) > 0 && strings.TrimSpace(headers[len(headers)-1]) == "" {
		headers = headers[:len(headers)-1]
	}
	info.Headers = headers
	info.NumRows = len(rows)
	info.NumColumns = len(headers)
	return nil
}
