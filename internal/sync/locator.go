package sync

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jcopacetic/definit/internal/msgraph"
)

// ErrRowNotFound reports that no row in the scanned column matched.
var ErrRowNotFound = errors.New("row not found")

// Sheet is the surface of the Graph client the locator and writer depend on.
type Sheet interface {
	UsedRange(ctx context.Context, workbookID, worksheet string) (msgraph.Range, error)
	GetRange(ctx context.Context, workbookID, worksheet, address string) (msgraph.Range, error)
	UpdateRange(ctx context.Context, workbookID, worksheet, address string, values [][]any) error
	DeleteRow(ctx context.Context, workbookID, worksheet string, rowNumber int) error
}

var columnLetterPattern = regexp.MustCompile(`^[A-Za-z]{1,3}$`)

// Locator finds the worksheet row holding a given identifier by scanning a
// single column of the used range.
type Locator struct {
	sheet Sheet
}

// NewLocator creates a locator over the given sheet client.
func NewLocator(sheet Sheet) *Locator {
	return &Locator{sheet: sheet}
}

// Locate returns the 1-based row whose cell in the given column equals
// idValue, compared case-insensitively as strings. The column may be a
// letter ("A") or a header-row label, which is resolved against row one of
// the used range. Returns ErrRowNotFound when no row matches.
func (l *Locator) Locate(ctx context.Context, workbookID, worksheet, column, idValue string) (int, error) {
	used, err := l.sheet.UsedRange(ctx, workbookID, worksheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read used range: %w", err)
	}
	if len(used.Values) == 0 {
		return 0, ErrRowNotFound
	}

	startRow, err := rangeStartRow(used.Address)
	if err != nil {
		return 0, err
	}

	letter := column
	if !columnLetterPattern.MatchString(column) {
		letter, err = resolveHeaderColumn(used.Values[0], column)
		if err != nil {
			return 0, err
		}
	}
	letter = strings.ToUpper(letter)

	endRow := startRow + len(used.Values) - 1
	address := fmt.Sprintf("%s%d:%s%d", letter, startRow, letter, endRow)
	cells, err := l.sheet.GetRange(ctx, workbookID, worksheet, address)
	if err != nil {
		return 0, fmt.Errorf("failed to read column %s: %w", letter, err)
	}

	want := strings.ToLower(strings.TrimSpace(idValue))
	for i, row := range cells.Values {
		if len(row) == 0 {
			continue
		}
		got := strings.ToLower(strings.TrimSpace(cellString(row[0])))
		if got != "" && got == want {
			return startRow + i, nil
		}
	}
	return 0, ErrRowNotFound
}

// resolveHeaderColumn maps a header label to its column letter. Trailing
// empty header cells are ignored.
func resolveHeaderColumn(headerRow []any, label string) (string, error) {
	end := len(headerRow)
	for end > 0 && strings.TrimSpace(cellString(headerRow[end-1])) == "" {
		end--
	}

	want := strings.ToLower(strings.TrimSpace(label))
	for i := 0; i < end; i++ {
		if strings.ToLower(strings.TrimSpace(cellString(headerRow[i]))) == want {
			name, err := excelize.ColumnNumberToName(i + 1)
			if err != nil {
				return "", fmt.Errorf("failed to name column %d: %w", i+1, err)
			}
			return name, nil
		}
	}
	return "", fmt.Errorf("no header column named %q", label)
}

// rangeStartRow extracts the first row number from a sheet-qualified A1
// address such as "Sheet1!A1:S12".
func rangeStartRow(address string) (int, error) {
	ref := address
	if bang := strings.LastIndex(ref, "!"); bang >= 0 {
		ref = ref[bang+1:]
	}
	if colon := strings.Index(ref, ":"); colon >= 0 {
		ref = ref[:colon]
	}

	_, row, err := excelize.CellNameToCoordinates(ref)
	if err != nil {
		return 0, fmt.Errorf("failed to parse range address %q: %w", address, err)
	}
	return row, nil
}

func cellString(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
