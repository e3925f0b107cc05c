package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcopacetic/definit/internal/domain"
)

const wizardColumns = `id, customer_id, step, workbook_id, workbook_name,
	worksheet_id, worksheet_name, worksheet_position,
	headers, num_rows, num_columns,
	expires_at, created_at, updated_at`

type wizardRepository struct {
	pool *pgxpool.Pool
}

// NewWizardRepository wires a repository backed by pgxpool.
func NewWizardRepository(pool *pgxpool.Pool) WizardRepository {
	return &wizardRepository{pool: pool}
}

func scanWizardRun(row pgx.Row) (domain.WizardRun, error) {
	var run domain.WizardRun
	err := row.Scan(
		&run.ID,
		&run.CustomerID,
		&run.Step,
		&run.WorkbookID,
		&run.WorkbookName,
		&run.WorksheetID,
		&run.WorksheetName,
		&run.WorksheetPosition,
		&run.Headers,
		&run.NumRows,
		&run.NumColumns,
		&run.ExpiresAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return domain.WizardRun{}, err
	}
	return run, nil
}

// Put inserts or refreshes a run, bumping its expiry on every write so an
// active session keeps itself alive.
func (r *wizardRepository) Put(ctx context.Context, run domain.WizardRun) (domain.WizardRun, error) {
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO wizard_runs (id, customer_id, step, workbook_id, workbook_name,
			worksheet_id, worksheet_name, worksheet_position,
			headers, num_rows, num_columns, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now() + make_interval(secs => $12))
		 ON CONFLICT (id) DO UPDATE
		 SET step = EXCLUDED.step,
		     workbook_id = EXCLUDED.workbook_id,
		     workbook_name = EXCLUDED.workbook_name,
		     worksheet_id = EXCLUDED.worksheet_id,
		     worksheet_name = EXCLUDED.worksheet_name,
		     worksheet_position = EXCLUDED.worksheet_position,
		     headers = EXCLUDED.headers,
		     num_rows = EXCLUDED.num_rows,
		     num_columns = EXCLUDED.num_columns,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = now()
		 RETURNING `+wizardColumns,
		run.ID,
		run.CustomerID,
		run.Step,
		run.WorkbookID,
		run.WorkbookName,
		run.WorksheetID,
		run.WorksheetName,
		run.WorksheetPosition,
		run.Headers,
		run.NumRows,
		run.NumColumns,
		domain.WizardRunTTL.Seconds(),
	)

	saved, err := scanWizardRun(row)
	if err != nil {
		return domain.WizardRun{}, fmt.Errorf("failed to save wizard run: %w", err)
	}
	return saved, nil
}

// Get returns a live run; expired runs are indistinguishable from missing
// ones.
func (r *wizardRepository) Get(ctx context.Context, id uuid.UUID) (domain.WizardRun, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+wizardColumns+` FROM wizard_runs WHERE id = $1 AND expires_at > now()`,
		id,
	)
	run, err := scanWizardRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WizardRun{}, ErrNotFound
	}
	if err != nil {
		return domain.WizardRun{}, fmt.Errorf("failed to get wizard run: %w", err)
	}
	return run, nil
}

func (r *wizardRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM wizard_runs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete wizard run: %w", err)
	}
	return nil
}

// PurgeExpired removes stale runs and returns how many were dropped.
func (r *wizardRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM wizard_runs WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired wizard runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
