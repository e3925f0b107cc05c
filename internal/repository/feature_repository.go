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

const featureColumns = `id, customer_id, workbook_id, workbook_name,
	worksheet_id, worksheet_name, worksheet_position,
	headers, num_rows, num_columns, last_row, active,
	created_at, updated_at`

type featureRepository struct {
	pool *pgxpool.Pool
}

// NewFeatureRepository wires a repository backed by pgxpool.
func NewFeatureRepository(pool *pgxpool.Pool) FeatureRepository {
	return &featureRepository{pool: pool}
}

func scanFeature(row pgx.Row) (domain.FeatureBinding, error) {
	var binding domain.FeatureBinding
	err := row.Scan(
		&binding.ID,
		&binding.CustomerID,
		&binding.WorkbookID,
		&binding.WorkbookName,
		&binding.WorksheetID,
		&binding.WorksheetName,
		&binding.WorksheetPosition,
		&binding.Headers,
		&binding.NumRows,
		&binding.NumColumns,
		&binding.LastRow,
		&binding.Active,
		&binding.CreatedAt,
		&binding.UpdatedAt,
	)
	if err != nil {
		return domain.FeatureBinding{}, err
	}
	return binding, nil
}

func (r *featureRepository) Create(ctx context.Context, binding domain.FeatureBinding) (domain.FeatureBinding, error) {
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO customer_features (id, customer_id, workbook_id, workbook_name,
			worksheet_id, worksheet_name, worksheet_position,
			headers, num_rows, num_columns, last_row, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+featureColumns,
		binding.ID,
		binding.CustomerID,
		binding.WorkbookID,
		binding.WorkbookName,
		binding.WorksheetID,
		binding.WorksheetName,
		binding.WorksheetPosition,
		binding.Headers,
		binding.NumRows,
		binding.NumColumns,
		binding.LastRow,
		binding.Active,
	)

	created, err := scanFeature(row)
	if err != nil {
		return domain.FeatureBinding{}, fmt.Errorf("failed to create feature binding: %w", err)
	}
	return created, nil
}

func (r *featureRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.FeatureBinding, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+featureColumns+` FROM customer_features WHERE id = $1`, id)
	binding, err := scanFeature(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeatureBinding{}, ErrNotFound
	}
	if err != nil {
		return domain.FeatureBinding{}, fmt.Errorf("failed to get feature binding: %w", err)
	}
	return binding, nil
}

func (r *featureRepository) GetActiveByCustomer(ctx context.Context, customerID uuid.UUID) (domain.FeatureBinding, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+featureColumns+`
		 FROM customer_features
		 WHERE customer_id = $1 AND active
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		customerID,
	)
	binding, err := scanFeature(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeatureBinding{}, ErrNotFound
	}
	if err != nil {
		return domain.FeatureBinding{}, fmt.Errorf("failed to get active feature binding: %w", err)
	}
	return binding, nil
}

func (r *featureRepository) Update(ctx context.Context, binding domain.FeatureBinding) (domain.FeatureBinding, error) {
	row := r.pool.QueryRow(
		ctx,
		`UPDATE customer_features
		 SET workbook_id = $2, workbook_name = $3,
		     worksheet_id = $4, worksheet_name = $5, worksheet_position = $6,
		     headers = $7, num_rows = $8, num_columns = $9,
		     last_row = $10, active = $11, updated_at = now()
		 WHERE id = $1
		 RETURNING `+featureColumns,
		binding.ID,
		binding.WorkbookID,
		binding.WorkbookName,
		binding.WorksheetID,
		binding.WorksheetName,
		binding.WorksheetPosition,
		binding.Headers,
		binding.NumRows,
		binding.NumColumns,
		binding.LastRow,
		binding.Active,
	)

	updated, err := scanFeature(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeatureBinding{}, ErrNotFound
	}
	if err != nil {
		return domain.FeatureBinding{}, fmt.Errorf("failed to update feature binding: %w", err)
	}
	return updated, nil
}

// AdvanceLastRow applies the delta in a single statement so concurrent
// appends and deletes cannot lose updates.
func (r *featureRepository) AdvanceLastRow(ctx context.Context, bindingID uuid.UUID, delta int) (int, error) {
	var lastRow int
	err := r.pool.QueryRow(
		ctx,
		`UPDATE customer_features
		 SET last_row = last_row + $2, updated_at = now()
		 WHERE id = $1
		 RETURNING last_row`,
		bindingID,
		delta,
	).Scan(&lastRow)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to advance last row: %w", err)
	}
	return lastRow, nil
}

func (r *featureRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM customer_features WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete feature binding: %w", err)
	}
	return nil
}
