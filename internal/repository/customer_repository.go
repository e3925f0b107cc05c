package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcopacetic/definit/internal/crypto"
	"github.com/jcopacetic/definit/internal/domain"
)

const customerColumns = `id, slug, name, domain, hubspot_portal_id,
	hubspot_app_secret, hubspot_access_token,
	msgraph_site_id, msgraph_drive_id, msgraph_client_id,
	msgraph_client_secret, msgraph_tenant_id, msgraph_scopes,
	created_at, updated_at`

type customerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository wires a repository backed by pgxpool.
func NewCustomerRepository(pool *pgxpool.Pool) CustomerRepository {
	return &customerRepository{pool: pool}
}

func scanCustomer(row pgx.Row) (domain.Customer, error) {
	var (
		customer    domain.Customer
		appSecret   string
		accessToken string
		siteID      string
		driveID     string
		clientID    string
		clientSec   string
		tenantID    string
		scopes      string
	)
	err := row.Scan(
		&customer.ID,
		&customer.Slug,
		&customer.Name,
		&customer.Domain,
		&customer.HubSpotPortalID,
		&appSecret,
		&accessToken,
		&siteID,
		&driveID,
		&clientID,
		&clientSec,
		&tenantID,
		&scopes,
		&customer.CreatedAt,
		&customer.UpdatedAt,
	)
	if err != nil {
		return domain.Customer{}, err
	}

	customer.HubSpotAppSecret = crypto.FromCiphertext(appSecret)
	customer.HubSpotAccessToken = crypto.FromCiphertext(accessToken)
	customer.GraphSiteID = crypto.FromCiphertext(siteID)
	customer.GraphDriveID = crypto.FromCiphertext(driveID)
	customer.GraphClientID = crypto.FromCiphertext(clientID)
	customer.GraphClientSecret = crypto.FromCiphertext(clientSec)
	customer.GraphTenantID = crypto.FromCiphertext(tenantID)
	customer.GraphScopes = crypto.FromCiphertext(scopes)
	return customer, nil
}

func (r *customerRepository) Create(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO customers (id, slug, name, domain, hubspot_portal_id,
			hubspot_app_secret, hubspot_access_token,
			msgraph_site_id, msgraph_drive_id, msgraph_client_id,
			msgraph_client_secret, msgraph_tenant_id, msgraph_scopes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING `+customerColumns,
		customer.ID,
		customer.Slug,
		customer.Name,
		customer.Domain,
		customer.HubSpotPortalID,
		customer.HubSpotAppSecret.Ciphertext(),
		customer.HubSpotAccessToken.Ciphertext(),
		customer.GraphSiteID.Ciphertext(),
		customer.GraphDriveID.Ciphertext(),
		customer.GraphClientID.Ciphertext(),
		customer.GraphClientSecret.Ciphertext(),
		customer.GraphTenantID.Ciphertext(),
		customer.GraphScopes.Ciphertext(),
	)

	created, err := scanCustomer(row)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("failed to create customer: %w", err)
	}
	return created, nil
}

func (r *customerRepository) getBy(ctx context.Context, where string, arg any) (domain.Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE `+where, arg)
	customer, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Customer{}, ErrNotFound
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("failed to get customer: %w", err)
	}
	return customer, nil
}

func (r *customerRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Customer, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *customerRepository) GetBySlug(ctx context.Context, slug string) (domain.Customer, error) {
	return r.getBy(ctx, "slug = $1", slug)
}

func (r *customerRepository) GetByPortalID(ctx context.Context, portalID string) (domain.Customer, error) {
	return r.getBy(ctx, "hubspot_portal_id = $1", portalID)
}

func (r *customerRepository) List(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := []domain.Customer{}
	for rows.Next() {
		customer, scanErr := scanCustomer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", scanErr)
		}
		customers = append(customers, customer)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", rowsErr)
	}
	return customers, nil
}

func (r *customerRepository) Update(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	row := r.pool.QueryRow(
		ctx,
		`UPDATE customers
		 SET name = $2, domain = $3, hubspot_portal_id = $4,
		     hubspot_app_secret = $5, hubspot_access_token = $6,
		     msgraph_site_id = $7, msgraph_drive_id = $8, msgraph_client_id = $9,
		     msgraph_client_secret = $10, msgraph_tenant_id = $11, msgraph_scopes = $12,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+customerColumns,
		customer.ID,
		customer.Name,
		customer.Domain,
		customer.HubSpotPortalID,
		customer.HubSpotAppSecret.Ciphertext(),
		customer.HubSpotAccessToken.Ciphertext(),
		customer.GraphSiteID.Ciphertext(),
		customer.GraphDriveID.Ciphertext(),
		customer.GraphClientID.Ciphertext(),
		customer.GraphClientSecret.Ciphertext(),
		customer.GraphTenantID.Ciphertext(),
		customer.GraphScopes.Ciphertext(),
	)

	updated, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Customer{}, ErrNotFound
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("failed to update customer: %w", err)
	}
	return updated, nil
}

func (r *customerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return nil
}
