package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jcopacetic/definit/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// CustomerRepository defines the interface for tenant operations
type CustomerRepository interface {
	Create(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Customer, error)
	GetBySlug(ctx context.Context, slug string) (domain.Customer, error)
	GetByPortalID(ctx context.Context, portalID string) (domain.Customer, error)
	List(ctx context.Context) ([]domain.Customer, error)
	Update(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// FeatureRepository defines the interface for worksheet binding operations
type FeatureRepository interface {
	Create(ctx context.Context, binding domain.FeatureBinding) (domain.FeatureBinding, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.FeatureBinding, error)
	GetActiveByCustomer(ctx context.Context, customerID uuid.UUID) (domain.FeatureBinding, error)
	Update(ctx context.Context, binding domain.FeatureBinding) (domain.FeatureBinding, error)
	AdvanceLastRow(ctx context.Context, bindingID uuid.UUID, delta int) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// WizardRepository defines the interface for setup-run state. Runs carry an
// expiry; reads past it behave as not found.
type WizardRepository interface {
	Put(ctx context.Context, run domain.WizardRun) (domain.WizardRun, error)
	Get(ctx context.Context, id uuid.UUID) (domain.WizardRun, error)
	Delete(ctx context.Context, id uuid.UUID) error
	PurgeExpired(ctx context.Context) (int64, error)
}
