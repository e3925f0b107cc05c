package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/jcopacetic/definit/internal/crypto"
)

// Customer represents a tenant connecting a HubSpot portal to a Microsoft
// Graph drive. Credentials are stored encrypted and only decrypted on read
// through a crypto.KeyProvider.
type Customer struct {
	ID   uuid.UUID `json:"id"`
	Slug string    `json:"slug"`

	Name   string `json:"name"`
	Domain string `json:"domain"`

	HubSpotPortalID    string        `json:"hubspot_portal_id"`
	HubSpotAppSecret   crypto.Secret `json:"-"`
	HubSpotAccessToken crypto.Secret `json:"-"`

	GraphSiteID       crypto.Secret `json:"-"`
	GraphDriveID      crypto.Secret `json:"-"`
	GraphClientID     crypto.Secret `json:"-"`
	GraphClientSecret crypto.Secret `json:"-"`
	GraphTenantID     crypto.Secret `json:"-"`
	GraphScopes       crypto.Secret `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCustomer creates a customer with a fresh identity.
func NewCustomer(name, domainURL, portalID string) Customer {
	now := time.Now()
	id := uuid.New()
	return Customer{
		ID:              id,
		Slug:            id.String(),
		Name:            name,
		Domain:          domainURL,
		HubSpotPortalID: portalID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ConnectionReady reports whether every credential required for syncing is
// present and decryptable.
func (c Customer) ConnectionReady(keys crypto.KeyProvider) bool {
	required := []crypto.Secret{
		c.HubSpotAppSecret,
		c.HubSpotAccessToken,
		c.GraphSiteID,
		c.GraphDriveID,
		c.GraphClientID,
		c.GraphTenantID,
		c.GraphScopes,
	}
	for _, secret := range required {
		if secret.IsZero() {
			return false
		}
		if _, err := secret.Reveal(keys); err != nil {
			return false
		}
	}
	return true
}

// ConnectionChecks returns the per-credential readiness map used by the
// dashboard UI.
func (c Customer) ConnectionChecks(keys crypto.KeyProvider) map[string]bool {
	check := func(s crypto.Secret) bool {
		if s.IsZero() {
			return false
		}
		_, err := s.Reveal(keys)
		return err == nil
	}
	checks := map[string]bool{
		"hubspot_app_secret":   check(c.HubSpotAppSecret),
		"hubspot_access_token": check(c.HubSpotAccessToken),
		"msgraph_site_id":      check(c.GraphSiteID),
		"msgraph_drive_id":     check(c.GraphDriveID),
		"msgraph_client_id":    check(c.GraphClientID),
		"msgraph_tenant_id":    check(c.GraphTenantID),
		"msgraph_scopes":       check(c.GraphScopes),
	}
	checks["connection_ready"] = c.ConnectionReady(keys)
	return checks
}
