package hubspot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.hubapi.com"

// Property sets requested alongside each object fetch. HubSpot only returns
// the default property bundle unless asked explicitly.
var (
	dealProperties = []string{
		"dealname", "amount", "pipeline", "dealstage",
		"link_to_plans", "hubspot_owner_id",
	}
	contactProperties = []string{"firstname", "lastname", "email"}
	companyProperties = []string{"name", "city", "state"}
	quoteProperties   = []string{"hs_title", "hs_createdate", "hs_quote_amount", "hs_quote_link", "hs_expiration_date"}
)

// APIError carries the status code of a failed HubSpot call so callers can
// distinguish not-found from transport failures.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot api error: status %d: %s", e.StatusCode, e.Body)
}

// Object is a generic CRM v3 object: an identifier plus its property bag.
type Object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// Property returns a property value or "" when absent.
func (o Object) Property(name string) string {
	return o.Properties[name]
}

// Owner is a HubSpot owner record.
type Owner struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Archived  bool   `json:"archived"`
}

// Engagement is a v1 engagement payload: a typed core plus a loosely shaped
// metadata bag whose keys vary by engagement kind.
type Engagement struct {
	Core        EngagementCore `json:"engagement"`
	Metadata    map[string]any `json:"metadata"`
	BodyPreview string         `json:"bodyPreview,omitempty"`
}

// EngagementCore is the typed portion shared by all engagement kinds.
type EngagementCore struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	CreatedAt   int64  `json:"createdAt"`
	LastUpdated int64  `json:"lastUpdated"`
	BodyPreview string `json:"bodyPreview"`
}

// EventTimestamp returns the engagement's effective time in epoch
// milliseconds, preferring timestamp, then lastUpdated, then createdAt.
func (e Engagement) EventTimestamp() int64 {
	if e.Core.Timestamp != 0 {
		return e.Core.Timestamp
	}
	if e.Core.LastUpdated != 0 {
		return e.Core.LastUpdated
	}
	return e.Core.CreatedAt
}

// MetadataString returns a metadata value when it is a string, "" otherwise.
func (e Engagement) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if value, ok := e.Metadata[key].(string); ok {
		return value
	}
	return ""
}

// Preview returns the engagement's body preview from either the payload root
// or the metadata bag.
func (e Engagement) Preview() string {
	if e.BodyPreview != "" {
		return e.BodyPreview
	}
	if e.Core.BodyPreview != "" {
		return e.Core.BodyPreview
	}
	return e.MetadataString("bodyPreview")
}

// Client talks to the HubSpot CRM API on behalf of one customer.
type Client struct {
	httpClient *http.Client
	baseURL    string
	portalID   string
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at an alternate API host, used in tests.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if strings.TrimSpace(base) != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New creates a client authenticated with a private-app access token.
func New(portalID, accessToken string, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		portalID:   portalID,
		token:      accessToken,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// DealURL builds the portal-facing URL for a deal record.
func (c *Client) DealURL(dealID string) string {
	return fmt.Sprintf("https://app.hubspot.com/contacts/%s/record/0-3/%s", c.portalID, dealID)
}

// GetDeal fetches a deal with its sync-relevant properties.
func (c *Client) GetDeal(ctx context.Context, dealID string) (Object, error) {
	return c.getObject(ctx, "deals", dealID, dealProperties)
}

// GetContact fetches a contact.
func (c *Client) GetContact(ctx context.Context, contactID string) (Object, error) {
	return c.getObject(ctx, "contacts", contactID, contactProperties)
}

// GetCompany fetches a company.
func (c *Client) GetCompany(ctx context.Context, companyID string) (Object, error) {
	return c.getObject(ctx, "companies", companyID, companyProperties)
}

// GetQuote fetches a quote.
func (c *Client) GetQuote(ctx context.Context, quoteID string) (Object, error) {
	return c.getObject(ctx, "quotes", quoteID, quoteProperties)
}

func (c *Client) getObject(ctx context.Context, objectType, id string, properties []string) (Object, error) {
	endpoint := fmt.Sprintf("%s/crm/v3/objects/%s/%s", c.baseURL, objectType, url.PathEscape(id))

	params := url.Values{}
	params.Set("properties", strings.Join(properties, ","))

	var object Object
	if err := c.doJSON(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil, &object); err != nil {
		return Object{}, fmt.Errorf("failed to fetch %s %s: %w", strings.TrimSuffix(objectType, "s"), id, err)
	}
	return object, nil
}

// GetOwner fetches an owner, falling back to the archived listing when the
// owner no longer appears among active users.
func (c *Client) GetOwner(ctx context.Context, ownerID string) (Owner, error) {
	endpoint := fmt.Sprintf("%s/crm/v3/owners/%s", c.baseURL, url.PathEscape(ownerID))

	var owner Owner
	err := c.doJSON(ctx, http.MethodGet, endpoint+"?archived=false", nil, &owner)
	if err == nil {
		return owner, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		if archivedErr := c.doJSON(ctx, http.MethodGet, endpoint+"?archived=true", nil, &owner); archivedErr == nil {
			owner.Archived = true
			return owner, nil
		}
	}
	return Owner{}, fmt.Errorf("failed to fetch owner %s: %w", ownerID, err)
}

// GetEngagement fetches a single v1 engagement.
func (c *Client) GetEngagement(ctx context.Context, engagementID string) (Engagement, error) {
	endpoint := fmt.Sprintf("%s/engagements/v1/engagements/%s", c.baseURL, url.PathEscape(engagementID))

	var engagement Engagement
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &engagement); err != nil {
		return Engagement{}, fmt.Errorf("failed to fetch engagement %s: %w", engagementID, err)
	}
	return engagement, nil
}

// GetStageLabel resolves a pipeline stage identifier to its display label.
func (c *Client) GetStageLabel(ctx context.Context, pipelineID, stageID string) (string, error) {
	endpoint := fmt.Sprintf("%s/crm/v3/pipelines/0-3/%s/stages/%s",
		c.baseURL, url.PathEscape(pipelineID), url.PathEscape(stageID))

	var stage struct {
		Label string `json:"label"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &stage); err != nil {
		return "", fmt.Errorf("failed to fetch stage %s on pipeline %s: %w", stageID, pipelineID, err)
	}
	return stage.Label, nil
}

// Associations lists identifiers of objects associated with the given
// object. A non-zero associationTypeID restricts the query to that HubSpot
// association type (e.g. the deal-to-company "primary" relationship).
func (c *Client) Associations(ctx context.Context, fromType, fromID, toType string, associationTypeID int) ([]string, error) {
	endpoint := fmt.Sprintf("%s/crm/v4/objects/%s/%s/associations/%s",
		c.baseURL, url.PathEscape(fromType), url.PathEscape(fromID), url.PathEscape(toType))
	if associationTypeID > 0 {
		endpoint += "?associationType=" + strconv.Itoa(associationTypeID)
	}

	var payload struct {
		Results []struct {
			ToObjectID int64  `json:"toObjectId"`
			ID         string `json:"id"`
		} `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch %s associations for %s %s: %w", toType, fromType, fromID, err)
	}

	ids := make([]string, 0, len(payload.Results))
	for _, assoc := range payload.Results {
		switch {
		case assoc.ToObjectID != 0:
			ids = append(ids, strconv.FormatInt(assoc.ToObjectID, 10))
		case assoc.ID != "":
			ids = append(ids, assoc.ID)
		}
	}
	return ids, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
