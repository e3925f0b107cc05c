package msgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultLoginURL = "https://login.microsoftonline.com"
)

// APIError carries the status code of a failed Graph call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("msgraph api error: status %d: %s", e.StatusCode, e.Body)
}

// Credentials holds one customer's Graph application credentials plus the
// site and drive the workbook lives in.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scopes       string
	SiteID       string
	DriveID      string
}

// Range is a rectangular slice of worksheet cells. Address is the
// sheet-qualified A1 form reported by Graph, e.g. "Sheet1!A1:S12".
type Range struct {
	Address string  `json:"address"`
	Values  [][]any `json:"values"`
}

// Worksheet describes one sheet tab of a workbook.
type Worksheet struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Client performs workbook operations against the Microsoft Graph API for a
// single drive.
type Client struct {
	httpClient *http.Client
	baseURL    string
	loginURL   string
	creds      Credentials

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at an alternate Graph host, used in tests.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if strings.TrimSpace(base) != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithLoginURL points token acquisition at an alternate authority.
func WithLoginURL(base string) Option {
	return func(c *Client) {
		if strings.TrimSpace(base) != "" {
			c.loginURL = strings.TrimRight(base, "/")
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

// WithStaticToken skips client-credentials acquisition, used in tests.
func WithStaticToken(token string) Option {
	return func(c *Client) {
		c.token = token
		c.tokenExpiry = time.Now().Add(24 * time.Hour)
	}
}

// New creates a Graph client for one customer's drive.
func New(creds Credentials, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		loginURL:   defaultLoginURL,
		creds:      creds,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// accessToken returns a cached app token, refreshing it via the OAuth2
// client-credentials grant when stale.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)
	scope := c.creds.Scopes
	if scope == "" {
		scope = "https://graph.microsoft.com/.default"
	}
	form.Set("scope", scope)

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginURL, url.PathEscape(c.creds.TenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	c.token = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *Client) workbookPath(workbookID string) string {
	return fmt.Sprintf("%s/drives/%s/items/%s", c.baseURL, url.PathEscape(c.creds.DriveID), url.PathEscape(workbookID))
}

func (c *Client) rangePath(workbookID, worksheet, address string) string {
	return fmt.Sprintf("%s/workbook/worksheets/%s/range(address='%s')",
		c.workbookPath(workbookID), url.PathEscape(worksheet), url.PathEscape(address))
}

// UsedRange returns the worksheet's currently-used range.
func (c *Client) UsedRange(ctx context.Context, workbookID, worksheet string) (Range, error) {
	endpoint := fmt.Sprintf("%s/workbook/worksheets/%s/usedRange", c.workbookPath(workbookID), url.PathEscape(worksheet))

	var rng Range
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &rng); err != nil {
		return Range{}, fmt.Errorf("failed to fetch used range of %s: %w", worksheet, err)
	}
	return rng, nil
}

// GetRange reads the cells at the given A1 address.
func (c *Client) GetRange(ctx context.Context, workbookID, worksheet, address string) (Range, error) {
	var rng Range
	if err := c.doJSON(ctx, http.MethodGet, c.rangePath(workbookID, worksheet, address), nil, &rng); err != nil {
		return Range{}, fmt.Errorf("failed to fetch range %s: %w", address, err)
	}
	return rng, nil
}

// UpdateRange writes a 2D value block to the given A1 address. Cell values
// beginning with "=" are evaluated as formulas by the workbook engine.
func (c *Client) UpdateRange(ctx context.Context, workbookID, worksheet, address string, values [][]any) error {
	body := map[string]any{"values": values}
	if err := c.doJSON(ctx, http.MethodPatch, c.rangePath(workbookID, worksheet, address), body, nil); err != nil {
		return fmt.Errorf("failed to update range %s: %w", address, err)
	}
	return nil
}

// DeleteRow removes an entire worksheet row, shifting the rows below it up.
func (c *Client) DeleteRow(ctx context.Context, workbookID, worksheet string, rowNumber int) error {
	address := fmt.Sprintf("%d:%d", rowNumber, rowNumber)
	endpoint := c.rangePath(workbookID, worksheet, address) + "/delete"

	body := map[string]any{"shift": "Up"}
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, nil); err != nil {
		return fmt.Errorf("failed to delete row %d: %w", rowNumber, err)
	}
	return nil
}

// Worksheets lists the sheet tabs of a workbook.
func (c *Client) Worksheets(ctx context.Context, workbookID string) ([]Worksheet, error) {
	endpoint := c.workbookPath(workbookID) + "/workbook/worksheets"

	var payload struct {
		Value []Worksheet `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to list worksheets: %w", err)
	}
	return payload.Value, nil
}

// WorkbookLastSaved returns the drive item's last-modified timestamp.
func (c *Client) WorkbookLastSaved(ctx context.Context, workbookID string) (time.Time, error) {
	var payload struct {
		LastModified time.Time `json:"lastModifiedDateTime"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.workbookPath(workbookID), nil, &payload); err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch workbook metadata: %w", err)
	}
	return payload.LastModified, nil
}

// WaitForSave polls until the workbook reports a save newer than the given
// instant. It is a soft precondition: callers treat a timeout as advisory,
// not as a write failure.
func (c *Client) WaitForSave(ctx context.Context, workbookID string, since time.Time, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	deadline := time.Now().Add(timeout)
	for {
		saved, err := c.WorkbookLastSaved(ctx, workbookID)
		if err == nil && saved.After(since) {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("workbook %s not saved within %s", workbookID, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// DownloadWorkbook fetches the workbook file content, used by the setup
// wizard to inspect headers and dimensions locally.
func (c *Client) DownloadWorkbook(ctx context.Context, workbookID string) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.workbookPath(workbookID) + "/content"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
