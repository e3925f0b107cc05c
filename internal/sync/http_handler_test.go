package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jcopacetic/definit/internal/crypto"
	"github.com/jcopacetic/definit/internal/domain"
)

const testAppSecret = "test-app-secret"

// stubCustomers serves a single tenant and binding.
type stubCustomers struct {
	customer domain.Customer
	binding  *domain.FeatureBinding
}

func (s *stubCustomers) CustomerByPortalID(_ context.Context, portalID string) (domain.Customer, error) {
	if portalID != s.customer.HubSpotPortalID {
		return domain.Customer{}, fmt.Errorf("portal %s: %w", portalID, ErrNotFound)
	}
	return s.customer, nil
}

func (s *stubCustomers) ActiveBinding(_ context.Context, customerID uuid.UUID) (domain.FeatureBinding, error) {
	if customerID != s.customer.ID {
		return domain.FeatureBinding{}, ErrNotFound
	}
	return *s.binding, nil
}

type webhookFixture struct {
	handler http.Handler
	crm     *stubCRM
	sheet   *fakeSheet
	binding *domain.FeatureBinding
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	keys := crypto.StaticKey(bytes.Repeat([]byte{0xA5}, 32))
	secret, err := crypto.Encrypt(keys, testAppSecret)
	if err != nil {
		t.Fatalf("failed to encrypt test secret: %v", err)
	}

	customer := domain.NewCustomer("Acme Civil", "acme.example.com", "123")
	customer.HubSpotAppSecret = secret

	binding := testBinding(2)
	binding.CustomerID = customer.ID

	crm := newStubCRM()
	sheet := newFakeSheet(dealHeaders)
	bindings := &stubBindings{lastRow: binding.LastRow}

	factory := func(_ context.Context, _ domain.Customer, b *domain.FeatureBinding) (*Engine, error) {
		return NewEngine(crm, NewWriter(sheet, bindings), b), nil
	}

	customers := &stubCustomers{customer: customer, binding: binding}
	handler := SignatureMiddleware(customers, keys, NewHTTPHandler(customers, factory))

	return &webhookFixture{handler: handler, crm: crm, sheet: sheet, binding: binding}
}

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()

	target := "http://sync.example.com/webhooks/hubspot?portalId=123"
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(SignatureHeader, signRequest(http.MethodPost, target, []byte(body), timestamp, testAppSecret))
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	payload := map[string]string{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, rec.Body.String())
	}
	return payload
}

func TestWebhookAppendsNewDeal(t *testing.T) {
	fixture := newWebhookFixture(t)
	seedDeal(fixture.crm, "9001", "Bridge Retrofit")

	body := `{"portalId":123,"objectId":9001,"eventId":1,"subscriptionType":"deal.propertyChange"}`
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if payload := decodeBody(t, rec); payload["status"] != "success" {
		t.Fatalf("expected success status, got %v", payload)
	}
	if got := fixture.sheet.cell(3, 1); got != "9001" {
		t.Fatalf("expected deal appended at row 3, got %v", got)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	fixture := newWebhookFixture(t)
	seedDeal(fixture.crm, "9001", "Bridge Retrofit")

	body := `{"portalId":123,"objectId":9001,"eventId":1,"subscriptionType":"deal.propertyChange"}`
	req := signedRequest(t, body)
	req.Header.Set(SignatureHeader, "AAAA"+req.Header.Get(SignatureHeader))

	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(fixture.crm.calls) != 0 {
		t.Fatalf("rejected request must not reach the CRM, got %v", fixture.crm.calls)
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	fixture := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, signedRequest(t, `{"portalId":123,`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != "Invalid JSON payload" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
	if len(fixture.crm.calls) != 0 {
		t.Fatalf("malformed body must not reach the CRM, got %v", fixture.crm.calls)
	}
	if len(fixture.sheet.updates) != 0 || len(fixture.sheet.deletes) != 0 {
		t.Fatal("malformed body must not touch the sheet")
	}
}

func TestWebhookRejectsEventWithoutObjectID(t *testing.T) {
	fixture := newWebhookFixture(t)

	body := `{"portalId":123,"eventId":1,"subscriptionType":"deal.propertyChange"}`
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if payload := decodeBody(t, rec); payload["error"] != "Invalid JSON payload" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
	if len(fixture.crm.calls) != 0 {
		t.Fatalf("event without an object id must not reach the CRM, got %v", fixture.crm.calls)
	}
}

func TestWebhookRejectsUnknownPortal(t *testing.T) {
	fixture := newWebhookFixture(t)

	target := "http://sync.example.com/webhooks/hubspot?portalId=999"
	body := `{"portalId":999,"objectId":1,"eventId":1,"subscriptionType":"deal.propertyChange"}`
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(SignatureHeader, signRequest(http.MethodPost, target, []byte(body), timestamp, testAppSecret))

	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWebhookAcknowledgesUnhandledEvents(t *testing.T) {
	fixture := newWebhookFixture(t)

	body := `{"portalId":123,"objectId":1,"eventId":1,"subscriptionType":"contact.propertyChange"}`
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookDeletesDealRow(t *testing.T) {
	fixture := newWebhookFixture(t)
	fixture.sheet.setCell(3, 1, "9001")
	fixture.binding.LastRow = 3

	body := `[{"portalId":123,"objectId":9001,"eventId":7,"subscriptionType":"deal.deletion"}]`
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, signedRequest(t, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fixture.sheet.deletes) != 1 || fixture.sheet.deletes[0] != 3 {
		t.Fatalf("expected delete of row 3, got %v", fixture.sheet.deletes)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	fixture := newWebhookFixture(t)

	req := httptest.NewRequest(http.MethodGet, "http://sync.example.com/webhooks/hubspot?portalId=123", nil)
	rec := httptest.NewRecorder()
	fixture.handler.ServeHTTP(rec, req)

	// The middleware rejects the unsigned GET before the handler's method
	// check can run.
	if rec.Code != http.StatusForbidden && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected rejection, got %d", rec.Code)
	}
}
