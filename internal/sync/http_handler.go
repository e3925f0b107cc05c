package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jcopacetic/definit/internal/domain"
)

// requestTimeout bounds the whole aggregate-and-write sequence for one
// webhook delivery.
const requestTimeout = 30 * time.Second

// ErrNotFound is returned by stores when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// CustomerSource resolves tenants and their active sync binding.
type CustomerSource interface {
	CustomerByPortalID(ctx context.Context, portalID string) (domain.Customer, error)
	ActiveBinding(ctx context.Context, customerID uuid.UUID) (domain.FeatureBinding, error)
}

// EngineFactory builds a routing engine with per-customer CRM and
// spreadsheet clients. Injected so tests can substitute fakes.
type EngineFactory func(ctx context.Context, customer domain.Customer, binding *domain.FeatureBinding) (*Engine, error)

// Handler processes authenticated webhook deliveries. It expects to be
// mounted behind SignatureMiddleware, which puts the tenant on the request
// context.
type Handler struct {
	customers CustomerSource
	engineFor EngineFactory
}

// NewHTTPHandler wires the webhook endpoint.
func NewHTTPHandler(customers CustomerSource, engineFor EngineFactory) *Handler {
	return &Handler{customers: customers, engineFor: engineFor}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customer, ok := CustomerFromContext(r.Context())
	if !ok {
		log.Printf("[SYNC] webhook handler reached without authenticated customer")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	events, err := domain.ParseEvents(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}
	for _, event := range events {
		if err := event.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
			return
		}
	}

	binding, err := h.customers.ActiveBinding(r.Context(), customer.ID)
	if err != nil {
		log.Printf("[SYNC] no active binding for customer %s: %v", customer.ID, err)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active sync binding"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	engine, err := h.engineFor(ctx, customer, &binding)
	if err != nil {
		log.Printf("[SYNC] engine setup failed for customer %s: %v", customer.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	outcomes := engine.Process(ctx, events)
	status, payload := summarize(outcomes)
	writeJSON(w, status, payload)
}

// summarize folds per-event outcomes into one HTTP response. The worst
// failure wins: downstream errors over missing rows over success, with a
// delivery of only ignored events acknowledged at 202.
func summarize(outcomes []Outcome) (int, map[string]string) {
	rank := func(kind OutcomeKind) int {
		switch kind {
		case OutcomeDownstream:
			return 3
		case OutcomeNotFound:
			return 2
		case OutcomeOK:
			return 1
		default:
			return 0
		}
	}

	var worst *Outcome
	for i := range outcomes {
		if worst == nil || rank(outcomes[i].Kind) > rank(worst.Kind) {
			worst = &outcomes[i]
		}
	}
	if worst == nil {
		return http.StatusAccepted, map[string]string{"status": "acknowledged", "message": "no events"}
	}

	switch worst.Kind {
	case OutcomeDownstream:
		return http.StatusBadGateway, map[string]string{"status": "error", "message": worst.Message}
	case OutcomeNotFound:
		return http.StatusNotFound, map[string]string{"status": "error", "message": worst.Message}
	case OutcomeOK:
		return http.StatusOK, map[string]string{"status": "success", "message": worst.Message}
	default:
		return http.StatusAccepted, map[string]string{"status": "acknowledged", "message": worst.Message}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
