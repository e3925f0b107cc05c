package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/jcopacetic/definit/internal/domain"
)

// OutcomeKind classifies how a single webhook event ended up.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeIgnored
	OutcomeNotFound
	OutcomeDownstream
)

// Outcome is the result of processing one webhook event.
type Outcome struct {
	Kind    OutcomeKind
	EventID int64
	Message string
}

// subObjectType describes a CRM sub-object whose creation should refresh
// the rows of its associated deals. assocTypeID is the HubSpot-defined
// object-to-deal association type.
type subObjectType struct {
	plural      string
	assocTypeID int
}

// subObjectTypes is keyed by both the numeric objectTypeId HubSpot sends
// on object.creation events and the plural object name, since both shapes
// appear on the wire.
var subObjectTypes = map[string]subObjectType{
	"0-46":           {"notes", 214},
	"notes":          {"notes", 214},
	"0-27":           {"tasks", 216},
	"tasks":          {"tasks", 216},
	"0-48":           {"calls", 206},
	"calls":          {"calls", 206},
	"0-49":           {"emails", 210},
	"emails":         {"emails", 210},
	"0-47":           {"meetings", 212},
	"meetings":       {"meetings", 212},
	"0-18":           {"communications", 88},
	"communications": {"communications", 88},
	"0-14":           {"quotes", 69},
	"quotes":         {"quotes", 69},
	"0-53":           {"invoices", 410},
	"invoices":       {"invoices", 410},
}

// Engine routes classified webhook events into aggregate/upsert/delete
// work against one customer's bound worksheet.
type Engine struct {
	crm        CRM
	aggregator *Aggregator
	writer     *Writer
	binding    *domain.FeatureBinding
}

// NewEngine wires a routing engine for one customer and binding.
func NewEngine(crm CRM, writer *Writer, binding *domain.FeatureBinding) *Engine {
	return &Engine{
		crm:        crm,
		aggregator: NewAggregator(crm),
		writer:     writer,
		binding:    binding,
	}
}

// Process classifies and handles every event in the delivery. A failure on
// one event does not stop the others; callers aggregate the outcomes into
// a single HTTP status.
func (e *Engine) Process(ctx context.Context, events []domain.WebhookEvent) []Outcome {
	outcomes := make([]Outcome, 0, len(events))
	for _, event := range events {
		outcome := e.processOne(ctx, event)
		outcome.EventID = event.EventID
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Engine) processOne(ctx context.Context, event domain.WebhookEvent) Outcome {
	dealID := strconv.FormatInt(event.ObjectID, 10)

	switch event.SubscriptionType {
	case "deal.propertyChange", "deal.creation", "deal.associationChange":
		return e.upsertDeal(ctx, dealID)

	case "deal.deletion":
		err := e.writer.Delete(ctx, e.binding, dealID)
		switch {
		case err == nil:
			return Outcome{Kind: OutcomeOK, Message: "deal row deleted"}
		case errors.Is(err, ErrRowNotFound):
			return Outcome{Kind: OutcomeNotFound, Message: fmt.Sprintf("deal %s has no row", dealID)}
		default:
			log.Printf("[SYNC] delete failed for deal %s: %v", dealID, err)
			return Outcome{Kind: OutcomeDownstream, Message: err.Error()}
		}

	case "object.creation":
		return e.refreshDealsOf(ctx, event)

	default:
		return Outcome{Kind: OutcomeIgnored, Message: "unhandled event type " + event.SubscriptionType}
	}
}

// refreshDealsOf resolves the deals associated with a newly created
// sub-object and upserts each of them.
func (e *Engine) refreshDealsOf(ctx context.Context, event domain.WebhookEvent) Outcome {
	objectType, ok := subObjectTypes[event.ObjectTypeID]
	if !ok {
		return Outcome{Kind: OutcomeIgnored, Message: "unhandled object type " + event.ObjectTypeID}
	}

	objectID := strconv.FormatInt(event.ObjectID, 10)
	dealIDs, err := e.crm.Associations(ctx, objectType.plural, objectID, "deals", objectType.assocTypeID)
	if err != nil {
		log.Printf("[SYNC] deal associations failed for %s %s: %v", objectType.plural, objectID, err)
		return Outcome{Kind: OutcomeDownstream, Message: err.Error()}
	}
	if len(dealIDs) == 0 {
		return Outcome{Kind: OutcomeIgnored, Message: "no associated deals"}
	}

	var failed Outcome
	var failures int
	for _, dealID := range dealIDs {
		if outcome := e.upsertDeal(ctx, dealID); outcome.Kind != OutcomeOK {
			failed = outcome
			failures++
		}
	}
	if failures > 0 {
		failed.Message = fmt.Sprintf("%d of %d deal refreshes failed: %s", failures, len(dealIDs), failed.Message)
		return failed
	}
	return Outcome{Kind: OutcomeOK, Message: fmt.Sprintf("refreshed %d deal rows", len(dealIDs))}
}

func (e *Engine) upsertDeal(ctx context.Context, dealID string) Outcome {
	record, err := e.aggregator.Aggregate(ctx, dealID)
	if err != nil {
		log.Printf("[SYNC] aggregation failed for deal %s: %v", dealID, err)
		return Outcome{Kind: OutcomeDownstream, Message: err.Error()}
	}
	if err := e.writer.Upsert(ctx, e.binding, record); err != nil {
		log.Printf("[SYNC] upsert failed for deal %s: %v", dealID, err)
		return Outcome{Kind: OutcomeDownstream, Message: err.Error()}
	}
	return Outcome{Kind: OutcomeOK, Message: "deal row synced"}
}
