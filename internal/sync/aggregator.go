package sync

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jcopacetic/definit/internal/domain"
	"github.com/jcopacetic/definit/internal/hubspot"
)

const (
	// primaryCompanyAssociation is the deal-to-company association type
	// marking the deal's primary company.
	primaryCompanyAssociation = 5

	displayTimeLayout = "01/02/2006 03:04:05 PM"
	quoteDateLayout   = "2006-01-02T15:04:05.000Z"
)

// CRM is the surface of the HubSpot client the aggregator depends on.
type CRM interface {
	DealURL(dealID string) string
	GetDeal(ctx context.Context, dealID string) (hubspot.Object, error)
	GetContact(ctx context.Context, contactID string) (hubspot.Object, error)
	GetCompany(ctx context.Context, companyID string) (hubspot.Object, error)
	GetQuote(ctx context.Context, quoteID string) (hubspot.Object, error)
	GetOwner(ctx context.Context, ownerID string) (hubspot.Owner, error)
	GetEngagement(ctx context.Context, engagementID string) (hubspot.Engagement, error)
	GetStageLabel(ctx context.Context, pipelineID, stageID string) (string, error)
	Associations(ctx context.Context, fromType, fromID, toType string, associationTypeID int) ([]string, error)
}

// Aggregator assembles a flat DealRecord from a deal and everything
// associated with it. A failed deal fetch aborts aggregation; failures on
// associated objects degrade the affected fields and are logged.
type Aggregator struct {
	crm CRM
}

// NewAggregator creates an aggregator over the given CRM client.
func NewAggregator(crm CRM) *Aggregator {
	return &Aggregator{crm: crm}
}

// Aggregate fetches the deal and its associations and flattens them into a
// single record ready for the spreadsheet writer.
func (a *Aggregator) Aggregate(ctx context.Context, dealID string) (domain.DealRecord, error) {
	deal, err := a.crm.GetDeal(ctx, dealID)
	if err != nil {
		return domain.DealRecord{}, fmt.Errorf("failed to fetch deal %s: %w", dealID, err)
	}

	record := domain.DealRecord{
		DealID:     dealID,
		Name:       deal.Property("dealname"),
		DealLink:   a.crm.DealURL(dealID),
		PlansLink:  deal.Property("link_to_plans"),
		DealAmount: formatAmount(deal.Property("amount")),
	}

	record.DealStage = a.stageLabel(ctx, deal)
	record.DealOwner = a.ownerName(ctx, deal.Property("hubspot_owner_id"))
	record.AssociatedContact = a.contactSummary(ctx, dealID)
	a.applyCompany(ctx, dealID, &record)
	a.applyLatestQuote(ctx, dealID, &record)
	a.applyEngagements(ctx, dealID, &record)

	return record, nil
}

func (a *Aggregator) stageLabel(ctx context.Context, deal hubspot.Object) string {
	stage := deal.Property("dealstage")
	if stage == "" {
		return "Unknown Stage"
	}
	label, err := a.crm.GetStageLabel(ctx, deal.Property("pipeline"), stage)
	if err != nil {
		log.Printf("[SYNC] stage label lookup failed for deal %s: %v", deal.ID, err)
		return stage
	}
	return label
}

func (a *Aggregator) ownerName(ctx context.Context, ownerID string) string {
	if ownerID == "" {
		return "Unknown Owner"
	}
	owner, err := a.crm.GetOwner(ctx, ownerID)
	if err != nil {
		log.Printf("[SYNC] owner lookup failed for %s: %v", ownerID, err)
		return "Unknown Owner"
	}
	name := strings.TrimSpace(owner.FirstName + " " + owner.LastName)
	if name == "" {
		name = owner.Email
	}
	if name == "" {
		return "Unknown Owner"
	}
	if owner.Archived {
		name += " (Deactivated User)"
	}
	return name
}

func (a *Aggregator) contactSummary(ctx context.Context, dealID string) string {
	contactIDs, err := a.crm.Associations(ctx, "deals", dealID, "contacts", 0)
	if err != nil {
		log.Printf("[SYNC] contact associations failed for deal %s: %v", dealID, err)
		return ""
	}

	var parts []string
	for _, contactID := range contactIDs {
		contact, err := a.crm.GetContact(ctx, contactID)
		if err != nil {
			log.Printf("[SYNC] contact %s fetch failed: %v", contactID, err)
			continue
		}
		name := strings.TrimSpace(contact.Property("firstname") + " " + contact.Property("lastname"))
		if email := contact.Property("email"); email != "" {
			name = strings.TrimSpace(name + " (" + email + ")")
		}
		if name != "" {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "; ")
}

func (a *Aggregator) applyCompany(ctx context.Context, dealID string, record *domain.DealRecord) {
	companyIDs, err := a.crm.Associations(ctx, "deals", dealID, "companies", primaryCompanyAssociation)
	if err != nil {
		log.Printf("[SYNC] company associations failed for deal %s: %v", dealID, err)
		return
	}
	if len(companyIDs) == 0 {
		return
	}

	company, err := a.crm.GetCompany(ctx, companyIDs[0])
	if err != nil {
		log.Printf("[SYNC] company %s fetch failed: %v", companyIDs[0], err)
		return
	}
	record.AssociatedCompany = company.Property("name")
	record.City = company.Property("city")
	record.State = company.Property("state")
}

func (a *Aggregator) applyLatestQuote(ctx context.Context, dealID string, record *domain.DealRecord) {
	quoteIDs, err := a.crm.Associations(ctx, "deals", dealID, "quotes", 0)
	if err != nil {
		log.Printf("[SYNC] quote associations failed for deal %s: %v", dealID, err)
		return
	}

	var (
		latest   hubspot.Object
		latestAt time.Time
		found    bool
	)
	for _, quoteID := range quoteIDs {
		quote, err := a.crm.GetQuote(ctx, quoteID)
		if err != nil {
			log.Printf("[SYNC] quote %s fetch failed: %v", quoteID, err)
			continue
		}
		created, err := time.Parse(quoteDateLayout, quote.Property("hs_createdate"))
		if err != nil {
			log.Printf("[SYNC] quote %s has unparseable hs_createdate %q", quoteID, quote.Property("hs_createdate"))
			continue
		}
		if !found || created.After(latestAt) {
			latest, latestAt, found = quote, created, true
		}
	}
	if !found {
		return
	}

	record.QuoteLink = latest.Property("hs_quote_link")
	record.LatestBidDate = latestAt.UTC().Format(displayTimeLayout)
}

// engagementSlot remembers the most recent engagement seen for a summary
// column. A later timestamp must be strictly greater to replace the holder.
type engagementSlot struct {
	at      int64
	kind    string
	preview string
	set     bool
}

func (s *engagementSlot) offer(at int64, kind, preview string) {
	if !s.set || at > s.at {
		s.at, s.kind, s.preview, s.set = at, kind, preview, true
	}
}

// contactKinds are the engagement types that count as reaching out to the
// customer, feeding the last-contacted summary columns.
var contactKinds = map[string]bool{
	"EMAIL":   true,
	"MEETING": true,
	"CALL":    true,
}

func (a *Aggregator) applyEngagements(ctx context.Context, dealID string, record *domain.DealRecord) {
	engagementIDs, err := a.crm.Associations(ctx, "deals", dealID, "engagements", 0)
	if err != nil {
		log.Printf("[SYNC] engagement associations failed for deal %s: %v", dealID, err)
		return
	}

	var overall, contacted engagementSlot
	byKind := map[string]*engagementSlot{
		"EMAIL":   {},
		"CALL":    {},
		"MEETING": {},
		"NOTE":    {},
		"TASK":    {},
	}

	for _, engagementID := range engagementIDs {
		engagement, err := a.crm.GetEngagement(ctx, engagementID)
		if err != nil {
			log.Printf("[SYNC] engagement %s fetch failed: %v", engagementID, err)
			continue
		}

		kind := strings.ToUpper(engagement.Core.Type)
		at := engagement.EventTimestamp()
		if at == 0 {
			// No timestamp means no ordering; the engagement cannot
			// compete for any summary slot.
			continue
		}
		preview := engagementPreview(engagement, kind)

		overall.offer(at, kind, preview)
		if contactKinds[kind] {
			contacted.offer(at, kind, preview)
		}
		if slot, ok := byKind[kind]; ok {
			slot.offer(at, kind, preview)
		}
	}

	// The summary pairs carry only the formatted timestamp; preview text
	// belongs to the per-kind columns below.
	if overall.set {
		record.LastEngagement = formatTimestamp(overall.at)
		record.LastEngagementType = overall.kind
	}
	if contacted.set {
		record.LastContacted = formatTimestamp(contacted.at)
		record.LastContactedType = contacted.kind
	}
	for kind, slot := range byKind {
		if !slot.set {
			continue
		}
		line := previewLine(slot.at, slot.preview)
		switch kind {
		case "EMAIL":
			record.Email = line
		case "CALL":
			record.Call = line
		case "MEETING":
			record.Meeting = line
		case "NOTE":
			record.Note = line
		case "TASK":
			record.Task = line
		}
	}
}

// engagementPreview extracts readable text for one engagement, falling back
// through the metadata keys each kind populates in practice.
func engagementPreview(engagement hubspot.Engagement, kind string) string {
	candidates := []string{engagement.Preview()}
	switch kind {
	case "TASK":
		candidates = append(candidates, engagement.MetadataString("subject"), engagement.MetadataString("body"))
	case "NOTE":
		candidates = append(candidates, engagement.MetadataString("body"))
	case "EMAIL":
		candidates = append(candidates, engagement.MetadataString("text"), engagement.MetadataString("htmlContent"))
	case "CALL":
		candidates = append(candidates, engagement.MetadataString("body"), engagement.MetadataString("disposition"), engagement.MetadataString("status"))
	case "MEETING":
		candidates = append(candidates, engagement.MetadataString("body"), engagement.MetadataString("title"))
	}
	for _, candidate := range candidates {
		if text := stripHTML(candidate); text != "" {
			return text
		}
	}
	return ""
}

func formatTimestamp(at int64) string {
	return time.UnixMilli(at).UTC().Format(displayTimeLayout)
}

func previewLine(at int64, preview string) string {
	stamp := formatTimestamp(at)
	if preview == "" {
		return stamp
	}
	return stamp + " | " + preview
}

var amountPrinter = message.NewPrinter(language.English)

// formatAmount renders a deal amount as a grouped dollar figure. Anything
// that is not a whole number, decimals included, passes through untouched.
func formatAmount(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return amountPrinter.Sprintf("$%d", value)
	}
	return raw
}

// stripHTML flattens markup to its visible text and collapses runs of
// whitespace to a single space.
func stripHTML(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.ContainsAny(raw, "<>") {
		return strings.Join(strings.Fields(raw), " ")
	}

	var builder strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(raw))
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			break
		}
		if tokenType == html.TextToken {
			builder.WriteString(tokenizer.Token().Data)
			builder.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(builder.String()), " ")
}
