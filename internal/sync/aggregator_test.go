package sync

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/jcopacetic/definit/internal/hubspot"
)

// stubCRM is an in-memory CRM implementation recording every lookup.
type stubCRM struct {
	deals        map[string]hubspot.Object
	contacts     map[string]hubspot.Object
	companies    map[string]hubspot.Object
	quotes       map[string]hubspot.Object
	owners       map[string]hubspot.Owner
	engagements  map[string]hubspot.Engagement
	associations map[string][]string
	stageLabels  map[string]string

	calls []string
}

func newStubCRM() *stubCRM {
	return &stubCRM{
		deals:        map[string]hubspot.Object{},
		contacts:     map[string]hubspot.Object{},
		companies:    map[string]hubspot.Object{},
		quotes:       map[string]hubspot.Object{},
		owners:       map[string]hubspot.Owner{},
		engagements:  map[string]hubspot.Engagement{},
		associations: map[string][]string{},
		stageLabels:  map[string]string{},
	}
}

func (s *stubCRM) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *stubCRM) DealURL(dealID string) string {
	return "https://app.hubspot.com/contacts/123/record/0-3/" + dealID
}

func (s *stubCRM) getObject(bucket map[string]hubspot.Object, kind, id string) (hubspot.Object, error) {
	s.record(kind + ":" + id)
	object, ok := bucket[id]
	if !ok {
		return hubspot.Object{}, &hubspot.APIError{StatusCode: http.StatusNotFound, Body: kind + " not found"}
	}
	return object, nil
}

func (s *stubCRM) GetDeal(_ context.Context, id string) (hubspot.Object, error) {
	return s.getObject(s.deals, "deal", id)
}

func (s *stubCRM) GetContact(_ context.Context, id string) (hubspot.Object, error) {
	return s.getObject(s.contacts, "contact", id)
}

func (s *stubCRM) GetCompany(_ context.Context, id string) (hubspot.Object, error) {
	return s.getObject(s.companies, "company", id)
}

func (s *stubCRM) GetQuote(_ context.Context, id string) (hubspot.Object, error) {
	return s.getObject(s.quotes, "quote", id)
}

func (s *stubCRM) GetOwner(_ context.Context, id string) (hubspot.Owner, error) {
	s.record("owner:" + id)
	owner, ok := s.owners[id]
	if !ok {
		return hubspot.Owner{}, &hubspot.APIError{StatusCode: http.StatusNotFound, Body: "owner not found"}
	}
	return owner, nil
}

func (s *stubCRM) GetEngagement(_ context.Context, id string) (hubspot.Engagement, error) {
	s.record("engagement:" + id)
	engagement, ok := s.engagements[id]
	if !ok {
		return hubspot.Engagement{}, &hubspot.APIError{StatusCode: http.StatusNotFound, Body: "engagement not found"}
	}
	return engagement, nil
}

func (s *stubCRM) GetStageLabel(_ context.Context, pipelineID, stageID string) (string, error) {
	s.record("stage:" + pipelineID + "/" + stageID)
	label, ok := s.stageLabels[pipelineID+"/"+stageID]
	if !ok {
		return "", &hubspot.APIError{StatusCode: http.StatusNotFound, Body: "stage not found"}
	}
	return label, nil
}

func (s *stubCRM) Associations(_ context.Context, fromType, fromID, toType string, _ int) ([]string, error) {
	key := fromType + ":" + fromID + ":" + toType
	s.record("assoc:" + key)
	return s.associations[key], nil
}

func engagementOf(kind string, at int64, preview string) hubspot.Engagement {
	key := "body"
	if kind == "EMAIL" {
		key = "text"
	}
	return hubspot.Engagement{
		Core: hubspot.EngagementCore{Type: kind, Timestamp: at},
		Metadata: map[string]any{
			key: preview,
		},
	}
}

func TestAggregateBareDeal(t *testing.T) {
	crm := newStubCRM()
	crm.deals["9001"] = hubspot.Object{ID: "9001", Properties: map[string]string{
		"dealname": "Bridge Retrofit",
	}}

	record, err := NewAggregator(crm).Aggregate(context.Background(), "9001")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	if record.DealID != "9001" || record.Name != "Bridge Retrofit" {
		t.Fatalf("unexpected identity fields: %+v", record)
	}
	if record.DealOwner != "Unknown Owner" {
		t.Fatalf("expected Unknown Owner, got %q", record.DealOwner)
	}
	if record.DealStage != "Unknown Stage" {
		t.Fatalf("expected Unknown Stage, got %q", record.DealStage)
	}
	for name, value := range map[string]string{
		"contact":  record.AssociatedContact,
		"company":  record.AssociatedCompany,
		"city":     record.City,
		"state":    record.State,
		"quote":    record.QuoteLink,
		"bid date": record.LatestBidDate,
		"last eng": record.LastEngagement,
		"email":    record.Email,
		"task":     record.Task,
	} {
		if value != "" {
			t.Fatalf("expected empty %s, got %q", name, value)
		}
	}
}

func TestAggregateFullDeal(t *testing.T) {
	crm := newStubCRM()
	crm.deals["9001"] = hubspot.Object{ID: "9001", Properties: map[string]string{
		"dealname":         "Bridge Retrofit",
		"amount":           "1234567",
		"pipeline":         "default",
		"dealstage":        "contractsent",
		"link_to_plans":    "https://plans.example.com/9001",
		"hubspot_owner_id": "77",
	}}
	crm.stageLabels["default/contractsent"] = "Contract Sent"
	crm.owners["77"] = hubspot.Owner{FirstName: "Dana", LastName: "Reyes", Archived: true}
	crm.associations["deals:9001:contacts"] = []string{"c1", "c2"}
	crm.contacts["c1"] = hubspot.Object{Properties: map[string]string{"firstname": "Amy", "lastname": "Lau", "email": "amy@example.com"}}
	crm.contacts["c2"] = hubspot.Object{Properties: map[string]string{"firstname": "Bo", "lastname": "Nash"}}
	crm.associations["deals:9001:companies"] = []string{"co1"}
	crm.companies["co1"] = hubspot.Object{Properties: map[string]string{"name": "Acme Civil", "city": "Austin", "state": "TX"}}
	crm.associations["deals:9001:quotes"] = []string{"q1", "q2"}
	crm.quotes["q1"] = hubspot.Object{Properties: map[string]string{"hs_createdate": "2026-01-05T10:00:00.000Z", "hs_quote_link": "https://quotes.example.com/q1"}}
	crm.quotes["q2"] = hubspot.Object{Properties: map[string]string{"hs_createdate": "2026-02-10T09:30:00.000Z", "hs_quote_link": "https://quotes.example.com/q2"}}

	record, err := NewAggregator(crm).Aggregate(context.Background(), "9001")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	if record.DealAmount != "$1,234,567" {
		t.Fatalf("unexpected amount: %q", record.DealAmount)
	}
	if record.DealStage != "Contract Sent" {
		t.Fatalf("unexpected stage: %q", record.DealStage)
	}
	if record.DealOwner != "Dana Reyes (Deactivated User)" {
		t.Fatalf("unexpected owner: %q", record.DealOwner)
	}
	if record.AssociatedContact != "Amy Lau (amy@example.com); Bo Nash" {
		t.Fatalf("unexpected contacts: %q", record.AssociatedContact)
	}
	if record.AssociatedCompany != "Acme Civil" || record.City != "Austin" || record.State != "TX" {
		t.Fatalf("unexpected company fields: %+v", record)
	}
	if record.QuoteLink != "https://quotes.example.com/q2" {
		t.Fatalf("expected latest quote link, got %q", record.QuoteLink)
	}
	if record.LatestBidDate != "02/10/2026 09:30:00 AM" {
		t.Fatalf("unexpected bid date: %q", record.LatestBidDate)
	}
	if record.PlansLink != "https://plans.example.com/9001" {
		t.Fatalf("unexpected plans link: %q", record.PlansLink)
	}
}

func TestAggregateEngagementSlots(t *testing.T) {
	crm := newStubCRM()
	crm.deals["9001"] = hubspot.Object{ID: "9001", Properties: map[string]string{"dealname": "Bridge Retrofit"}}
	crm.associations["deals:9001:engagements"] = []string{"e1", "e2", "e3"}
	crm.engagements["e1"] = engagementOf("NOTE", 1704067200000, "old note")
	crm.engagements["e2"] = engagementOf("EMAIL", 1706745600000, "followup email")
	crm.engagements["e3"] = engagementOf("NOTE", 1704153600000, "new note")

	record, err := NewAggregator(crm).Aggregate(context.Background(), "9001")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	// The summary pairs are timestamp-only; preview text lives in the
	// per-kind columns.
	if record.LastEngagementType != "EMAIL" || record.LastEngagement != "02/01/2024 12:00:00 AM" {
		t.Fatalf("latest overall should be the email: %q %q", record.LastEngagementType, record.LastEngagement)
	}
	if record.LastContactedType != "EMAIL" || record.LastContacted != "02/01/2024 12:00:00 AM" {
		t.Fatalf("latest contact should be the email: %q %q", record.LastContactedType, record.LastContacted)
	}
	if !strings.Contains(record.Email, "followup email") {
		t.Fatalf("email slot should hold the preview: %q", record.Email)
	}
	if !strings.Contains(record.Note, "new note") || strings.Contains(record.Note, "old note") {
		t.Fatalf("note slot should hold the newer note: %q", record.Note)
	}
	if record.Call != "" || record.Meeting != "" || record.Task != "" {
		t.Fatalf("unused slots should stay empty: %+v", record)
	}
}

func TestAggregateEngagementWithoutTimestampSkipped(t *testing.T) {
	crm := newStubCRM()
	crm.deals["9001"] = hubspot.Object{ID: "9001", Properties: map[string]string{"dealname": "Bridge Retrofit"}}
	crm.associations["deals:9001:engagements"] = []string{"e1", "e2"}
	crm.engagements["e1"] = engagementOf("NOTE", 0, "undated note")
	crm.engagements["e2"] = engagementOf("CALL", 1704067200000, "left voicemail")

	record, err := NewAggregator(crm).Aggregate(context.Background(), "9001")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}

	if record.Note != "" {
		t.Fatalf("undated engagement should not seed a slot: %q", record.Note)
	}
	if record.LastEngagementType != "CALL" || record.LastEngagement != "01/01/2024 12:00:00 AM" {
		t.Fatalf("dated call should win the summary: %q %q", record.LastEngagementType, record.LastEngagement)
	}
	if !strings.Contains(record.Call, "left voicemail") {
		t.Fatalf("call slot should hold the preview: %q", record.Call)
	}
}

func TestAggregateMissingDealFails(t *testing.T) {
	crm := newStubCRM()
	if _, err := NewAggregator(crm).Aggregate(context.Background(), "404"); err == nil {
		t.Fatal("expected error for missing deal")
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"1000":    "$1,000",
		"1234567": "$1,234,567",
		"1234.99": "1234.99",
		"n/a":     "n/a",
	}
	for raw, want := range cases {
		if got := formatAmount(raw); got != want {
			t.Fatalf("formatAmount(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestStripHTML(t *testing.T) {
	got := stripHTML("<p>Hello   <b>world</b></p>\n<div>again</div>")
	if got != "Hello world again" {
		t.Fatalf("unexpected stripped text: %q", got)
	}
	if stripHTML("  plain   text ") != "plain text" {
		t.Fatal("plain text should collapse whitespace only")
	}
}

func TestEngagementPreviewFallbacks(t *testing.T) {
	task := hubspot.Engagement{Metadata: map[string]any{"subject": "Call the county"}}
	if got := engagementPreview(task, "TASK"); got != "Call the county" {
		t.Fatalf("task preview = %q", got)
	}

	email := hubspot.Engagement{Metadata: map[string]any{"htmlContent": "<p>Quote attached</p>"}}
	if got := engagementPreview(email, "EMAIL"); got != "Quote attached" {
		t.Fatalf("email preview = %q", got)
	}

	call := hubspot.Engagement{Metadata: map[string]any{"status": "COMPLETED"}}
	if got := engagementPreview(call, "CALL"); got != "COMPLETED" {
		t.Fatalf("call preview = %q", got)
	}
}
