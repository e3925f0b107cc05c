package domain

// DealRecord is the flat, spreadsheet-shaped projection of a HubSpot deal
// and its associations. Every field is always present; missing source data
// degrades to an empty string rather than an absent key. Records are built
// fresh per webhook event and discarded after the write attempt.
type DealRecord struct {
	DealID    string `json:"deal_id"`
	Name      string `json:"name"`
	DealLink  string `json:"deal_link"`
	PlansLink string `json:"plans_link"`
	QuoteLink string `json:"quote_link"`

	DealStage     string `json:"deal_stage"`
	LatestBidDate string `json:"latest_bid_date"`
	DealAmount    string `json:"deal_amount"`
	DealOwner     string `json:"deal_owner"`

	AssociatedContact string `json:"associated_contact"`
	AssociatedCompany string `json:"associated_company"`
	City              string `json:"city"`
	State             string `json:"state"`

	LastContacted      string `json:"last_contacted"`
	LastContactedType  string `json:"last_contacted_type"`
	LastEngagement     string `json:"last_engagement"`
	LastEngagementType string `json:"last_engagement_type"`

	Email   string `json:"email"`
	Call    string `json:"call"`
	Meeting string `json:"meeting"`
	Note    string `json:"note"`
	Task    string `json:"task"`
}
