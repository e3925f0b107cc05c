package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when a webhook body is not valid JSON in
// either accepted shape (single event object or array of events).
var ErrInvalidPayload = errors.New("invalid webhook payload")

// WebhookEvent is the wire-shaped inbound HubSpot event. HubSpot delivers
// both single objects and arrays, and older subscriptions spell the portal
// field portal_id, so parsing tolerates both.
type WebhookEvent struct {
	PortalID         int64  `json:"portalId"`
	ObjectID         int64  `json:"objectId"`
	EventID          int64  `json:"eventId"`
	SubscriptionType string `json:"subscriptionType"`
	ObjectTypeID     string `json:"objectTypeId,omitempty"`
}

func (e *WebhookEvent) UnmarshalJSON(data []byte) error {
	type alias WebhookEvent
	var raw struct {
		alias
		PortalIDAlt int64 `json:"portal_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = WebhookEvent(raw.alias)
	if e.PortalID == 0 {
		e.PortalID = raw.PortalIDAlt
	}
	return nil
}

// Validate checks the identifiers required before any processing happens.
func (e WebhookEvent) Validate() error {
	if e.PortalID == 0 {
		return fmt.Errorf("%w: missing portal id", ErrInvalidPayload)
	}
	if e.ObjectID == 0 {
		return fmt.Errorf("%w: missing object id", ErrInvalidPayload)
	}
	return nil
}

// ParseEvents decodes a webhook delivery body. A single JSON object yields a
// one-element slice; an array yields one event per element.
func ParseEvents(body []byte) ([]WebhookEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	if trimmed[0] == '[' {
		var events []WebhookEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if len(events) == 0 {
			return nil, fmt.Errorf("%w: empty event array", ErrInvalidPayload)
		}
		return events, nil
	}

	var event WebhookEvent
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return []WebhookEvent{event}, nil
}
