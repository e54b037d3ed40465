package models

// WebhookReceived acknowledges a billing webhook delivery.
type WebhookReceived struct {
	Received         bool   `json:"received"`
	EventType        string `json:"event_type"`
	EventID          string `json:"event_id"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	Duplicate        bool   `json:"duplicate,omitempty"`
}
