package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source identifies an external system that delivers webhooks.
type Source string

const (
	SourceShopify  Source = "shopify"
	SourceKajabi   Source = "kajabi"
	SourceClickUp  Source = "clickup"
	SourceSocial   Source = "social"
	SourceInternal Source = "internal"
)

// KnownSources is the fixed registry of supported webhook sources.
var KnownSources = map[Source]bool{
	SourceShopify:  true,
	SourceKajabi:   true,
	SourceClickUp:  true,
	SourceSocial:   true,
	SourceInternal: true,
}

// TrustLevel marks how strongly a source's deliveries are authenticated.
type TrustLevel string

const (
	TrustLevelHigh TrustLevel = "high" // HMAC signature
	TrustLevelMed  TrustLevel = "medium"
	TrustLevelLow  TrustLevel = "low" // no verification, internal sources only
)

// EventStatus represents the processing state of an inbound webhook event.
type EventStatus string

const (
	EventStatusReceived   EventStatus = "received"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
	EventStatusRetried    EventStatus = "retried"
)

// WebhookEvent is one inbound delivery attempt, logged append-only.
// Rows are never deleted, only pruned after the retention window.
type WebhookEvent struct {
	ID              uuid.UUID       `json:"id"`
	Source          Source          `json:"source"`
	ExternalEventID *string         `json:"external_event_id,omitempty"` // source-provided, when stable
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	TrustLevel      TrustLevel      `json:"trust_level"`
	Status          EventStatus     `json:"status"`
	RetryCount      int             `json:"retry_count"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsTerminal returns true if no further automatic transitions occur.
func (e *WebhookEvent) IsTerminal() bool {
	return e.Status == EventStatusCompleted || e.Status == EventStatusFailed
}

// DedupKey returns the idempotency key for duplicate-delivery detection,
// or "" when the source provides no stable event id.
func (e *WebhookEvent) DedupKey() string {
	if e.ExternalEventID == nil || *e.ExternalEventID == "" {
		return ""
	}
	return string(e.Source) + ":" + *e.ExternalEventID
}
