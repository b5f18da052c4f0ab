package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncAction is the downstream operation a queue item carries.
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionUpsert SyncAction = "upsert"
	ActionDelete SyncAction = "delete"
)

// EntityType identifies which unified entity a queue item targets.
type EntityType string

const (
	EntityCustomer      EntityType = "customer"
	EntityOrder         EntityType = "order"
	EntityPurchase      EntityType = "purchase"
	EntityTask          EntityType = "task"
	EntitySocialProfile EntityType = "social_profile"
)

// Queue item priorities. Lower value claims first.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// DefaultMaxRetries is the retry budget assigned to new queue items.
const DefaultMaxRetries = 3

// QueueStatus represents the lifecycle state of a sync queue item.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed" // dead-lettered, manual intervention only
)

// SyncQueueItem is one logical unit of downstream work derived from a
// webhook event. Status, retry_count and scheduled_for are owned exclusively
// by the queue engine; workers go through the claim/release protocol.
type SyncQueueItem struct {
	ID           uuid.UUID       `json:"id"`
	EventID      uuid.UUID       `json:"event_id"` // originating WebhookEvent
	Source       Source          `json:"source"`
	Action       SyncAction      `json:"action"`
	EntityType   EntityType      `json:"entity_type"`
	EntityID     string          `json:"entity_id"` // external id, not unique across sources
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	Status       QueueStatus     `json:"status"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	ClaimToken   *uuid.UUID      `json:"-"` // set while processing
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

// IsTerminal returns true if no further automatic transitions occur.
func (i *SyncQueueItem) IsTerminal() bool {
	return i.Status == QueueStatusCompleted || i.Status == QueueStatusFailed
}

// RetriesExhausted returns true once the retry budget is spent.
func (i *SyncQueueItem) RetriesExhausted() bool {
	return i.RetryCount >= i.MaxRetries
}

// QueueStat is one aggregate row of the queue statistics snapshot:
// source x status with count and average retries.
type QueueStat struct {
	Source        Source      `json:"source"`
	Status        QueueStatus `json:"status"`
	Count         int64       `json:"count"`
	AvgRetryCount float64     `json:"avg_retry_count"`
}
