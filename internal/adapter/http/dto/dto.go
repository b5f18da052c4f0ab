package dto

// LoginRequest is the request body for operator login.
type LoginRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// WebhookAckResponse is the response body returned to webhook senders.
// Senders only need to know the delivery was durably accepted; processing
// happens asynchronously.
type WebhookAckResponse struct {
	EventID    string `json:"event_id"`
	Duplicate  bool   `json:"duplicate"`
	QueueItems int    `json:"queue_items"`
	Message    string `json:"message,omitempty"`
}

// QueueStatResponse is one source x status aggregate of the sync queue.
type QueueStatResponse struct {
	Source        string  `json:"source"`
	Status        string  `json:"status"`
	Count         int64   `json:"count"`
	AvgRetryCount float64 `json:"avg_retry_count"`
}

// QueueItemResponse is the response body for a sync queue item.
type QueueItemResponse struct {
	ID           string  `json:"id"`
	EventID      string  `json:"event_id"`
	Source       string  `json:"source"`
	Action       string  `json:"action"`
	EntityType   string  `json:"entity_type"`
	EntityID     string  `json:"entity_id"`
	Priority     int     `json:"priority"`
	Status       string  `json:"status"`
	RetryCount   int     `json:"retry_count"`
	MaxRetries   int     `json:"max_retries"`
	ErrorMessage *string `json:"error_message,omitempty"`
	ScheduledFor string  `json:"scheduled_for"`
	CreatedAt    string  `json:"created_at"`
	ProcessedAt  *string `json:"processed_at,omitempty"`
}

// DeadLetterListResponse wraps a paginated dead-letter listing.
type DeadLetterListResponse struct {
	Items      []QueueItemResponse `json:"items"`
	Total      int64               `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
	TotalPages int                 `json:"total_pages"`
}

// EventResponse is the response body for a webhook event log entry.
// The raw payload is omitted from listings; fetch a single event for it.
type EventResponse struct {
	ID              string  `json:"id"`
	Source          string  `json:"source"`
	ExternalEventID *string `json:"external_event_id,omitempty"`
	EventType       string  `json:"event_type"`
	TrustLevel      string  `json:"trust_level"`
	Status          string  `json:"status"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	ReceivedAt      string  `json:"received_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// EventDetailResponse is EventResponse plus the stored raw payload.
type EventDetailResponse struct {
	EventResponse
	Payload interface{} `json:"payload"`
}

// EventListResponse wraps a paginated event listing.
type EventListResponse struct {
	Items      []EventResponse `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// SourceHealthResponse is one per-source health aggregate.
type SourceHealthResponse struct {
	Source      string  `json:"source"`
	Total       int64   `json:"total"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	LastEventAt *string `json:"last_event_at,omitempty"`
}

// HealthSnapshotResponse is the full health reporter output.
type HealthSnapshotResponse struct {
	Window      string                 `json:"window"`
	Sources     []SourceHealthResponse `json:"sources"`
	Queue       []QueueStatResponse    `json:"queue"`
	GeneratedAt string                 `json:"generated_at"`
}
