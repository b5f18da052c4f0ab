package ports

import (
	"context"
	"errors"
	"time"

	"webhook-sync-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrClaimLost is returned when an item is no longer held under the caller's
// claim token (swept, or completed by another path).
var ErrClaimLost = errors.New("queue item not held by claim token")

// ErrNotRequeueable is returned when a manual requeue targets an item that is
// not dead-lettered.
var ErrNotRequeueable = errors.New("queue item is not dead-lettered")

// EventRepository defines persistence for the append-only webhook event log.
type EventRepository interface {
	// Insert appends an event. Returns false (and no error) when the
	// (source, external_event_id) pair already exists — a duplicate delivery.
	Insert(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	// SetStatusTx transitions an event's status inside a database transaction,
	// so received->processing commits atomically with queue item creation.
	SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.EventStatus, errMsg *string) error
	// SetStatus transitions an event's status outside a transaction.
	SetStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus, errMsg *string) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	List(ctx context.Context, params EventListParams) ([]domain.WebhookEvent, int64, error)
	// PruneBefore removes events received before the cutoff. Returns rows removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// SourceHealth aggregates per-source terminal-state counts over a window.
	SourceHealth(ctx context.Context, window time.Duration) ([]SourceHealthStat, error)
}

// EventListParams holds filter + pagination for listing webhook events.
type EventListParams struct {
	Source   *domain.Source
	Status   *domain.EventStatus
	From     *int64 // Unix timestamp
	To       *int64 // Unix timestamp
	Page     int
	PageSize int
}

// SourceHealthStat is one per-source health aggregate row.
type SourceHealthStat struct {
	Source      domain.Source
	Total       int64
	Completed   int64
	Failed      int64
	SuccessRate float64
	LastEventAt *time.Time
}

// QueueRepository defines persistence for the durable retry queue.
// All status/retry_count/scheduled_for mutation goes through these methods;
// no other component writes queue bookkeeping fields.
type QueueRepository interface {
	// Enqueue inserts a pending item within a database transaction.
	Enqueue(ctx context.Context, tx pgx.Tx, item *domain.SyncQueueItem) error
	// Claim atomically takes the highest-priority eligible pending item,
	// transitioning it to processing under claimToken. Returns nil when no
	// item is eligible. Ordering: priority asc, scheduled_for asc, created_at asc.
	Claim(ctx context.Context, claimToken uuid.UUID, now time.Time) (*domain.SyncQueueItem, error)
	// MarkCompleted finishes an item. Fails unless the item is processing
	// under claimToken.
	MarkCompleted(ctx context.Context, id uuid.UUID, claimToken uuid.UUID, processedAt time.Time) error
	// Reschedule returns an item to pending for a later attempt.
	Reschedule(ctx context.Context, id uuid.UUID, claimToken uuid.UUID, retryCount int, scheduledFor time.Time, errMsg string) error
	// MarkFailed dead-letters an item permanently.
	MarkFailed(ctx context.Context, id uuid.UUID, claimToken uuid.UUID, errMsg string) error
	// ReleaseStale returns processing items whose claim is older than the
	// cutoff back to pending without touching retry_count. Returns rows moved.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncQueueItem, error)
	ListDeadLetters(ctx context.Context, page, pageSize int) ([]domain.SyncQueueItem, int64, error)
	// Requeue resets a dead-lettered item to pending with a fresh retry budget.
	Requeue(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error
	// Stats aggregates source x status counts with average retries.
	Stats(ctx context.Context) ([]domain.QueueStat, error)
}

// SyncStatusRepository defines persistence for per-entity sync bookkeeping.
type SyncStatusRepository interface {
	Get(ctx context.Context, entityType domain.EntityType, entityID string, source domain.Source) (*domain.EntitySyncStatus, error)
	// Upsert applies the entity state with a compare-and-swap on sync_version.
	// expectedVersion 0 means "create if absent". Returns false on version
	// mismatch without applying.
	Upsert(ctx context.Context, status *domain.EntitySyncStatus, expectedVersion int64) (bool, error)
	Delete(ctx context.Context, entityType domain.EntityType, entityID string, source domain.Source) error
	// RecordConflict appends a conflict descriptor to the entity's sync_conflicts.
	RecordConflict(ctx context.Context, entityType domain.EntityType, entityID string, source domain.Source, conflict domain.SyncConflict) error
}

// OperatorRepository defines persistence for operator accounts.
type OperatorRepository interface {
	Create(ctx context.Context, op *domain.Operator) error
	GetByUsername(ctx context.Context, username string) (*domain.Operator, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
