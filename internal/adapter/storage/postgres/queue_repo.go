package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Sentinels shared with the service layer through ports.
var (
	ErrClaimLost      = ports.ErrClaimLost
	ErrNotRequeueable = ports.ErrNotRequeueable
)

// QueueRepo implements ports.QueueRepository. It is the only writer of
// status, retry_count and scheduled_for.
type QueueRepo struct {
	pool Pool
}

// NewQueueRepo creates a new QueueRepo.
func NewQueueRepo(pool Pool) *QueueRepo {
	return &QueueRepo{pool: pool}
}

const queueColumns = `id, event_id, source, action, entity_type, entity_id, payload, priority,
		status, retry_count, max_retries, error_message, scheduled_for,
		claim_token, claimed_at, created_at, updated_at, processed_at`

// Enqueue inserts a pending item within a database transaction, so item
// creation commits atomically with the parent event's status transition.
func (r *QueueRepo) Enqueue(ctx context.Context, tx pgx.Tx, item *domain.SyncQueueItem) error {
	query := `INSERT INTO sync_queue_items
		(id, event_id, source, action, entity_type, entity_id, payload, priority, status, retry_count, max_retries, scheduled_for, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := tx.Exec(ctx, query,
		item.ID, item.EventID, item.Source, item.Action, item.EntityType,
		item.EntityID, item.Payload, item.Priority, item.Status,
		item.RetryCount, item.MaxRetries, item.ScheduledFor,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync queue item: %w", err)
	}
	return nil
}

// Claim atomically takes the next eligible pending item. FOR UPDATE SKIP
// LOCKED guarantees at-most-one claimer under concurrent workers; losers see
// no eligible row, not a lock wait.
func (r *QueueRepo) Claim(ctx context.Context, claimToken uuid.UUID, now time.Time) (*domain.SyncQueueItem, error) {
	query := fmt.Sprintf(`UPDATE sync_queue_items
		SET status = 'processing', claim_token = $1, claimed_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM sync_queue_items
			WHERE status = 'pending' AND scheduled_for <= $2
			ORDER BY priority ASC, scheduled_for ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING %s`, queueColumns)

	item, err := r.scanItem(r.pool.QueryRow(ctx, query, claimToken, now))
	if err != nil {
		return nil, fmt.Errorf("claim sync queue item: %w", err)
	}
	return item, nil
}

// MarkCompleted finishes an item terminally. The claim token guard rejects
// stale workers whose claim was swept in the meantime.
func (r *QueueRepo) MarkCompleted(ctx context.Context, id uuid.UUID, claimToken uuid.UUID, processedAt time.Time) error {
	query := `UPDATE sync_queue_items
		SET status = 'completed', processed_at = $1, updated_at = $1, claim_token = NULL, claimed_at = NULL
		WHERE id = $2 AND claim_token = $3 AND status = 'processing'`

	tag, err := r.pool.Exec(ctx, query, processedAt, id, claimToken)
	if err != nil {
		return fmt.Errorf("complete sync queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// Reschedule returns an item to pending for a later attempt.
func (r *QueueRepo) Reschedule(ctx context.Context, id uuid.UUID, claimToken uuid.UUID, retryCount int, scheduledFor time.Time, errMsg string) error {
	query := `UPDATE sync_queue_items
		SET status = 'pending', retry_count = $1, scheduled_for = $2, error_message = $3,
			updated_at = $4, claim_token = NULL, claimed_at = NULL
		WHERE id = $5 AND claim_token = $6 AND status = 'processing'`

	tag, err := r.pool.Exec(ctx, query, retryCount, scheduledFor, errMsg, time.Now(), id, claimToken)
	if err != nil {
		return fmt.Errorf("reschedule sync queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// MarkFailed dead-letters an item permanently.
func (r *QueueRepo) MarkFailed(ctx context.Context, id uuid.UUID, claimToken uuid.UUID, errMsg string) error {
	now := time.Now()
	query := `UPDATE sync_queue_items
		SET status = 'failed', error_message = $1, processed_at = $2, updated_at = $2,
			claim_token = NULL, claimed_at = NULL
		WHERE id = $3 AND claim_token = $4 AND status = 'processing'`

	tag, err := r.pool.Exec(ctx, query, errMsg, now, id, claimToken)
	if err != nil {
		return fmt.Errorf("fail sync queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// ReleaseStale returns crashed-worker items to pending. A crash is not a
// business failure, so retry_count stays untouched.
func (r *QueueRepo) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE sync_queue_items
		SET status = 'pending', claim_token = NULL, claimed_at = NULL, updated_at = $1
		WHERE status = 'processing' AND claimed_at < $2`

	tag, err := r.pool.Exec(ctx, query, time.Now(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetByID fetches a queue item by UUID.
func (r *QueueRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncQueueItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_queue_items WHERE id = $1`, queueColumns)

	item, err := r.scanItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get sync queue item: %w", err)
	}
	return item, nil
}

// ListDeadLetters fetches dead-lettered items, newest first.
func (r *QueueRepo) ListDeadLetters(ctx context.Context, page, pageSize int) ([]domain.SyncQueueItem, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_queue_items WHERE status = 'failed'`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dead letters: %w", err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(`SELECT %s FROM sync_queue_items
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`, queueColumns)

	rows, err := r.pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var items []domain.SyncQueueItem
	for rows.Next() {
		var i domain.SyncQueueItem
		if err := rows.Scan(
			&i.ID, &i.EventID, &i.Source, &i.Action, &i.EntityType, &i.EntityID,
			&i.Payload, &i.Priority, &i.Status, &i.RetryCount, &i.MaxRetries,
			&i.ErrorMessage, &i.ScheduledFor, &i.ClaimToken, &i.ClaimedAt,
			&i.CreatedAt, &i.UpdatedAt, &i.ProcessedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan dead letter row: %w", err)
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate dead letter rows: %w", err)
	}
	return items, total, nil
}

// Requeue resets a dead-lettered item to pending with a fresh retry budget.
// Manual operator action only.
func (r *QueueRepo) Requeue(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error {
	query := `UPDATE sync_queue_items
		SET status = 'pending', retry_count = 0, error_message = NULL,
			scheduled_for = $1, processed_at = NULL, updated_at = $2
		WHERE id = $3 AND status = 'failed'`

	tag, err := r.pool.Exec(ctx, query, scheduledFor, time.Now(), id)
	if err != nil {
		return fmt.Errorf("requeue sync queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotRequeueable
	}
	return nil
}

// Stats aggregates source x status counts with average retries.
func (r *QueueRepo) Stats(ctx context.Context) ([]domain.QueueStat, error) {
	query := `SELECT source, status, COUNT(*) AS count, COALESCE(AVG(retry_count), 0) AS avg_retry_count
		FROM sync_queue_items
		GROUP BY source, status
		ORDER BY source, status`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queue stats query: %w", err)
	}
	defer rows.Close()

	var stats []domain.QueueStat
	for rows.Next() {
		var s domain.QueueStat
		if err := rows.Scan(&s.Source, &s.Status, &s.Count, &s.AvgRetryCount); err != nil {
			return nil, fmt.Errorf("scan queue stat row: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stat rows: %w", err)
	}
	return stats, nil
}

// scanItem is a helper to scan a single row into a SyncQueueItem.
// Returns nil, nil when the row does not exist.
func (r *QueueRepo) scanItem(row pgx.Row) (*domain.SyncQueueItem, error) {
	i := &domain.SyncQueueItem{}
	err := row.Scan(
		&i.ID, &i.EventID, &i.Source, &i.Action, &i.EntityType, &i.EntityID,
		&i.Payload, &i.Priority, &i.Status, &i.RetryCount, &i.MaxRetries,
		&i.ErrorMessage, &i.ScheduledFor, &i.ClaimToken, &i.ClaimedAt,
		&i.CreatedAt, &i.UpdatedAt, &i.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return i, nil
}
