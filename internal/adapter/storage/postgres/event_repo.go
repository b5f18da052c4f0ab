package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EventRepo implements ports.EventRepository.
type EventRepo struct {
	pool Pool
}

// NewEventRepo creates a new EventRepo.
func NewEventRepo(pool Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

const eventColumns = `id, source, external_event_id, event_type, payload, trust_level,
		status, retry_count, error_message, received_at, updated_at`

// Insert appends a webhook event. The (source, external_event_id) unique
// constraint makes duplicate deliveries a no-op insert; callers see
// inserted=false and short-circuit.
func (r *EventRepo) Insert(ctx context.Context, e *domain.WebhookEvent) (bool, error) {
	query := `INSERT INTO webhook_events
		(id, source, external_event_id, event_type, payload, trust_level, status, retry_count, error_message, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source, external_event_id) WHERE external_event_id IS NOT NULL DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		e.ID, e.Source, e.ExternalEventID, e.EventType, e.Payload,
		e.TrustLevel, e.Status, e.RetryCount, e.ErrorMessage,
		e.ReceivedAt, e.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStatusTx transitions an event's status inside a database transaction.
func (r *EventRepo) SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.EventStatus, errMsg *string) error {
	query := `UPDATE webhook_events SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`

	tag, err := tx.Exec(ctx, query, status, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook event not found: %s", id)
	}
	return nil
}

// SetStatus transitions an event's status outside a transaction.
func (r *EventRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus, errMsg *string) error {
	query := `UPDATE webhook_events SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`

	tag, err := r.pool.Exec(ctx, query, status, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook event not found: %s", id)
	}
	return nil
}

// GetByID fetches a webhook event by UUID.
func (r *EventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_events WHERE id = $1`, eventColumns)
	return r.scanEvent(r.pool.QueryRow(ctx, query, id))
}

// List fetches webhook events with filtering and pagination.
func (r *EventRepo) List(ctx context.Context, params ports.EventListParams) ([]domain.WebhookEvent, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Source != nil {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, *params.Source)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("received_at >= to_timestamp($%d)", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("received_at <= to_timestamp($%d)", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM webhook_events %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhook events: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM webhook_events %s ORDER BY received_at DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var e domain.WebhookEvent
		if err := rows.Scan(
			&e.ID, &e.Source, &e.ExternalEventID, &e.EventType, &e.Payload,
			&e.TrustLevel, &e.Status, &e.RetryCount, &e.ErrorMessage,
			&e.ReceivedAt, &e.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan webhook event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate webhook event rows: %w", err)
	}
	return events, total, nil
}

// PruneBefore removes events received before the cutoff (retention window).
func (r *EventRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SourceHealth aggregates per-source terminal-state counts over a window.
func (r *EventRepo) SourceHealth(ctx context.Context, window time.Duration) ([]ports.SourceHealthStat, error) {
	query := `SELECT source,
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		MAX(received_at) AS last_event_at
		FROM webhook_events
		WHERE received_at >= $1
		GROUP BY source
		ORDER BY source`

	rows, err := r.pool.Query(ctx, query, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("source health query: %w", err)
	}
	defer rows.Close()

	var stats []ports.SourceHealthStat
	for rows.Next() {
		var s ports.SourceHealthStat
		if err := rows.Scan(&s.Source, &s.Total, &s.Completed, &s.Failed, &s.LastEventAt); err != nil {
			return nil, fmt.Errorf("scan source health row: %w", err)
		}
		if s.Total > 0 {
			s.SuccessRate = float64(s.Completed) / float64(s.Total)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source health rows: %w", err)
	}
	return stats, nil
}

// scanEvent is a helper to scan a single row into a WebhookEvent.
func (r *EventRepo) scanEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	e := &domain.WebhookEvent{}
	err := row.Scan(
		&e.ID, &e.Source, &e.ExternalEventID, &e.EventType, &e.Payload,
		&e.TrustLevel, &e.Status, &e.RetryCount, &e.ErrorMessage,
		&e.ReceivedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan webhook event: %w", err)
	}
	return e, nil
}
