package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"webhook-sync-engine/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SyncStatusRepo implements ports.SyncStatusRepository.
type SyncStatusRepo struct {
	pool Pool
}

// NewSyncStatusRepo creates a new SyncStatusRepo.
func NewSyncStatusRepo(pool Pool) *SyncStatusRepo {
	return &SyncStatusRepo{pool: pool}
}

// Get fetches the sync status for one entity from one source.
func (r *SyncStatusRepo) Get(ctx context.Context, entityType domain.EntityType, entityID string, source domain.Source) (*domain.EntitySyncStatus, error) {
	query := `SELECT entity_type, entity_id, source, external_id, data, sync_version,
		is_sync_enabled, sync_conflicts, last_synced_at, created_at, updated_at
		FROM entity_sync_status
		WHERE entity_type = $1 AND entity_id = $2 AND source = $3`

	s := &domain.EntitySyncStatus{}
	var conflicts []byte
	err := r.pool.QueryRow(ctx, query, entityType, entityID, source).Scan(
		&s.EntityType, &s.EntityID, &s.Source, &s.ExternalID, &s.Data,
		&s.SyncVersion, &s.SyncEnabled, &conflicts, &s.LastSyncedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get entity sync status: %w", err)
	}
	if len(conflicts) > 0 {
		if err := json.Unmarshal(conflicts, &s.SyncConflicts); err != nil {
			return nil, fmt.Errorf("decode sync conflicts: %w", err)
		}
	}
	return s, nil
}

// Upsert applies an entity state with a compare-and-swap on sync_version.
// expectedVersion 0 creates the row; a concurrent writer makes either path
// return false without applying.
func (r *SyncStatusRepo) Upsert(ctx context.Context, status *domain.EntitySyncStatus, expectedVersion int64) (bool, error) {
	now := time.Now()

	if expectedVersion == 0 {
		query := `INSERT INTO entity_sync_status
			(entity_type, entity_id, source, external_id, data, sync_version, is_sync_enabled, sync_conflicts, last_synced_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6, '[]', $7, $7, $7)
			ON CONFLICT (entity_type, entity_id, source) DO NOTHING`

		tag, err := r.pool.Exec(ctx, query,
			status.EntityType, status.EntityID, status.Source,
			status.ExternalID, status.Data, status.SyncEnabled, now,
		)
		if err != nil {
			return false, fmt.Errorf("insert entity sync status: %w", err)
		}
		if tag.RowsAffected() == 1 {
			status.SyncVersion = 1
			status.LastSyncedAt = now
		}
		return tag.RowsAffected() == 1, nil
	}

	query := `UPDATE entity_sync_status
		SET external_id = $1, data = $2, sync_version = sync_version + 1, last_synced_at = $3, updated_at = $3
		WHERE entity_type = $4 AND entity_id = $5 AND source = $6 AND sync_version = $7`

	tag, err := r.pool.Exec(ctx, query,
		status.ExternalID, status.Data, now,
		status.EntityType, status.EntityID, status.Source, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("update entity sync status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		status.SyncVersion = expectedVersion + 1
		status.LastSyncedAt = now
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes the sync status row for one entity from one source.
// Deleting an absent row is not an error (idempotent delete).
func (r *SyncStatusRepo) Delete(ctx context.Context, entityType domain.EntityType, entityID string, source domain.Source) error {
	query := `DELETE FROM entity_sync_status WHERE entity_type = $1 AND entity_id = $2 AND source = $3`

	_, err := r.pool.Exec(ctx, query, entityType, entityID, source)
	if err != nil {
		return fmt.Errorf("delete entity sync status: %w", err)
	}
	return nil
}

// RecordConflict appends a conflict descriptor to the entity's sync_conflicts.
func (r *SyncStatusRepo) RecordConflict(ctx context.Context, entityType domain.EntityType, entityID string, source domain.Source, conflict domain.SyncConflict) error {
	payload, err := json.Marshal(conflict)
	if err != nil {
		return fmt.Errorf("encode sync conflict: %w", err)
	}

	query := `UPDATE entity_sync_status
		SET sync_conflicts = sync_conflicts || $1::jsonb, updated_at = $2
		WHERE entity_type = $3 AND entity_id = $4 AND source = $5`

	tag, err := r.pool.Exec(ctx, query, payload, time.Now(), entityType, entityID, source)
	if err != nil {
		return fmt.Errorf("record sync conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity sync status not found: %s/%s/%s", entityType, entityID, source)
	}
	return nil
}
