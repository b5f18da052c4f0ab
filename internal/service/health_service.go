package service

import (
	"context"
	"fmt"
	"time"

	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/pkg/apperror"
)

// HealthServiceImpl implements ports.HealthService. Purely derived from
// terminal states; no side effects on the core entities.
type HealthServiceImpl struct {
	eventRepo ports.EventRepository
	queueRepo ports.QueueRepository
}

// NewHealthService creates a new HealthServiceImpl.
func NewHealthService(eventRepo ports.EventRepository, queueRepo ports.QueueRepository) *HealthServiceImpl {
	return &HealthServiceImpl{eventRepo: eventRepo, queueRepo: queueRepo}
}

// Snapshot aggregates per-source success rates over the window plus the
// current queue composition.
func (s *HealthServiceImpl) Snapshot(ctx context.Context, window time.Duration) (*ports.SourceHealthSnapshot, error) {
	sources, err := s.eventRepo.SourceHealth(ctx, window)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("source health: %w", err))
	}

	queue, err := s.queueRepo.Stats(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("queue stats: %w", err))
	}

	return &ports.SourceHealthSnapshot{
		Window:      window,
		Sources:     sources,
		Queue:       queue,
		GeneratedAt: time.Now(),
	}, nil
}
