package service

import (
	"context"
	"errors"
	"time"

	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueAdminServiceImpl implements ports.QueueAdminService: the operator
// surface for queue statistics, dead-letter inspection and manual requeue.
type QueueAdminServiceImpl struct {
	queueRepo ports.QueueRepository
	log       zerolog.Logger
}

// NewQueueAdminService creates a new QueueAdminServiceImpl.
func NewQueueAdminService(queueRepo ports.QueueRepository, log zerolog.Logger) *QueueAdminServiceImpl {
	return &QueueAdminServiceImpl{queueRepo: queueRepo, log: log}
}

// Stats returns source x status aggregates.
func (s *QueueAdminServiceImpl) Stats(ctx context.Context) ([]domain.QueueStat, error) {
	stats, err := s.queueRepo.Stats(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return stats, nil
}

// DeadLetters lists dead-lettered items, newest first.
func (s *QueueAdminServiceImpl) DeadLetters(ctx context.Context, page, pageSize int) ([]domain.SyncQueueItem, int64, error) {
	items, total, err := s.queueRepo.ListDeadLetters(ctx, page, pageSize)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return items, total, nil
}

// RequeueDeadLetter returns a dead-lettered item to pending with a fresh
// retry budget. Only valid against failed items.
func (s *QueueAdminServiceImpl) RequeueDeadLetter(ctx context.Context, id uuid.UUID) error {
	item, err := s.queueRepo.GetByID(ctx, id)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if item == nil {
		return apperror.ErrQueueItemNotFound()
	}

	if err := s.queueRepo.Requeue(ctx, id, time.Now()); err != nil {
		if errors.Is(err, ports.ErrNotRequeueable) {
			return apperror.ErrNotDeadLettered()
		}
		return apperror.ErrDatabaseError(err)
	}

	s.log.Info().Str("item_id", id.String()).Msg("dead letter requeued")
	return nil
}
