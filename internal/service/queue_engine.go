package service

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"webhook-sync-engine/config"
	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueEngineImpl implements ports.QueueEngine. It is the single owner of
// queue bookkeeping: workers claim through it and report outcomes back
// through it, never touching status or retry_count directly.
type QueueEngineImpl struct {
	queueRepo ports.QueueRepository
	cfg       config.QueueConfig
	log       zerolog.Logger
}

// NewQueueEngine creates a new QueueEngineImpl.
func NewQueueEngine(queueRepo ports.QueueRepository, cfg config.QueueConfig, log zerolog.Logger) *QueueEngineImpl {
	return &QueueEngineImpl{
		queueRepo: queueRepo,
		cfg:       cfg,
		log:       log,
	}
}

// Claim takes ownership of the next eligible pending item under a fresh
// claim token. A nil item means the queue has nothing eligible right now.
func (e *QueueEngineImpl) Claim(ctx context.Context) (*domain.SyncQueueItem, uuid.UUID, error) {
	token := uuid.New()
	item, err := e.queueRepo.Claim(ctx, token, time.Now())
	if err != nil {
		return nil, uuid.Nil, apperror.ErrDatabaseError(err)
	}
	if item == nil {
		return nil, uuid.Nil, nil
	}
	return item, token, nil
}

// Complete marks a claimed item terminally successful. A claim lost to the
// sweeper surfaces as a QUE_002 conflict still satisfying
// errors.Is(err, ports.ErrClaimLost).
func (e *QueueEngineImpl) Complete(ctx context.Context, item *domain.SyncQueueItem, claimToken uuid.UUID) error {
	if err := e.queueRepo.MarkCompleted(ctx, item.ID, claimToken, time.Now()); err != nil {
		return e.settleErr(err)
	}
	e.log.Debug().
		Str("item_id", item.ID.String()).
		Str("entity_type", string(item.EntityType)).
		Str("entity_id", item.EntityID).
		Msg("queue item completed")
	return nil
}

// Fail reports a processing failure. Permanent failures and exhausted
// budgets dead-letter immediately; retryable failures reschedule with
// exponential backoff.
func (e *QueueEngineImpl) Fail(ctx context.Context, item *domain.SyncQueueItem, claimToken uuid.UUID, cause error, permanent bool) error {
	retryCount := item.RetryCount + 1

	if permanent || retryCount >= item.MaxRetries {
		reason := cause.Error()
		if err := e.queueRepo.MarkFailed(ctx, item.ID, claimToken, reason); err != nil {
			return e.settleErr(err)
		}
		e.log.Warn().
			Str("item_id", item.ID.String()).
			Str("source", string(item.Source)).
			Int("retry_count", retryCount).
			Bool("permanent", permanent).
			Str("reason", reason).
			Msg("queue item dead-lettered")
		return nil
	}

	delay := e.backoff(item.RetryCount)
	scheduledFor := time.Now().Add(delay)
	if err := e.queueRepo.Reschedule(ctx, item.ID, claimToken, retryCount, scheduledFor, cause.Error()); err != nil {
		return e.settleErr(err)
	}
	e.log.Info().
		Str("item_id", item.ID.String()).
		Int("retry_count", retryCount).
		Dur("backoff", delay).
		Msg("queue item rescheduled")
	return nil
}

// settleErr maps a rejected settle to its application error.
func (e *QueueEngineImpl) settleErr(err error) error {
	if errors.Is(err, ports.ErrClaimLost) {
		return apperror.ErrClaimTokenMismatch(err)
	}
	return err
}

// Sweep returns items stuck in processing past the claim timeout back to
// pending. A worker crash is not a business failure, so retry_count is
// left unchanged.
func (e *QueueEngineImpl) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-e.cfg.ClaimTimeout)
	released, err := e.queueRepo.ReleaseStale(ctx, cutoff)
	if err != nil {
		return 0, apperror.ErrDatabaseError(err)
	}
	if released > 0 {
		e.log.Warn().Int64("released", released).Msg("stale claims swept back to pending")
	}
	return released, nil
}

// RunSweeper periodically sweeps stale claims until the context is done.
func (e *QueueEngineImpl) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.log.Error().Err(err).Msg("stale claim sweep failed")
			}
		}
	}
}

// backoff computes min(cap, base * 2^retryCount) with symmetric jitter.
func (e *QueueEngineImpl) backoff(retryCount int) time.Duration {
	base := float64(e.cfg.BackoffBase)
	capped := math.Min(float64(e.cfg.BackoffCap), base*math.Pow(2, float64(retryCount)))

	jitter := e.cfg.BackoffJitter
	if jitter > 0 {
		// Uniform in [-jitter, +jitter] around the deterministic delay.
		capped *= 1 + jitter*(2*rand.Float64()-1)
	}
	return time.Duration(capped)
}
