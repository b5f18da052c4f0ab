package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"webhook-sync-engine/config"
	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProcessorService drains the retry queue with a pool of workers. Each
// worker claims through the engine, applies the item against the entity
// sync state, and reports the outcome back through the engine. Applies are
// idempotent: a replayed payload converges to the same state.
type ProcessorService struct {
	engine    *QueueEngineImpl
	syncRepo  ports.SyncStatusRepository
	eventRepo ports.EventRepository
	cfg       config.QueueConfig
	log       zerolog.Logger
}

// NewProcessorService creates a new ProcessorService.
func NewProcessorService(
	engine *QueueEngineImpl,
	syncRepo ports.SyncStatusRepository,
	eventRepo ports.EventRepository,
	cfg config.QueueConfig,
	log zerolog.Logger,
) *ProcessorService {
	return &ProcessorService{
		engine:    engine,
		syncRepo:  syncRepo,
		eventRepo: eventRepo,
		cfg:       cfg,
		log:       log,
	}
}

// Run starts the worker pool and blocks until the context is done and all
// workers have drained their in-flight item.
func (p *ProcessorService) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *ProcessorService) runWorker(ctx context.Context, worker int) {
	log := p.log.With().Int("worker", worker).Logger()
	log.Info().Msg("sync worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync worker stopped")
			return
		default:
		}

		item, token, err := p.engine.Claim(ctx)
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
			p.idle(ctx)
			continue
		}
		if item == nil {
			p.idle(ctx)
			continue
		}

		p.processOne(ctx, log, item, token)
	}
}

// ProcessOne applies a single claimed item and settles its queue and event
// state. Exposed for callers that drive the claim loop themselves.
func (p *ProcessorService) ProcessOne(ctx context.Context, item *domain.SyncQueueItem, token uuid.UUID) {
	p.processOne(ctx, p.log, item, token)
}

// idle waits one poll interval or until shutdown.
func (p *ProcessorService) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}

func (p *ProcessorService) processOne(ctx context.Context, log zerolog.Logger, item *domain.SyncQueueItem, token uuid.UUID) {
	applyCtx, cancel := context.WithTimeout(ctx, p.cfg.ApplyTimeout)
	defer cancel()

	applyErr := p.apply(applyCtx, item)
	if applyErr == nil {
		if err := p.engine.Complete(ctx, item, token); err != nil {
			if errors.Is(err, ports.ErrClaimLost) {
				// Swept while we were applying. The item will be
				// re-claimed; the apply is idempotent.
				log.Warn().Str("item_id", item.ID.String()).Msg("claim lost before completion")
				return
			}
			log.Error().Err(err).Str("item_id", item.ID.String()).Msg("complete failed")
			return
		}
		p.finalizeEvent(ctx, log, item.EventID, domain.EventStatusCompleted, nil)
		return
	}

	if ctx.Err() != nil {
		// Shutdown interrupted the apply. Leave the claim alone: the
		// sweeper returns it to pending with its retry budget intact.
		log.Info().Str("item_id", item.ID.String()).Msg("apply interrupted by shutdown, claim left for sweep")
		return
	}

	permanent := isPermanent(applyErr)
	if err := p.engine.Fail(ctx, item, token, applyErr, permanent); err != nil {
		log.Error().Err(err).Str("item_id", item.ID.String()).Msg("fail report lost")
		return
	}

	if permanent || item.RetryCount+1 >= item.MaxRetries {
		msg := applyErr.Error()
		p.finalizeEvent(ctx, log, item.EventID, domain.EventStatusFailed, &msg)
	} else {
		p.finalizeEvent(ctx, log, item.EventID, domain.EventStatusRetried, nil)
	}
}

// apply executes one item's action against the entity sync state with an
// optimistic check on sync_version. A lost race is resolved last-write-wins
// and recorded as a conflict on the entity.
func (p *ProcessorService) apply(ctx context.Context, item *domain.SyncQueueItem) error {
	switch item.Action {
	case domain.ActionDelete:
		if err := p.syncRepo.Delete(ctx, item.EntityType, item.EntityID, item.Source); err != nil {
			return apperror.ErrRetryableSync(err)
		}
		return nil
	case domain.ActionCreate, domain.ActionUpdate, domain.ActionUpsert:
		return p.applyUpsert(ctx, item)
	default:
		return apperror.ErrPermanentSync(fmt.Errorf("unknown action %q", item.Action))
	}
}

func (p *ProcessorService) applyUpsert(ctx context.Context, item *domain.SyncQueueItem) error {
	current, err := p.syncRepo.Get(ctx, item.EntityType, item.EntityID, item.Source)
	if err != nil {
		return apperror.ErrRetryableSync(err)
	}

	var expectedVersion int64
	status := &domain.EntitySyncStatus{
		EntityType:  item.EntityType,
		EntityID:    item.EntityID,
		Source:      item.Source,
		Data:        item.Payload,
		SyncEnabled: true,
	}
	if current != nil {
		if !current.SyncEnabled {
			return apperror.ErrPermanentSync(fmt.Errorf("sync disabled for %s/%s", item.EntityType, item.EntityID))
		}
		expectedVersion = current.SyncVersion
		status.ExternalID = current.ExternalID
	}

	applied, err := p.syncRepo.Upsert(ctx, status, expectedVersion)
	if err != nil {
		return apperror.ErrRetryableSync(err)
	}
	if applied {
		return nil
	}

	// Version raced with a concurrent writer. Resolve last-write-wins:
	// record the conflict, re-read and apply over the winner's version.
	actual, err := p.syncRepo.Get(ctx, item.EntityType, item.EntityID, item.Source)
	if err != nil {
		return apperror.ErrRetryableSync(err)
	}
	actualVersion := int64(0)
	if actual != nil {
		actualVersion = actual.SyncVersion
	}

	conflict := domain.SyncConflict{
		Source:          item.Source,
		ExpectedVersion: expectedVersion,
		ActualVersion:   actualVersion,
		Resolution:      "last_write_wins",
		OccurredAt:      time.Now(),
	}
	if err := p.syncRepo.RecordConflict(ctx, item.EntityType, item.EntityID, item.Source, conflict); err != nil {
		p.log.Warn().Err(err).
			Str("entity_type", string(item.EntityType)).
			Str("entity_id", item.EntityID).
			Msg("conflict recording failed")
	}

	applied, err = p.syncRepo.Upsert(ctx, status, actualVersion)
	if err != nil {
		return apperror.ErrRetryableSync(err)
	}
	if !applied {
		// Lost twice in a row; let the backoff cycle retry.
		return apperror.ErrSyncConflict()
	}
	return nil
}

func (p *ProcessorService) finalizeEvent(ctx context.Context, log zerolog.Logger, eventID uuid.UUID, status domain.EventStatus, errMsg *string) {
	if err := p.eventRepo.SetStatus(ctx, eventID, status, errMsg); err != nil {
		log.Error().Err(err).
			Str("event_id", eventID.String()).
			Str("status", string(status)).
			Msg("event finalization failed")
	}
}

// isPermanent classifies an apply error. Permanent sync failures and
// payload validation errors dead-letter immediately; everything else is
// transient and feeds the backoff cycle.
func isPermanent(err error) bool {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Code == "SYNC_002" || appErr.Code == "VAL_001"
	}
	return false
}
