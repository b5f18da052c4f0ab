package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const ackNotProcessed = "acknowledged but not processed"

// IngestServiceImpl implements ports.IngestService: the intake pipeline
// from raw delivery to transactionally enqueued sync work.
type IngestServiceImpl struct {
	verifier   ports.VerifierService
	dispatcher *DispatcherService
	eventRepo  ports.EventRepository
	queueRepo  ports.QueueRepository
	dedup      ports.DedupStore
	transactor ports.DBTransactor
	dedupTTL   time.Duration
	log        zerolog.Logger
}

// NewIngestService creates a new IngestServiceImpl.
func NewIngestService(
	verifier ports.VerifierService,
	dispatcher *DispatcherService,
	eventRepo ports.EventRepository,
	queueRepo ports.QueueRepository,
	dedup ports.DedupStore,
	transactor ports.DBTransactor,
	dedupTTL time.Duration,
	log zerolog.Logger,
) *IngestServiceImpl {
	return &IngestServiceImpl{
		verifier:   verifier,
		dispatcher: dispatcher,
		eventRepo:  eventRepo,
		queueRepo:  queueRepo,
		dedup:      dedup,
		transactor: transactor,
		dedupTTL:   dedupTTL,
		log:        log,
	}
}

// Ingest runs the pipeline: verify, log, dedupe, route, enqueue.
// The event row is appended even when verification fails (audit trail);
// only verified events produce queue items.
func (s *IngestServiceImpl) Ingest(ctx context.Context, req ports.IngestRequest) (*ports.IngestResult, error) {
	source := domain.Source(req.Source)
	now := time.Now()

	trustLevel, verifyErr := s.verifier.Verify(source, req.Header, req.Body)
	if verifyErr != nil {
		var appErr *apperror.AppError
		if errors.As(verifyErr, &appErr) && (appErr.Code == "SRC_001" || appErr.Code == "SRC_002") {
			// Unknown or disabled source: nothing to log against.
			return nil, verifyErr
		}
		// Auth failure on a known source: append the audit row, never enqueue.
		s.logFailedEvent(ctx, source, req, verifyErr.Error(), now)
		return nil, verifyErr
	}

	eventType, externalID, err := s.dispatcher.ExtractMeta(source, req.Header, req.Body)
	if err != nil {
		s.logFailedEvent(ctx, source, req, err.Error(), now)
		return nil, err
	}

	event := &domain.WebhookEvent{
		ID:              uuid.New(),
		Source:          source,
		ExternalEventID: externalID,
		EventType:       eventType,
		Payload:         req.Body,
		TrustLevel:      trustLevel,
		Status:          domain.EventStatusReceived,
		ReceivedAt:      now,
		UpdatedAt:       now,
	}

	// Fast-path duplicate suppression. Redis errors fall through: the
	// database unique constraint is the authoritative check.
	if externalID != nil {
		isNew, err := s.dedup.CheckAndSet(ctx, event.DedupKey(), s.dedupTTL)
		if err != nil {
			s.log.Warn().Err(err).Str("key", event.DedupKey()).Msg("redis dedup check failed, falling through to DB")
		} else if !isNew {
			s.log.Info().Str("source", req.Source).Str("external_event_id", *externalID).Msg("duplicate delivery suppressed")
			return &ports.IngestResult{Duplicate: true, Message: "duplicate delivery"}, nil
		}
	}

	inserted, err := s.eventRepo.Insert(ctx, event)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("log webhook event: %w", err))
	}
	if !inserted {
		s.log.Info().Str("source", req.Source).Str("event_type", eventType).Msg("duplicate delivery suppressed")
		return &ports.IngestResult{Duplicate: true, Message: "duplicate delivery"}, nil
	}

	items, err := s.dispatcher.Route(event, now)
	if err != nil {
		msg := err.Error()
		if serr := s.eventRepo.SetStatus(ctx, event.ID, domain.EventStatusFailed, &msg); serr != nil {
			s.log.Error().Err(serr).Str("event_id", event.ID.String()).Msg("failed to mark event failed")
		}
		return nil, err
	}

	if len(items) == 0 {
		msg := ackNotProcessed
		if err := s.eventRepo.SetStatus(ctx, event.ID, domain.EventStatusCompleted, &msg); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("complete unrouted event: %w", err))
		}
		return &ports.IngestResult{EventID: event.ID, Message: ackNotProcessed}, nil
	}

	// Queue items and the received -> processing transition commit together:
	// an event never reports processing without its items being durable.
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	for _, item := range items {
		if err := s.queueRepo.Enqueue(ctx, dbTx, item); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("enqueue sync item: %w", err))
		}
	}
	if err := s.eventRepo.SetStatusTx(ctx, dbTx, event.ID, domain.EventStatusProcessing, nil); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("transition event to processing: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("source", req.Source).
		Str("event_type", eventType).
		Str("event_id", event.ID.String()).
		Int("enqueued", len(items)).
		Msg("webhook ingested")

	return &ports.IngestResult{EventID: event.ID, Enqueued: len(items)}, nil
}

// logFailedEvent appends the audit row for a delivery rejected before
// routing. Best effort: a logging failure must not mask the original error.
func (s *IngestServiceImpl) logFailedEvent(ctx context.Context, source domain.Source, req ports.IngestRequest, reason string, now time.Time) {
	eventType, externalID, _ := s.dispatcher.ExtractMeta(source, req.Header, req.Body)

	event := &domain.WebhookEvent{
		ID:              uuid.New(),
		Source:          source,
		ExternalEventID: externalID,
		EventType:       eventType,
		Payload:         req.Body,
		TrustLevel:      domain.TrustLevelLow,
		Status:          domain.EventStatusFailed,
		ErrorMessage:    &reason,
		ReceivedAt:      now,
		UpdatedAt:       now,
	}
	if _, err := s.eventRepo.Insert(ctx, event); err != nil {
		s.log.Error().Err(err).Str("source", string(source)).Msg("failed to log rejected delivery")
	}
}
