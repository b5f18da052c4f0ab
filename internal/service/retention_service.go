package service

import (
	"context"
	"time"

	"webhook-sync-engine/config"
	"webhook-sync-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

// RetentionService prunes webhook events past the retention window. Events
// are never deleted by the pipeline itself, only aged out here.
type RetentionService struct {
	eventRepo ports.EventRepository
	cfg       config.RetentionConfig
	log       zerolog.Logger
}

// NewRetentionService creates a new RetentionService.
func NewRetentionService(eventRepo ports.EventRepository, cfg config.RetentionConfig, log zerolog.Logger) *RetentionService {
	return &RetentionService{eventRepo: eventRepo, cfg: cfg, log: log}
}

// PruneOnce removes events older than the retention window.
func (s *RetentionService) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.cfg.EventWindow)
	pruned, err := s.eventRepo.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.log.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("webhook events pruned")
	}
	return pruned, nil
}

// RunPruner periodically prunes until the context is done.
func (s *RetentionService) RunPruner(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PruneOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("event prune failed")
			}
		}
	}
}
