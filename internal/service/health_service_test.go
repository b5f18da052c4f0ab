package service

import (
	"context"
	"testing"
	"time"

	"webhook-sync-engine/config"
	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestHealthService_Snapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	eventRepo := mocks.NewMockEventRepository(ctrl)
	queueRepo := mocks.NewMockQueueRepository(ctrl)
	svc := NewHealthService(eventRepo, queueRepo)
	ctx := context.Background()

	eventRepo.EXPECT().SourceHealth(ctx, 24*time.Hour).Return([]ports.SourceHealthStat{
		{Source: domain.SourceShopify, Total: 10, Completed: 9, Failed: 1, SuccessRate: 0.9},
	}, nil)
	queueRepo.EXPECT().Stats(ctx).Return([]domain.QueueStat{
		{Source: domain.SourceShopify, Status: domain.QueueStatusPending, Count: 2},
	}, nil)

	snap, err := svc.Snapshot(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, snap.Window)
	require.Len(t, snap.Sources, 1)
	assert.InDelta(t, 0.9, snap.Sources[0].SuccessRate, 0.001)
	require.Len(t, snap.Queue, 1)
	assert.WithinDuration(t, time.Now(), snap.GeneratedAt, time.Second)
}

func TestHealthService_Snapshot_RepoError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	eventRepo := mocks.NewMockEventRepository(ctrl)
	queueRepo := mocks.NewMockQueueRepository(ctrl)
	svc := NewHealthService(eventRepo, queueRepo)
	ctx := context.Background()

	eventRepo.EXPECT().SourceHealth(ctx, time.Hour).Return(nil, assert.AnError)

	_, err := svc.Snapshot(ctx, time.Hour)
	assert.Error(t, err)
}

func retentionTestConfig() config.RetentionConfig {
	return config.RetentionConfig{
		EventWindow:   720 * time.Hour,
		PruneInterval: time.Hour,
	}
}

func TestRetentionService_PruneOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	eventRepo := mocks.NewMockEventRepository(ctrl)
	svc := NewRetentionService(eventRepo, retentionTestConfig(), zerolog.Nop())
	ctx := context.Background()

	eventRepo.EXPECT().PruneBefore(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, cutoff time.Time) (int64, error) {
			assert.WithinDuration(t, time.Now().Add(-720*time.Hour), cutoff, time.Second)
			return 5, nil
		})

	pruned, err := svc.PruneOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pruned)
}
