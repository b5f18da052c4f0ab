package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"webhook-sync-engine/config"
	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/internal/core/ports/mocks"
	"webhook-sync-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Workers:       2,
		PollInterval:  10 * time.Millisecond,
		MaxRetries:    3,
		BackoffBase:   30 * time.Second,
		BackoffCap:    time.Hour,
		BackoffJitter: 0.2,
		ClaimTimeout:  5 * time.Minute,
		SweepInterval: time.Minute,
		ApplyTimeout:  30 * time.Second,
	}
}

func claimedItem(retryCount int) *domain.SyncQueueItem {
	return &domain.SyncQueueItem{
		ID:         uuid.New(),
		EventID:    uuid.New(),
		Source:     domain.SourceShopify,
		Action:     domain.ActionUpsert,
		EntityType: domain.EntityCustomer,
		EntityID:   "123",
		Status:     domain.QueueStatusProcessing,
		RetryCount: retryCount,
		MaxRetries: 3,
	}
}

func TestQueueEngine_Claim(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, testQueueConfig(), zerolog.Nop())
	ctx := context.Background()
	item := claimedItem(0)

	repo.EXPECT().Claim(ctx, gomock.Any(), gomock.Any()).Return(item, nil)

	claimed, token, err := engine.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, item, claimed)
	assert.NotEqual(t, uuid.Nil, token)
}

func TestQueueEngine_Claim_EmptyQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, testQueueConfig(), zerolog.Nop())
	ctx := context.Background()

	repo.EXPECT().Claim(ctx, gomock.Any(), gomock.Any()).Return(nil, nil)

	claimed, _, err := engine.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestQueueEngine_Fail_Retryable_Reschedules(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, testQueueConfig(), zerolog.Nop())
	ctx := context.Background()
	item := claimedItem(0)
	token := uuid.New()
	cause := errors.New("downstream timeout")

	repo.EXPECT().Reschedule(ctx, item.ID, token, 1, gomock.Any(), "downstream timeout").DoAndReturn(
		func(_ context.Context, _, _ uuid.UUID, _ int, scheduledFor time.Time, _ string) error {
			// First retry: 30s * 2^0 = 30s, +-20% jitter.
			delay := time.Until(scheduledFor)
			assert.GreaterOrEqual(t, delay, 23*time.Second)
			assert.LessOrEqual(t, delay, 37*time.Second)
			return nil
		})

	err := engine.Fail(ctx, item, token, cause, false)
	assert.NoError(t, err)
}

func TestQueueEngine_Fail_BackoffGrowsWithRetryCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testQueueConfig()
	cfg.BackoffJitter = 0 // deterministic for this test
	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, cfg, zerolog.Nop())
	ctx := context.Background()
	token := uuid.New()

	var delays []time.Duration
	repo.EXPECT().Reschedule(ctx, gomock.Any(), token, gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _, _ uuid.UUID, _ int, scheduledFor time.Time, _ string) error {
			delays = append(delays, time.Until(scheduledFor))
			return nil
		}).Times(2)

	item := claimedItem(0)
	item.MaxRetries = 5
	require.NoError(t, engine.Fail(ctx, item, token, errors.New("x"), false))

	item = claimedItem(1)
	item.MaxRetries = 5
	require.NoError(t, engine.Fail(ctx, item, token, errors.New("x"), false))

	require.Len(t, delays, 2)
	assert.Greater(t, delays[1], delays[0], "backoff must be monotonically non-decreasing in retry count")
}

func TestQueueEngine_Fail_ExhaustedBudget_DeadLetters(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, testQueueConfig(), zerolog.Nop())
	ctx := context.Background()
	item := claimedItem(2) // third failure hits max_retries=3
	token := uuid.New()

	repo.EXPECT().MarkFailed(ctx, item.ID, token, "downstream timeout").Return(nil)

	err := engine.Fail(ctx, item, token, errors.New("downstream timeout"), false)
	assert.NoError(t, err)
}

func TestQueueEngine_Fail_Permanent_DeadLettersImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, testQueueConfig(), zerolog.Nop())
	ctx := context.Background()
	item := claimedItem(0) // full retry budget remaining
	token := uuid.New()

	repo.EXPECT().MarkFailed(ctx, item.ID, token, "malformed payload").Return(nil)

	err := engine.Fail(ctx, item, token, errors.New("malformed payload"), true)
	assert.NoError(t, err)
}

func TestQueueEngine_Complete(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, testQueueConfig(), zerolog.Nop())
	ctx := context.Background()
	item := claimedItem(0)
	token := uuid.New()

	repo.EXPECT().MarkCompleted(ctx, item.ID, token, gomock.Any()).Return(nil)

	assert.NoError(t, engine.Complete(ctx, item, token))
}

func TestQueueEngine_Complete_ClaimLost(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, testQueueConfig(), zerolog.Nop())
	ctx := context.Background()
	item := claimedItem(0)
	token := uuid.New()

	// Swept while the worker was applying: the settle is rejected.
	repo.EXPECT().MarkCompleted(ctx, item.ID, token, gomock.Any()).Return(ports.ErrClaimLost)

	err := engine.Complete(ctx, item, token)
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "QUE_002", appErr.Code)
	assert.True(t, errors.Is(err, ports.ErrClaimLost), "callers still detect the lost claim through the sentinel")
}

func TestQueueEngine_Reschedule_ClaimLost(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, testQueueConfig(), zerolog.Nop())
	ctx := context.Background()
	item := claimedItem(0)
	token := uuid.New()

	repo.EXPECT().Reschedule(ctx, item.ID, token, 1, gomock.Any(), "timeout").Return(ports.ErrClaimLost)

	err := engine.Fail(ctx, item, token, errors.New("timeout"), false)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "QUE_002", appErr.Code)
}

func TestQueueEngine_Sweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockQueueRepository(ctrl)
	engine := NewQueueEngine(repo, testQueueConfig(), zerolog.Nop())
	ctx := context.Background()

	repo.EXPECT().ReleaseStale(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, cutoff time.Time) (int64, error) {
			assert.WithinDuration(t, time.Now().Add(-5*time.Minute), cutoff, time.Second)
			return 2, nil
		})

	released, err := engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), released)
}

func TestQueueEngine_Backoff_Capped(t *testing.T) {
	cfg := testQueueConfig()
	cfg.BackoffJitter = 0
	engine := NewQueueEngine(nil, cfg, zerolog.Nop())

	// 30s * 2^10 far exceeds the 1h cap.
	assert.Equal(t, time.Hour, engine.backoff(10))
}
