package service

import (
	"context"
	"encoding/json"
	"testing"

	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports/mocks"
	"webhook-sync-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type processorTestDeps struct {
	proc      *ProcessorService
	queueRepo *mocks.MockQueueRepository
	syncRepo  *mocks.MockSyncStatusRepository
	eventRepo *mocks.MockEventRepository
	ctrl      *gomock.Controller
}

func setupProcessor(t *testing.T) *processorTestDeps {
	ctrl := gomock.NewController(t)
	d := &processorTestDeps{
		queueRepo: mocks.NewMockQueueRepository(ctrl),
		syncRepo:  mocks.NewMockSyncStatusRepository(ctrl),
		eventRepo: mocks.NewMockEventRepository(ctrl),
		ctrl:      ctrl,
	}
	engine := NewQueueEngine(d.queueRepo, testQueueConfig(), zerolog.Nop())
	d.proc = NewProcessorService(engine, d.syncRepo, d.eventRepo, testQueueConfig(), zerolog.Nop())
	return d
}

func upsertItem() *domain.SyncQueueItem {
	return &domain.SyncQueueItem{
		ID:         uuid.New(),
		EventID:    uuid.New(),
		Source:     domain.SourceShopify,
		Action:     domain.ActionUpsert,
		EntityType: domain.EntityCustomer,
		EntityID:   "123",
		Payload:    json.RawMessage(`{"id":123,"email":"a@b.c"}`),
		Status:     domain.QueueStatusProcessing,
		MaxRetries: 3,
	}
}

func TestProcessor_Apply_Upsert_NewEntity(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()

	d.syncRepo.EXPECT().Get(ctx, domain.EntityCustomer, "123", domain.SourceShopify).Return(nil, nil)
	d.syncRepo.EXPECT().Upsert(ctx, gomock.Any(), int64(0)).DoAndReturn(
		func(_ context.Context, status *domain.EntitySyncStatus, _ int64) (bool, error) {
			assert.Equal(t, item.Payload, status.Data)
			assert.True(t, status.SyncEnabled)
			return true, nil
		})

	assert.NoError(t, d.proc.apply(ctx, item))
}

func TestProcessor_Apply_Upsert_ExistingEntity(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()

	d.syncRepo.EXPECT().Get(ctx, domain.EntityCustomer, "123", domain.SourceShopify).
		Return(&domain.EntitySyncStatus{SyncVersion: 3, SyncEnabled: true}, nil)
	d.syncRepo.EXPECT().Upsert(ctx, gomock.Any(), int64(3)).Return(true, nil)

	assert.NoError(t, d.proc.apply(ctx, item))
}

func TestProcessor_Apply_Upsert_ConflictResolvedLastWriteWins(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()

	d.syncRepo.EXPECT().Get(ctx, domain.EntityCustomer, "123", domain.SourceShopify).
		Return(&domain.EntitySyncStatus{SyncVersion: 3, SyncEnabled: true}, nil)
	// Concurrent writer bumped the version under us.
	d.syncRepo.EXPECT().Upsert(ctx, gomock.Any(), int64(3)).Return(false, nil)
	d.syncRepo.EXPECT().Get(ctx, domain.EntityCustomer, "123", domain.SourceShopify).
		Return(&domain.EntitySyncStatus{SyncVersion: 4, SyncEnabled: true}, nil)
	d.syncRepo.EXPECT().RecordConflict(ctx, domain.EntityCustomer, "123", domain.SourceShopify, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.EntityType, _ string, _ domain.Source, c domain.SyncConflict) error {
			assert.Equal(t, int64(3), c.ExpectedVersion)
			assert.Equal(t, int64(4), c.ActualVersion)
			assert.Equal(t, "last_write_wins", c.Resolution)
			return nil
		})
	d.syncRepo.EXPECT().Upsert(ctx, gomock.Any(), int64(4)).Return(true, nil)

	assert.NoError(t, d.proc.apply(ctx, item))
}

func TestProcessor_Apply_Upsert_LostTwice_Retryable(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()

	d.syncRepo.EXPECT().Get(ctx, domain.EntityCustomer, "123", domain.SourceShopify).
		Return(&domain.EntitySyncStatus{SyncVersion: 3, SyncEnabled: true}, nil)
	d.syncRepo.EXPECT().Upsert(ctx, gomock.Any(), int64(3)).Return(false, nil)
	d.syncRepo.EXPECT().Get(ctx, domain.EntityCustomer, "123", domain.SourceShopify).
		Return(&domain.EntitySyncStatus{SyncVersion: 5, SyncEnabled: true}, nil)
	d.syncRepo.EXPECT().RecordConflict(ctx, domain.EntityCustomer, "123", domain.SourceShopify, gomock.Any()).Return(nil)
	d.syncRepo.EXPECT().Upsert(ctx, gomock.Any(), int64(5)).Return(false, nil)

	err := d.proc.apply(ctx, item)
	require.Error(t, err)
	assert.False(t, isPermanent(err), "a lost race feeds the backoff cycle, not the dead letter queue")
}

func TestProcessor_Apply_SyncDisabled_Permanent(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()

	d.syncRepo.EXPECT().Get(ctx, domain.EntityCustomer, "123", domain.SourceShopify).
		Return(&domain.EntitySyncStatus{SyncVersion: 1, SyncEnabled: false}, nil)

	err := d.proc.apply(ctx, item)
	require.Error(t, err)
	assert.True(t, isPermanent(err))
}

func TestProcessor_Apply_Delete(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()
	item.Action = domain.ActionDelete

	d.syncRepo.EXPECT().Delete(ctx, domain.EntityCustomer, "123", domain.SourceShopify).Return(nil)

	assert.NoError(t, d.proc.apply(ctx, item))
}

func TestProcessor_Apply_UnknownAction_Permanent(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	item := upsertItem()
	item.Action = domain.SyncAction("replicate")

	err := d.proc.apply(context.Background(), item)
	require.Error(t, err)
	assert.True(t, isPermanent(err))
}

func TestProcessor_ProcessOne_Success_FinalizesEvent(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()
	token := uuid.New()

	d.syncRepo.EXPECT().Get(gomock.Any(), domain.EntityCustomer, "123", domain.SourceShopify).Return(nil, nil)
	d.syncRepo.EXPECT().Upsert(gomock.Any(), gomock.Any(), int64(0)).Return(true, nil)
	d.queueRepo.EXPECT().MarkCompleted(ctx, item.ID, token, gomock.Any()).Return(nil)
	d.eventRepo.EXPECT().SetStatus(ctx, item.EventID, domain.EventStatusCompleted, nil).Return(nil)

	d.proc.processOne(ctx, zerolog.Nop(), item, token)
}

func TestProcessor_ProcessOne_RetryableFailure_MarksEventRetried(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()
	token := uuid.New()

	d.syncRepo.EXPECT().Get(gomock.Any(), domain.EntityCustomer, "123", domain.SourceShopify).
		Return(nil, assert.AnError)
	d.queueRepo.EXPECT().Reschedule(ctx, item.ID, token, 1, gomock.Any(), gomock.Any()).Return(nil)
	d.eventRepo.EXPECT().SetStatus(ctx, item.EventID, domain.EventStatusRetried, nil).Return(nil)

	d.proc.processOne(ctx, zerolog.Nop(), item, token)
}

func TestProcessor_ProcessOne_PermanentFailure_MarksEventFailed(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()
	item.Action = domain.SyncAction("replicate")
	token := uuid.New()

	d.queueRepo.EXPECT().MarkFailed(ctx, item.ID, token, gomock.Any()).Return(nil)
	d.eventRepo.EXPECT().SetStatus(ctx, item.EventID, domain.EventStatusFailed, gomock.Any()).Return(nil)

	d.proc.processOne(ctx, zerolog.Nop(), item, token)
}

func TestProcessor_ProcessOne_ShutdownAbandonsClaim(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	item := upsertItem()

	d.syncRepo.EXPECT().Get(gomock.Any(), domain.EntityCustomer, "123", domain.SourceShopify).
		Return(nil, context.Canceled)

	// No settle and no event finalization: the sweeper returns the claim
	// to pending with its retry budget intact.
	d.proc.processOne(ctx, zerolog.Nop(), item, uuid.New())
}

func TestProcessor_Apply_Replay_Converges(t *testing.T) {
	d := setupProcessor(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	item := upsertItem()

	var stored *domain.EntitySyncStatus
	d.syncRepo.EXPECT().Get(ctx, domain.EntityCustomer, "123", domain.SourceShopify).
		DoAndReturn(func(context.Context, domain.EntityType, string, domain.Source) (*domain.EntitySyncStatus, error) {
			return stored, nil
		}).Times(2)
	d.syncRepo.EXPECT().Upsert(ctx, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, status *domain.EntitySyncStatus, expected int64) (bool, error) {
			if stored == nil {
				require.Equal(t, int64(0), expected)
			} else {
				require.Equal(t, stored.SyncVersion, expected)
			}
			next := *status
			next.SyncVersion = expected + 1
			stored = &next
			return true, nil
		}).Times(2)

	// A redelivered item applied twice settles on the same entity state.
	require.NoError(t, d.proc.apply(ctx, item))
	firstData := stored.Data
	require.NoError(t, d.proc.apply(ctx, item))
	assert.Equal(t, firstData, stored.Data)
	assert.Equal(t, item.Payload, stored.Data)
	assert.Equal(t, int64(2), stored.SyncVersion)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(apperror.ErrPermanentSync(assert.AnError)))
	assert.True(t, isPermanent(apperror.Validation("bad payload")))
	assert.False(t, isPermanent(apperror.ErrRetryableSync(assert.AnError)))
	assert.False(t, isPermanent(assert.AnError))
}
