package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/internal/core/ports/mocks"
	"webhook-sync-engine/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

type ingestTestDeps struct {
	svc       *IngestServiceImpl
	verifier  *mocks.MockVerifierService
	eventRepo *mocks.MockEventRepository
	queueRepo *mocks.MockQueueRepository
	dedup     *mocks.MockDedupStore
	transator *mocks.MockDBTransactor
	ctrl      *gomock.Controller
}

func setupIngestService(t *testing.T) *ingestTestDeps {
	ctrl := gomock.NewController(t)
	d := &ingestTestDeps{
		verifier:  mocks.NewMockVerifierService(ctrl),
		eventRepo: mocks.NewMockEventRepository(ctrl),
		queueRepo: mocks.NewMockQueueRepository(ctrl),
		dedup:     mocks.NewMockDedupStore(ctrl),
		transator: mocks.NewMockDBTransactor(ctrl),
		ctrl:      ctrl,
	}
	d.svc = NewIngestService(
		d.verifier,
		NewDispatcherService(DefaultRouteTable(), nil, 3),
		d.eventRepo,
		d.queueRepo,
		d.dedup,
		d.transator,
		time.Hour,
		zerolog.Nop(),
	)
	return d
}

func shopifyRequest(topic, eventID string, body []byte) ports.IngestRequest {
	header := http.Header{}
	header.Set("X-Shopify-Topic", topic)
	if eventID != "" {
		header.Set("X-Shopify-Event-Id", eventID)
	}
	return ports.IngestRequest{
		Source:   "shopify",
		Header:   header,
		Body:     body,
		ClientIP: "1.2.3.4",
	}
}

func TestIngest_Success(t *testing.T) {
	d := setupIngestService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := shopifyRequest("customers/update", "evt_1", []byte(`{"id":123}`))
	tx := &mockTx{}

	d.verifier.EXPECT().Verify(domain.SourceShopify, req.Header, req.Body).Return(domain.TrustLevelHigh, nil)
	d.dedup.EXPECT().CheckAndSet(ctx, "shopify:evt_1", time.Hour).Return(true, nil)
	d.eventRepo.EXPECT().Insert(ctx, gomock.Any()).Return(true, nil)
	d.transator.EXPECT().Begin(ctx).Return(tx, nil)
	d.queueRepo.EXPECT().Enqueue(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, item *domain.SyncQueueItem) error {
			assert.Equal(t, domain.ActionUpsert, item.Action)
			assert.Equal(t, domain.EntityCustomer, item.EntityType)
			assert.Equal(t, "123", item.EntityID)
			return nil
		})
	d.eventRepo.EXPECT().SetStatusTx(ctx, tx, gomock.Any(), domain.EventStatusProcessing, nil).Return(nil)

	result, err := d.svc.Ingest(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 1, result.Enqueued)
}

func TestIngest_DuplicateSuppressedByRedis(t *testing.T) {
	d := setupIngestService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := shopifyRequest("customers/update", "evt_1", []byte(`{"id":123}`))

	d.verifier.EXPECT().Verify(domain.SourceShopify, req.Header, req.Body).Return(domain.TrustLevelHigh, nil)
	d.dedup.EXPECT().CheckAndSet(ctx, "shopify:evt_1", time.Hour).Return(false, nil)
	// No Insert, no Enqueue: the delivery is short-circuited.

	result, err := d.svc.Ingest(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Zero(t, result.Enqueued)
}

func TestIngest_DuplicateSuppressedByConstraint(t *testing.T) {
	d := setupIngestService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := shopifyRequest("customers/update", "evt_1", []byte(`{"id":123}`))

	d.verifier.EXPECT().Verify(domain.SourceShopify, req.Header, req.Body).Return(domain.TrustLevelHigh, nil)
	// Redis forgot (restart, TTL) but the unique constraint still catches it.
	d.dedup.EXPECT().CheckAndSet(ctx, "shopify:evt_1", time.Hour).Return(true, nil)
	d.eventRepo.EXPECT().Insert(ctx, gomock.Any()).Return(false, nil)

	result, err := d.svc.Ingest(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
}

func TestIngest_RedisDownFallsThroughToDB(t *testing.T) {
	d := setupIngestService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := shopifyRequest("customers/update", "evt_1", []byte(`{"id":123}`))
	tx := &mockTx{}

	d.verifier.EXPECT().Verify(domain.SourceShopify, req.Header, req.Body).Return(domain.TrustLevelHigh, nil)
	d.dedup.EXPECT().CheckAndSet(ctx, "shopify:evt_1", time.Hour).Return(false, assert.AnError)
	d.eventRepo.EXPECT().Insert(ctx, gomock.Any()).Return(true, nil)
	d.transator.EXPECT().Begin(ctx).Return(tx, nil)
	d.queueRepo.EXPECT().Enqueue(ctx, tx, gomock.Any()).Return(nil)
	d.eventRepo.EXPECT().SetStatusTx(ctx, tx, gomock.Any(), domain.EventStatusProcessing, nil).Return(nil)

	result, err := d.svc.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Enqueued)
}

func TestIngest_AuthFailureStillLogged(t *testing.T) {
	d := setupIngestService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := shopifyRequest("customers/update", "evt_1", []byte(`{"id":123}`))

	d.verifier.EXPECT().Verify(domain.SourceShopify, req.Header, req.Body).
		Return(domain.TrustLevel(""), apperror.ErrInvalidSignature())
	// The audit row is appended even though the delivery is rejected.
	d.eventRepo.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, e *domain.WebhookEvent) (bool, error) {
			assert.Equal(t, domain.EventStatusFailed, e.Status)
			require.NotNil(t, e.ErrorMessage)
			return true, nil
		})

	_, err := d.svc.Ingest(ctx, req)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SEC_001", appErr.Code)
}

func TestIngest_UnknownSource_NotLogged(t *testing.T) {
	d := setupIngestService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := ports.IngestRequest{Source: "stripe", Header: http.Header{}, Body: []byte(`{}`)}

	d.verifier.EXPECT().Verify(domain.Source("stripe"), req.Header, req.Body).
		Return(domain.TrustLevel(""), apperror.ErrUnsupportedSource("stripe"))
	// No Insert: there is no valid source enum to log against.

	_, err := d.svc.Ingest(ctx, req)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SRC_001", appErr.Code)
}

func TestIngest_UnknownEventType_AckWithoutItems(t *testing.T) {
	d := setupIngestService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := shopifyRequest("checkouts/create", "evt_2", []byte(`{"id":9}`))

	d.verifier.EXPECT().Verify(domain.SourceShopify, req.Header, req.Body).Return(domain.TrustLevelHigh, nil)
	d.dedup.EXPECT().CheckAndSet(ctx, "shopify:evt_2", time.Hour).Return(true, nil)
	d.eventRepo.EXPECT().Insert(ctx, gomock.Any()).Return(true, nil)
	d.eventRepo.EXPECT().SetStatus(ctx, gomock.Any(), domain.EventStatusCompleted, gomock.Any()).Return(nil)

	result, err := d.svc.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, result.Enqueued)
	assert.Equal(t, "acknowledged but not processed", result.Message)
}
