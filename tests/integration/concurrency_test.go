package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/internal/service"
	"webhook-sync-engine/pkg/apperror"
	"webhook-sync-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueItems(t *testing.T, repo *inMemoryQueueRepo, n int, entityID func(i int) string) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		item := &domain.SyncQueueItem{
			ID:           uuid.New(),
			EventID:      uuid.New(),
			Source:       domain.SourceShopify,
			Action:       domain.ActionUpsert,
			EntityType:   domain.EntityCustomer,
			EntityID:     entityID(i),
			Payload:      json.RawMessage(fmt.Sprintf(`{"id":%d}`, i)),
			Priority:     domain.PriorityHigh,
			Status:       domain.QueueStatusPending,
			MaxRetries:   3,
			ScheduledFor: now,
			CreatedAt:    now.Add(time.Duration(i) * time.Microsecond),
		}
		require.NoError(t, repo.Enqueue(context.Background(), nil, item))
		ids = append(ids, item.ID)
	}
	return ids
}

// TestConcurrentClaims verifies that concurrent workers never claim the same
// queue item twice: every item is handed to exactly one worker.
func TestConcurrentClaims(t *testing.T) {
	queueRepo := newInMemoryQueueRepo()
	engine := service.NewQueueEngine(queueRepo, testQueueConfig(), logger.New("error", false))

	const items = 200
	const workers = 10
	enqueueItems(t, queueRepo, items, func(i int) string { return fmt.Sprintf("cust-%d", i) })

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	var claimed atomic.Int64

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, token, err := engine.Claim(context.Background())
				if err != nil {
					t.Error(err)
					return
				}
				if item == nil {
					return
				}
				mu.Lock()
				seen[item.ID]++
				mu.Unlock()
				claimed.Add(1)
				_ = engine.Complete(context.Background(), item, token)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(items), claimed.Load())
	assert.Len(t, seen, items)
	for id, count := range seen {
		assert.Equal(t, 1, count, "item %s claimed %d times", id, count)
	}
}

// TestConcurrentDuplicateDeliveries fires the same delivery many times in
// parallel; exactly one event row and one queue item must survive.
func TestConcurrentDuplicateDeliveries(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	payload := []byte(`{"id":5555,"email":"dup@example.com"}`)

	const concurrency = 20
	var wg sync.WaitGroup
	var accepted atomic.Int64

	signature := app.sigSvc.Sign(shopifySecret, payload)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/api/webhooks/shopify", bytes.NewReader(payload))
			req.Header.Set("X-Shopify-Topic", "customers/create")
			req.Header.Set("X-Shopify-Event-Id", "evt-race")
			req.Header.Set("X-Shopify-Hmac-Sha256", signature)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == 202 {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	// Every delivery is acknowledged; only the first produces work.
	assert.Equal(t, int64(concurrency), accepted.Load())

	_, total, err := app.eventRepo.List(context.Background(), ports.EventListParams{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	stats, err := app.queueRepo.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Count)
}

// TestRetryBudgetExhaustion drives an item through the full retry cycle until
// it dead-letters, verifying the backoff schedule never shrinks.
func TestRetryBudgetExhaustion(t *testing.T) {
	queueRepo := newInMemoryQueueRepo()
	cfg := testQueueConfig()
	engine := service.NewQueueEngine(queueRepo, cfg, logger.New("error", false))

	ids := enqueueItems(t, queueRepo, 1, func(int) string { return "cust-fail" })
	id := ids[0]

	cause := fmt.Errorf("downstream timeout")
	var lastDelay time.Duration

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		var item *domain.SyncQueueItem
		var token uuid.UUID
		require.Eventually(t, func() bool {
			i, tok, err := engine.Claim(context.Background())
			if err != nil || i == nil {
				return false
			}
			item, token = i, tok
			return true
		}, 2*time.Second, time.Millisecond, "attempt %d never became eligible", attempt)

		assert.Equal(t, attempt, item.RetryCount)
		before := time.Now()
		require.NoError(t, engine.Fail(context.Background(), item, token, cause, false))

		after, err := queueRepo.GetByID(context.Background(), id)
		require.NoError(t, err)
		if attempt < cfg.MaxRetries-1 {
			require.Equal(t, domain.QueueStatusPending, after.Status)
			assert.Equal(t, attempt+1, after.RetryCount)
			delay := after.ScheduledFor.Sub(before)
			assert.GreaterOrEqual(t, delay, lastDelay, "backoff must not shrink")
			lastDelay = delay
		} else {
			// Budget spent: dead-lettered.
			assert.Equal(t, domain.QueueStatusFailed, after.Status)
		}
	}

	// Dead letters stay put until an operator requeues them.
	letters, total, err := queueRepo.ListDeadLetters(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, letters, 1)
	assert.Equal(t, id, letters[0].ID)
}

// TestSweepReleasesStaleClaims verifies a crashed worker's claim is returned
// to the queue without consuming retry budget, and the dead token loses.
func TestSweepReleasesStaleClaims(t *testing.T) {
	queueRepo := newInMemoryQueueRepo()
	cfg := testQueueConfig()
	engine := service.NewQueueEngine(queueRepo, cfg, logger.New("error", false))

	enqueueItems(t, queueRepo, 1, func(int) string { return "cust-stale" })

	item, staleToken, err := engine.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, item)

	// Simulate the claim aging past the timeout.
	released, err := queueRepo.ReleaseStale(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	after, err := queueRepo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusPending, after.Status)
	assert.Equal(t, item.RetryCount, after.RetryCount, "sweep must not consume retry budget")

	// The original worker coming back late must not complete the item.
	err = engine.Complete(context.Background(), item, staleToken)
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "QUE_002", appErr.Code)
}

// TestConcurrentApplySameEntity runs many upserts against one entity through
// the full processor path; optimistic concurrency must serialize them so the
// version increments once per apply.
func TestConcurrentApplySameEntity(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	const items = 30
	enqueueItems(t, app.queueRepo, items, func(int) string { return "cust-contended" })

	// Workers keep polling until every item reaches a terminal state;
	// conflict losers reschedule themselves with a short backoff.
	terminal := func() (completed, failed int64) {
		stats, _ := app.queueRepo.Stats(context.Background())
		for _, s := range stats {
			switch s.Status {
			case domain.QueueStatusCompleted:
				completed += s.Count
			case domain.QueueStatusFailed:
				failed += s.Count
			}
		}
		return completed, failed
	}

	var wg sync.WaitGroup
	deadline := time.Now().Add(5 * time.Second)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				item, token, err := app.engine.Claim(context.Background())
				if err != nil {
					return
				}
				if item == nil {
					if c, f := terminal(); c+f == items {
						return
					}
					time.Sleep(2 * time.Millisecond)
					continue
				}
				app.processor.ProcessOne(context.Background(), item, token)
			}
		}()
	}
	wg.Wait()

	completed, failed := terminal()
	assert.Equal(t, int64(items), completed+failed, "every item must settle")

	// Each successful apply bumps the version exactly once.
	status, err := app.syncRepo.Get(context.Background(), domain.EntityCustomer, "cust-contended", domain.SourceShopify)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, completed, status.SyncVersion)
}
