package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- In-Memory Event Repo ---

type inMemoryEventRepo struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*domain.WebhookEvent
}

func newInMemoryEventRepo() *inMemoryEventRepo {
	return &inMemoryEventRepo{events: make(map[uuid.UUID]*domain.WebhookEvent)}
}

func (r *inMemoryEventRepo) Insert(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ExternalEventID != nil && *event.ExternalEventID != "" {
		for _, e := range r.events {
			if e.Source == event.Source && e.ExternalEventID != nil && *e.ExternalEventID == *event.ExternalEventID {
				return false, nil
			}
		}
	}
	cp := *event
	r.events[event.ID] = &cp
	return true, nil
}

func (r *inMemoryEventRepo) SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.EventStatus, errMsg *string) error {
	return r.SetStatus(ctx, id, status, errMsg)
}

func (r *inMemoryEventRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("event not found")
	}
	e.Status = status
	e.ErrorMessage = errMsg
	e.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryEventRepo) List(ctx context.Context, params ports.EventListParams) ([]domain.WebhookEvent, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.WebhookEvent
	for _, e := range r.events {
		if params.Source != nil && e.Source != *params.Source {
			continue
		}
		if params.Status != nil && e.Status != *params.Status {
			continue
		}
		if params.From != nil && e.ReceivedAt.Unix() < *params.From {
			continue
		}
		if params.To != nil && e.ReceivedAt.Unix() > *params.To {
			continue
		}
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.After(result[j].ReceivedAt)
	})
	total := int64(len(result))

	start := (params.Page - 1) * params.PageSize
	if start >= len(result) {
		return []domain.WebhookEvent{}, total, nil
	}
	end := start + params.PageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryEventRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pruned int64
	for id, e := range r.events {
		if e.ReceivedAt.Before(cutoff) {
			delete(r.events, id)
			pruned++
		}
	}
	return pruned, nil
}

func (r *inMemoryEventRepo) SourceHealth(ctx context.Context, window time.Duration) ([]ports.SourceHealthStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	since := time.Now().Add(-window)
	bySource := make(map[domain.Source]*ports.SourceHealthStat)
	for _, e := range r.events {
		if e.ReceivedAt.Before(since) {
			continue
		}
		stat, ok := bySource[e.Source]
		if !ok {
			stat = &ports.SourceHealthStat{Source: e.Source}
			bySource[e.Source] = stat
		}
		stat.Total++
		switch e.Status {
		case domain.EventStatusCompleted:
			stat.Completed++
		case domain.EventStatusFailed:
			stat.Failed++
		}
		t := e.ReceivedAt
		if stat.LastEventAt == nil || t.After(*stat.LastEventAt) {
			stat.LastEventAt = &t
		}
	}
	var result []ports.SourceHealthStat
	for _, stat := range bySource {
		if stat.Total > 0 {
			stat.SuccessRate = float64(stat.Completed) / float64(stat.Total)
		}
		result = append(result, *stat)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Source < result[j].Source })
	return result, nil
}

// --- In-Memory Queue Repo ---

type inMemoryQueueRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.SyncQueueItem
}

func newInMemoryQueueRepo() *inMemoryQueueRepo {
	return &inMemoryQueueRepo{items: make(map[uuid.UUID]*domain.SyncQueueItem)}
}

func (r *inMemoryQueueRepo) Enqueue(ctx context.Context, tx pgx.Tx, item *domain.SyncQueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *inMemoryQueueRepo) Claim(ctx context.Context, claimToken uuid.UUID, now time.Time) (*domain.SyncQueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var eligible []*domain.SyncQueueItem
	for _, item := range r.items {
		if item.Status == domain.QueueStatusPending && !item.ScheduledFor.After(now) {
			eligible = append(eligible, item)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	item := eligible[0]
	item.Status = domain.QueueStatusProcessing
	token := claimToken
	item.ClaimToken = &token
	claimedAt := now
	item.ClaimedAt = &claimedAt
	item.UpdatedAt = now

	cp := *item
	return &cp, nil
}

func (r *inMemoryQueueRepo) held(id, claimToken uuid.UUID) (*domain.SyncQueueItem, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, ports.ErrClaimLost
	}
	if item.Status != domain.QueueStatusProcessing || item.ClaimToken == nil || *item.ClaimToken != claimToken {
		return nil, ports.ErrClaimLost
	}
	return item, nil
}

func (r *inMemoryQueueRepo) MarkCompleted(ctx context.Context, id uuid.UUID, claimToken uuid.UUID, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, err := r.held(id, claimToken)
	if err != nil {
		return err
	}
	item.Status = domain.QueueStatusCompleted
	item.ClaimToken = nil
	item.ClaimedAt = nil
	item.ProcessedAt = &processedAt
	item.UpdatedAt = processedAt
	return nil
}

func (r *inMemoryQueueRepo) Reschedule(ctx context.Context, id uuid.UUID, claimToken uuid.UUID, retryCount int, scheduledFor time.Time, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, err := r.held(id, claimToken)
	if err != nil {
		return err
	}
	item.Status = domain.QueueStatusPending
	item.RetryCount = retryCount
	item.ScheduledFor = scheduledFor
	item.ErrorMessage = &errMsg
	item.ClaimToken = nil
	item.ClaimedAt = nil
	item.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryQueueRepo) MarkFailed(ctx context.Context, id uuid.UUID, claimToken uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, err := r.held(id, claimToken)
	if err != nil {
		return err
	}
	item.Status = domain.QueueStatusFailed
	item.ErrorMessage = &errMsg
	item.ClaimToken = nil
	item.ClaimedAt = nil
	item.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryQueueRepo) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released int64
	for _, item := range r.items {
		if item.Status == domain.QueueStatusProcessing && item.ClaimedAt != nil && item.ClaimedAt.Before(cutoff) {
			item.Status = domain.QueueStatusPending
			item.ClaimToken = nil
			item.ClaimedAt = nil
			item.UpdatedAt = time.Now()
			released++
		}
	}
	return released, nil
}

func (r *inMemoryQueueRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncQueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *inMemoryQueueRepo) ListDeadLetters(ctx context.Context, page, pageSize int) ([]domain.SyncQueueItem, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.SyncQueueItem
	for _, item := range r.items {
		if item.Status == domain.QueueStatusFailed {
			result = append(result, *item)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	total := int64(len(result))

	start := (page - 1) * pageSize
	if start >= len(result) {
		return []domain.SyncQueueItem{}, total, nil
	}
	end := start + pageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryQueueRepo) Requeue(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.Status != domain.QueueStatusFailed {
		return ports.ErrNotRequeueable
	}
	item.Status = domain.QueueStatusPending
	item.RetryCount = 0
	item.ScheduledFor = scheduledFor
	item.ErrorMessage = nil
	item.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryQueueRepo) Stats(ctx context.Context) ([]domain.QueueStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type key struct {
		source domain.Source
		status domain.QueueStatus
	}
	counts := make(map[key]*domain.QueueStat)
	for _, item := range r.items {
		k := key{item.Source, item.Status}
		stat, ok := counts[k]
		if !ok {
			stat = &domain.QueueStat{Source: item.Source, Status: item.Status}
			counts[k] = stat
		}
		stat.AvgRetryCount = (stat.AvgRetryCount*float64(stat.Count) + float64(item.RetryCount)) / float64(stat.Count+1)
		stat.Count++
	}
	var result []domain.QueueStat
	for _, stat := range counts {
		result = append(result, *stat)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Source != result[j].Source {
			return result[i].Source < result[j].Source
		}
		return result[i].Status < result[j].Status
	})
	return result, nil
}

// --- In-Memory Sync Status Repo ---

type inMemorySyncStatusRepo struct {
	mu       sync.Mutex
	statuses map[string]*domain.EntitySyncStatus
}

func newInMemorySyncStatusRepo() *inMemorySyncStatusRepo {
	return &inMemorySyncStatusRepo{statuses: make(map[string]*domain.EntitySyncStatus)}
}

func syncKey(entityType domain.EntityType, entityID string, source domain.Source) string {
	return fmt.Sprintf("%s|%s|%s", entityType, entityID, source)
}

func (r *inMemorySyncStatusRepo) Get(ctx context.Context, entityType domain.EntityType, entityID string, source domain.Source) (*domain.EntitySyncStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[syncKey(entityType, entityID, source)]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySyncStatusRepo) Upsert(ctx context.Context, status *domain.EntitySyncStatus, expectedVersion int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := syncKey(status.EntityType, status.EntityID, status.Source)
	existing, ok := r.statuses[k]
	if !ok {
		if expectedVersion != 0 {
			return false, nil
		}
		cp := *status
		cp.SyncVersion = 1
		cp.LastSyncedAt = time.Now()
		r.statuses[k] = &cp
		status.SyncVersion = 1
		return true, nil
	}
	if existing.SyncVersion != expectedVersion {
		return false, nil
	}
	existing.ExternalID = status.ExternalID
	existing.Data = status.Data
	existing.SyncEnabled = status.SyncEnabled
	existing.SyncVersion = expectedVersion + 1
	existing.LastSyncedAt = time.Now()
	existing.UpdatedAt = time.Now()
	status.SyncVersion = existing.SyncVersion
	return true, nil
}

func (r *inMemorySyncStatusRepo) Delete(ctx context.Context, entityType domain.EntityType, entityID string, source domain.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, syncKey(entityType, entityID, source))
	return nil
}

func (r *inMemorySyncStatusRepo) RecordConflict(ctx context.Context, entityType domain.EntityType, entityID string, source domain.Source, conflict domain.SyncConflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[syncKey(entityType, entityID, source)]
	if !ok {
		return nil
	}
	s.SyncConflicts = append(s.SyncConflicts, conflict)
	return nil
}

// --- In-Memory Operator Repo ---

type inMemoryOperatorRepo struct {
	mu        sync.RWMutex
	operators map[uuid.UUID]*domain.Operator
}

func newInMemoryOperatorRepo() *inMemoryOperatorRepo {
	return &inMemoryOperatorRepo{operators: make(map[uuid.UUID]*domain.Operator)}
}

func (r *inMemoryOperatorRepo) Create(ctx context.Context, op *domain.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.operators {
		if existing.Username == op.Username {
			return fmt.Errorf("username already exists")
		}
	}
	cp := *op
	r.operators[op.ID] = &cp
	return nil
}

func (r *inMemoryOperatorRepo) GetByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, op := range r.operators {
		if op.Username == username {
			cp := *op
			return &cp, nil
		}
	}
	return nil, nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
