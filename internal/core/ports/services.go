package ports

import (
	"context"
	"net/http"
	"time"

	"webhook-sync-engine/internal/core/domain"

	"github.com/google/uuid"
)

// SignatureService handles HMAC-SHA256 signing and verification of raw
// webhook bodies.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// HashService handles operator password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations for the operator dashboard.
type TokenService interface {
	Generate(operatorID uuid.UUID, username string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	OperatorID uuid.UUID
	Username   string
}

// DedupStore is the Redis fast path for duplicate-delivery suppression.
// The postgres unique constraint remains the source of truth.
type DedupStore interface {
	// CheckAndSet atomically checks if the idempotency key was seen, marking
	// it if not. Returns true if the key is new.
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// VerifierService authenticates an inbound webhook delivery per source policy.
type VerifierService interface {
	// Verify returns the trust level of the delivery, or an AppError when
	// authentication fails.
	Verify(source domain.Source, header http.Header, body []byte) (domain.TrustLevel, error)
}

// IngestRequest carries one raw inbound webhook delivery.
type IngestRequest struct {
	Source   string
	Header   http.Header
	Body     []byte
	ClientIP string
}

// IngestResult reports the ingestion outcome returned to the sender.
type IngestResult struct {
	EventID   uuid.UUID
	Duplicate bool
	Enqueued  int    // queue items created
	Message   string // e.g. "acknowledged but not processed"
}

// IngestService runs the intake pipeline: verify, log, dedupe, route, enqueue.
type IngestService interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

// QueueEngine is the claim/release protocol workers use. It exclusively owns
// queue bookkeeping mutation.
type QueueEngine interface {
	// Claim takes ownership of the next eligible item. Returns a nil item
	// when the queue has nothing eligible.
	Claim(ctx context.Context) (*domain.SyncQueueItem, uuid.UUID, error)
	// Complete marks a claimed item terminally successful.
	Complete(ctx context.Context, item *domain.SyncQueueItem, claimToken uuid.UUID) error
	// Fail reports a processing failure. Retryable failures feed the backoff
	// cycle until the retry budget is exhausted; permanent failures
	// dead-letter immediately.
	Fail(ctx context.Context, item *domain.SyncQueueItem, claimToken uuid.UUID, cause error, permanent bool) error
}

// QueueAdminService is the operator-facing queue surface.
type QueueAdminService interface {
	Stats(ctx context.Context) ([]domain.QueueStat, error)
	DeadLetters(ctx context.Context, page, pageSize int) ([]domain.SyncQueueItem, int64, error)
	RequeueDeadLetter(ctx context.Context, id uuid.UUID) error
}

// AuthService handles operator authentication.
type AuthService interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	// EnsureAdmin seeds the configured operator account if absent.
	EnsureAdmin(ctx context.Context, username, password string) error
}

// LoginResult holds a freshly issued operator token.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
}

// SourceHealthSnapshot is the health reporter output: per-source success
// rates over a window plus current queue composition.
type SourceHealthSnapshot struct {
	Window      time.Duration
	Sources     []SourceHealthStat
	Queue       []domain.QueueStat
	GeneratedAt time.Time
}

// HealthService derives observability metrics from terminal states. Read-only.
type HealthService interface {
	Snapshot(ctx context.Context, window time.Duration) (*SourceHealthSnapshot, error)
}
