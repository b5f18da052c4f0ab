package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupStore_FirstDeliveryIsNew(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewDedupStore(client)
	ctx := context.Background()

	isNew, err := store.CheckAndSet(ctx, "shopify:evt_abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestDedupStore_RedeliverySuppressed(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewDedupStore(client)
	ctx := context.Background()

	isNew, err := store.CheckAndSet(ctx, "shopify:evt_abc", time.Hour)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = store.CheckAndSet(ctx, "shopify:evt_abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, isNew, "second delivery of the same key must be rejected")
}

func TestDedupStore_KeysAreSourceScoped(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewDedupStore(client)
	ctx := context.Background()

	isNew, err := store.CheckAndSet(ctx, "shopify:evt_abc", time.Hour)
	require.NoError(t, err)
	require.True(t, isNew)

	// Same external ID from another source is a distinct event.
	isNew, err = store.CheckAndSet(ctx, "kajabi:evt_abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestDedupStore_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewDedupStore(client)
	ctx := context.Background()

	isNew, err := store.CheckAndSet(ctx, "clickup:evt_1", time.Second)
	require.NoError(t, err)
	require.True(t, isNew)

	// Fast-forward time in miniredis
	s.FastForward(2 * time.Second)

	// After the window the fast path forgets; the database constraint
	// still guards correctness.
	isNew, err = store.CheckAndSet(ctx, "clickup:evt_1", time.Second)
	require.NoError(t, err)
	assert.True(t, isNew)
}
