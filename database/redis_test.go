package database

import (
	"context"
	"testing"
	"time"

	"registrar/models"
	"registrar/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func statusView(id string, pending int) *services.InvitationStatusView {
	return &services.InvitationStatusView{
		RegistrationID: id,
		Status:         models.StatusPending,
		Counts:         map[models.InvitationState]int{models.InvitationPending: pending},
	}
}

func TestStatusCacheRoundTrip(t *testing.T) {
	_, client := newRedis(t)
	logger, _ := logtest.NewNullLogger()
	cache := NewRedisStatusCache(client, time.Minute, logger)
	ctx := context.Background()

	_, generation, ok := cache.Get(ctx, "reg-1")
	require.False(t, ok)
	assert.Zero(t, generation)

	cache.Set(ctx, statusView("reg-1", 2), generation)

	view, _, ok := cache.Get(ctx, "reg-1")
	require.True(t, ok)
	assert.Equal(t, 2, view.Counts[models.InvitationPending])

	cache.Invalidate(ctx, "reg-1")
	_, generation, ok = cache.Get(ctx, "reg-1")
	assert.False(t, ok)
	assert.Equal(t, int64(1), generation)
}

func TestStatusCacheDropsViewReadBeforeInvalidate(t *testing.T) {
	_, client := newRedis(t)
	logger, _ := logtest.NewNullLogger()
	cache := NewRedisStatusCache(client, time.Minute, logger)
	ctx := context.Background()

	// A reader misses, a mutation commits and invalidates, then the reader stores what it loaded
	_, stale, ok := cache.Get(ctx, "reg-1")
	require.False(t, ok)
	cache.Invalidate(ctx, "reg-1")
	cache.Set(ctx, statusView("reg-1", 2), stale)

	_, fresh, ok := cache.Get(ctx, "reg-1")
	require.False(t, ok, "the outdated view must not be cached")

	cache.Set(ctx, statusView("reg-1", 1), fresh)
	view, _, ok := cache.Get(ctx, "reg-1")
	require.True(t, ok)
	assert.Equal(t, 1, view.Counts[models.InvitationPending])
}

func TestStatusCacheEntriesExpire(t *testing.T) {
	srv, client := newRedis(t)
	logger, _ := logtest.NewNullLogger()
	cache := NewRedisStatusCache(client, time.Minute, logger)
	ctx := context.Background()

	cache.Set(ctx, statusView("reg-1", 1), 0)
	srv.FastForward(2 * time.Minute)

	_, _, ok := cache.Get(ctx, "reg-1")
	assert.False(t, ok)
}

func TestStatusCacheUnavailableIsAMiss(t *testing.T) {
	srv, client := newRedis(t)
	logger, hook := logtest.NewNullLogger()
	cache := NewRedisStatusCache(client, time.Minute, logger)
	srv.Close()

	_, generation, ok := cache.Get(context.Background(), "reg-1")
	assert.False(t, ok)
	assert.Negative(t, generation, "a view built without a generation is never stored")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Status cache read failed", hook.LastEntry().Message)
}

func TestSweepLockIsExclusive(t *testing.T) {
	srv, client := newRedis(t)
	ctx := context.Background()
	first := NewRedisSweepLock(client)
	second := NewRedisSweepLock(client)

	ok, err := first.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	srv.FastForward(2 * time.Minute)
	ok, err = second.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
