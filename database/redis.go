package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"registrar/services"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	statusKeyPrefix     = "registrar:invitation_status:"
	generationKeyPrefix = "registrar:invitation_status_gen:"
	sweepLockKey        = "registrar:sweeper:lock"

	// generationTTL outlives any status computation so a generation never resets under a reader
	generationTTL = 24 * time.Hour
)

// setIfGeneration writes KEYS[1] only while KEYS[2] still holds the generation read on the miss
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// OpenRedis connects to the redis url and checks the connection
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStatusCache keeps invitation status views for a short TTL.
// Cache failures degrade to misses, the store stays the source of truth.
type RedisStatusCache struct {
	client redis.Cmdable
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewRedisStatusCache(client redis.Cmdable, ttl time.Duration, logger logrus.FieldLogger) *RedisStatusCache {
	return &RedisStatusCache{
		client: client,
		ttl:    ttl,
		log:    logger.WithField("component", "status_cache"),
	}
}

func (c *RedisStatusCache) Get(ctx context.Context, registrationID string) (*services.InvitationStatusView, int64, bool) {
	values, err := c.client.MGet(ctx, statusKeyPrefix+registrationID, generationKeyPrefix+registrationID).Result()
	if err != nil {
		c.log.WithError(err).Warn("Status cache read failed")
		return nil, -1, false
	}

	generation := int64(0)
	if raw, ok := values[1].(string); ok {
		if generation, err = strconv.ParseInt(raw, 10, 64); err != nil {
			c.log.WithError(err).WithField("registration_id", registrationID).Warn("Unreadable status cache generation")
			return nil, -1, false
		}
	}

	data, ok := values[0].(string)
	if !ok {
		return nil, generation, false
	}

	var view services.InvitationStatusView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		c.log.WithError(err).WithField("registration_id", registrationID).Warn("Dropping unreadable status cache entry")
		c.Invalidate(ctx, registrationID)
		return nil, -1, false
	}
	return &view, generation, true
}

func (c *RedisStatusCache) Set(ctx context.Context, view *services.InvitationStatusView, generation int64) {
	if generation < 0 {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		c.log.WithError(err).Warn("Status cache encode failed")
		return
	}

	keys := []string{statusKeyPrefix + view.RegistrationID, generationKeyPrefix + view.RegistrationID}
	stored, err := setIfGeneration.Run(ctx, c.client, keys, strconv.FormatInt(generation, 10), data, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.log.WithError(err).Warn("Status cache write failed")
		return
	}
	if stored == 0 {
		c.log.WithField("registration_id", view.RegistrationID).Debug("Status view outdated by a newer mutation, not cached")
	}
}

// Invalidate drops the view and bumps the generation so in-flight readers cannot store theirs
func (c *RedisStatusCache) Invalidate(ctx context.Context, registrationID string) {
	genKey := generationKeyPrefix + registrationID
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, statusKeyPrefix+registrationID)
		return nil
	})
	if err != nil {
		c.log.WithError(err).WithField("registration_id", registrationID).Warn("Status cache invalidation failed")
	}
}

// RedisSweepLock lets a single instance sweep per interval
type RedisSweepLock struct {
	client redis.Cmdable
	owner  string
}

func NewRedisSweepLock(client redis.Cmdable) *RedisSweepLock {
	owner, err := os.Hostname()
	if err != nil || owner == "" {
		owner = "registrar"
	}
	return &RedisSweepLock{client: client, owner: fmt.Sprintf("%s:%d", owner, os.Getpid())}
}

// Acquire sets the lock key only when absent, it expires by itself after ttl
func (l *RedisSweepLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, sweepLockKey, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	return ok, nil
}

var (
	_ services.StatusCache = (*RedisStatusCache)(nil)
	_ services.SweepLock   = (*RedisSweepLock)(nil)
)
