package lane

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/npcforge/npcforge/pkg/logger"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired holder cannot release a lane someone else has since taken.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

const releaseTimeout = 2 * time.Second

// RedisConfig tunes a RedisLocker.
type RedisConfig struct {
	// KeyPrefix namespaces lock keys.
	KeyPrefix string

	// TTL bounds how long a lane survives a crashed holder. It must exceed
	// the longest turn.
	TTL time.Duration

	// RetryInterval is the polling interval while the lane is taken.
	RetryInterval time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix:     "npcforge:lock:",
		TTL:           3 * time.Minute,
		RetryInterval: 50 * time.Millisecond,
	}
}

// RedisLocker is a distributed Locker shared by every replica pointing at
// the same Redis.
type RedisLocker struct {
	client redis.Cmdable
	config RedisConfig

	log     logger.Logger
	metrics MetricsRecorder
}

// NewRedisLocker creates a RedisLocker. Zero config fields take defaults.
func NewRedisLocker(client redis.Cmdable, cfg RedisConfig, opts ...Option) *RedisLocker {
	def := DefaultRedisConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisLocker{
		client:  client,
		config:  cfg,
		log:     o.log,
		metrics: o.metrics,
	}
}

// Lock polls SET NX PX until the lane is free or ctx ends.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	redisKey := r.config.KeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.config.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.config.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, &AcquireError{Key: key, Cause: ctx.Err()}
			}
			return nil, &UnavailableError{Backend: BackendRedis, Cause: err}
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, &AcquireError{Key: key, Cause: ctx.Err()}
		case <-ticker.C:
		}
	}

	r.metrics.RecordLockWait(time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() { r.release(redisKey, token) })
	}, nil
}

func (r *RedisLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	n, err := r.client.Eval(ctx, releaseScript, []string{redisKey}, token).Int64()
	if err != nil {
		r.log.Warn("lane release failed, waiting for ttl", "key", redisKey, "error", err)
		return
	}
	if n == 0 {
		r.log.Warn("lane expired before release", "key", redisKey, "ttl", r.config.TTL)
	}
}

// NewRedisClient creates a Redis client from the given options.
func NewRedisClient(opts *redis.Options) *redis.Client {
	return redis.NewClient(opts)
}

// PingRedis checks if the Redis connection is healthy.
func PingRedis(ctx context.Context, client redis.Cmdable) error {
	return client.Ping(ctx).Err()
}
