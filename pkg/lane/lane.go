// Package lane serializes work per key. The engine takes one lane per NPC so
// that at most one turn for a given NPC is in flight while turns for
// different NPCs run in parallel.
//
// Two backends are provided:
//   - Local: an in-process keyed mutex
//   - Redis: a distributed lock (SET NX PX + token-checked release)
//
// Basic usage:
//
//	locker := lane.NewLocalLocker()
//	unlock, err := locker.Lock(ctx, "npc_1a2b3c4d")
//	if err != nil {
//	    return err
//	}
//	defer unlock()
package lane

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/npcforge/npcforge/pkg/logger"
)

// Backend names.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// Locker grants exclusive lanes by key.
type Locker interface {
	// Lock blocks until the lane for key is free or ctx ends. The returned
	// function releases the lane and is safe to call more than once.
	Lock(ctx context.Context, key string) (func(), error)
}

// MetricsRecorder records lock wait times.
type MetricsRecorder interface {
	RecordLockWait(duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordLockWait(time.Duration) {}

// Option configures a locker.
type Option func(*options)

type options struct {
	log     logger.Logger
	metrics MetricsRecorder
}

func defaultOptions() options {
	return options{log: logger.Nop(), metrics: nopMetrics{}}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// Config selects and tunes a backend.
type Config struct {
	Backend       string
	TTL           time.Duration
	RetryInterval time.Duration
	KeyPrefix     string

	Address  string
	Password string
	DB       int
}

// New builds the locker named by cfg.Backend. For the redis backend it also
// returns the client so the caller can close it on shutdown.
func New(ctx context.Context, cfg Config, opts ...Option) (Locker, func() error, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalLocker(opts...), func() error { return nil }, nil
	case BackendRedis:
		client := NewRedisClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := PingRedis(ctx, client); err != nil {
			_ = client.Close()
			return nil, nil, &UnavailableError{Backend: BackendRedis, Cause: err}
		}
		locker := NewRedisLocker(client, RedisConfig{
			KeyPrefix:     cfg.KeyPrefix,
			TTL:           cfg.TTL,
			RetryInterval: cfg.RetryInterval,
		}, opts...)
		return locker, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("lane: unknown lock backend %q", cfg.Backend)
	}
}
