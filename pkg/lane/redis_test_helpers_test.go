package lane

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

var errMockRedisUnavailable = errors.New("mock redis unavailable")

type mockValue struct {
	value    string
	expireAt time.Time
}

// mockRedisClient implements the subset of redis.Cmdable the locker uses.
type mockRedisClient struct {
	redis.Cmdable

	mu     sync.Mutex
	values map[string]mockValue
	evals  atomic.Int64
	down   atomic.Bool
}

func newMockRedisClient(t *testing.T) *mockRedisClient {
	t.Helper()

	return &mockRedisClient{values: make(map[string]mockValue)}
}

func (m *mockRedisClient) SetDown(down bool) {
	m.down.Store(down)
}

func (m *mockRedisClient) Ping(_ context.Context) *redis.StatusCmd {
	if m.down.Load() {
		return redis.NewStatusResult("", errMockRedisUnavailable)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockRedisClient) get(key string) (string, bool) {
	v, ok := m.values[key]
	if !ok {
		return "", false
	}
	if !v.expireAt.IsZero() && time.Now().After(v.expireAt) {
		delete(m.values, key)
		return "", false
	}
	return v.value, true
}

func (m *mockRedisClient) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if m.down.Load() {
		return redis.NewBoolResult(false, errMockRedisUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.get(key); ok {
		return redis.NewBoolResult(false, nil)
	}
	v := mockValue{value: normalizeRedisValue(value)}
	if expiration > 0 {
		v.expireAt = time.Now().Add(expiration)
	}
	m.values[key] = v
	return redis.NewBoolResult(true, nil)
}

func (m *mockRedisClient) Get(_ context.Context, key string) *redis.StringCmd {
	if m.down.Load() {
		return redis.NewStringResult("", errMockRedisUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.get(key)
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

// Eval only understands the compare-and-delete release script.
func (m *mockRedisClient) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.evals.Add(1)
	if m.down.Load() {
		return redis.NewCmdResult(nil, errMockRedisUnavailable)
	}
	if script != releaseScript || len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("mock redis: unsupported script"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.get(keys[0])
	if !ok || v != normalizeRedisValue(args[0]) {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(m.values, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

// Overwrite replaces a key as another holder would after expiry.
func (m *mockRedisClient) Overwrite(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = mockValue{value: value}
}

func (m *mockRedisClient) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

func normalizeRedisValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func requireRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("NPCFORGE_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis is not available at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func uniqueKeyPrefix(prefix string) string {
	return fmt.Sprintf("npcforge:test:%s:%d:", prefix, time.Now().UnixNano())
}
