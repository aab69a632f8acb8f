package lane

import (
	"context"
	"sync"
	"time"

	"github.com/npcforge/npcforge/pkg/logger"
)

// localLane is a one-slot semaphore shared by everyone holding or waiting on
// the same key.
type localLane struct {
	slot chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. A key's entry lives only while
// some goroutine holds or waits on it.
type LocalLocker struct {
	mu    sync.Mutex
	lanes map[string]*localLane

	log     logger.Logger
	metrics MetricsRecorder
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker(opts ...Option) *LocalLocker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &LocalLocker{
		lanes:   make(map[string]*localLane),
		log:     o.log,
		metrics: o.metrics,
	}
}

// Lock acquires the lane for key.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	ln := l.acquireRef(key)

	select {
	case ln.slot <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key, ln)
		return nil, &AcquireError{Key: key, Cause: ctx.Err()}
	}

	wait := time.Since(start)
	l.metrics.RecordLockWait(wait)
	if wait > time.Second {
		l.log.DebugContext(ctx, "lane acquired after wait", "key", key, "wait", wait)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ln.slot
			l.releaseRef(key, ln)
		})
	}, nil
}

// Len returns the number of keys currently held or waited on.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

func (l *LocalLocker) acquireRef(key string) *localLane {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &localLane{slot: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}
	ln.refs++
	return ln
}

func (l *LocalLocker) releaseRef(key string, ln *localLane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
}
