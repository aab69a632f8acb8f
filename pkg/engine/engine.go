// Package engine runs NPC turns: it assembles context, retrieves memories,
// reflects, decides through the reasoning client, executes the chosen tool
// and commits the result atomically.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/npcforge/npcforge/pkg/lane"
	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/memory"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
	"github.com/npcforge/npcforge/pkg/tools"
	"github.com/npcforge/npcforge/pkg/trace"
	"github.com/npcforge/npcforge/pkg/vector"
)

// Config holds the turn engine settings.
type Config struct {
	// TurnTimeout bounds one turn including the lock wait. Zero disables it.
	TurnTimeout time.Duration

	// ConversationWindow is how many recent short-term memories are read to
	// build the conversation context.
	ConversationWindow int
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:        120 * time.Second,
		ConversationWindow: 10,
	}
}

// Index is the part of the vector index a turn reads and writes.
type Index interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	SearchVector(ctx context.Context, kind vector.Kind, vec []float32, topK int, where map[string]string) ([]vector.Hit, error)
	Upsert(ctx context.Context, kind vector.Kind, docs ...vector.Document) error
}

// Toolbox resolves and runs the actions an NPC may take.
type Toolbox interface {
	Definitions() []*model.ToolDefinition
	Names() []string
	Has(name string) bool
	Execute(ctx context.Context, name string, args map[string]interface{}, call tools.CallContext) (*model.ActionResult, error)
}

// Engine is the NPC turn engine.
type Engine struct {
	config   Config
	store    storage.Storage
	index    Index
	tools    Toolbox
	reasoner llm.Client
	locker   lane.Locker
	memories *memory.Store
	traces   *trace.Recorder

	log     logger.Logger
	metrics MetricsRecorder
	events  EventBroadcaster
	tracer  oteltrace.Tracer
	now     func() time.Time

	mu          sync.RWMutex
	state       State
	inflight    sync.WaitGroup
	turnTimeout atomic.Int64
}

// State represents the current state of the engine.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// New creates a turn engine. The engine accepts turns once Start is called.
func New(cfg Config, store storage.Storage, index Index, toolbox Toolbox, reasoner llm.Client, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: storage is required")
	}
	if index == nil {
		return nil, fmt.Errorf("engine: vector index is required")
	}
	if toolbox == nil {
		return nil, fmt.Errorf("engine: toolbox is required")
	}
	if reasoner == nil {
		return nil, fmt.Errorf("engine: reasoning client is required")
	}
	defaults := DefaultConfig()
	if cfg.ConversationWindow <= 0 {
		cfg.ConversationWindow = defaults.ConversationWindow
	}
	if cfg.TurnTimeout < 0 {
		cfg.TurnTimeout = 0
	}

	e := &Engine{
		config:   cfg,
		store:    store,
		index:    index,
		tools:    toolbox,
		reasoner: reasoner,
		log:      logger.Nop(),
		metrics:  noopMetrics{},
		events:   noopEvents{},
		now:      time.Now,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		e.locker = lane.NewLocalLocker(lane.WithLogger(e.log))
	}
	e.turnTimeout.Store(int64(cfg.TurnTimeout))
	e.tracer = engineTracer()
	e.memories = memory.NewStore(store, index, memory.WithLogger(e.log))
	e.traces = trace.NewRecorder(store, e.log)
	return e, nil
}

// Start makes the engine accept turns.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		return fmt.Errorf("engine is already running")
	}
	e.state = StateRunning
	e.log.InfoContext(ctx, "turn engine started",
		"turn_timeout", e.TurnTimeout(), "conversation_window", e.config.ConversationWindow)
	return nil
}

// Stop rejects new turns and waits for in-flight turns until ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopped
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.InfoContext(ctx, "turn engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: stop interrupted with turns in flight: %w", ctx.Err())
	}
}

// State returns the current state of the engine.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsReady reports whether the engine accepts turns.
func (e *Engine) IsReady() bool {
	return e.State() == StateRunning
}

// begin registers an in-flight turn. The returned func must be called once
// the turn is over.
func (e *Engine) begin() (func(), error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateRunning {
		return nil, &EngineNotRunningError{}
	}
	e.inflight.Add(1)
	e.metrics.IncActiveTurns()
	return func() {
		e.metrics.DecActiveTurns()
		e.inflight.Done()
	}, nil
}

// TurnTimeout returns the current per-turn deadline. Zero means none.
func (e *Engine) TurnTimeout() time.Duration {
	return time.Duration(e.turnTimeout.Load())
}

// SetTurnTimeout changes the deadline applied to turns started afterwards.
func (e *Engine) SetTurnTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.turnTimeout.Store(int64(d))
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.TurnTimeout()
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// lock takes the NPC's lane so turns of one NPC never overlap.
func (e *Engine) lock(ctx context.Context, npcID string) (func(), error) {
	ctx, span := e.tracer.Start(ctx, spanLaneWait)
	defer span.End()

	unlock, err := e.locker.Lock(ctx, npcID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("engine: acquire npc lock failed: %w", err)
	}
	return unlock, nil
}
