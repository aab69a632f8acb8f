package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/npcforge/npcforge/config"
	"github.com/npcforge/npcforge/pkg/api"
	"github.com/npcforge/npcforge/pkg/api/events"
	"github.com/npcforge/npcforge/pkg/api/handlers"
	"github.com/npcforge/npcforge/pkg/engine"
	grpcsrv "github.com/npcforge/npcforge/pkg/grpc"
	"github.com/npcforge/npcforge/pkg/lane"
	"github.com/npcforge/npcforge/pkg/llm"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/memory"
	"github.com/npcforge/npcforge/pkg/metrics"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/npc"
	"github.com/npcforge/npcforge/pkg/storage"
	"github.com/npcforge/npcforge/pkg/storage/badger"
	memstore "github.com/npcforge/npcforge/pkg/storage/memory"
	"github.com/npcforge/npcforge/pkg/tools"
	"github.com/npcforge/npcforge/pkg/trace"
	"github.com/npcforge/npcforge/pkg/vector"
)

// app owns every long-lived component of the server process.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Manager

	store    storage.Storage
	index    *vector.Index
	reasoner *llm.Resilient
	registry *tools.Registry
	engine   *engine.Engine
	events   *events.Broadcaster

	http *api.HTTPServer
	ws   *handlers.WebSocketHandler
	grpc *grpcsrv.Server

	hot     config.HotReloadableConfig
	closers []func() error
}

// newApp builds the component graph from cfg. Nothing is listening yet.
// On failure everything opened so far is closed again.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, hot: config.ExtractHotReloadable(cfg)}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	a.metrics = metrics.NewManager(metricsConfig(cfg.Metrics))

	if a.store, err = openStorage(cfg.Storage, log); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if a.index, err = openIndex(cfg, log, a.metrics); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.index.Close)

	a.reasoner, err = llm.New(llmConfig(cfg.LLM),
		llm.WithLogger(logger.Named(log, "llm")),
		llm.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	locker, closeLocker, err := lane.New(ctx, lockConfig(cfg.Lock),
		lane.WithLogger(logger.Named(log, "lane")),
		lane.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLocker)

	a.registry = tools.NewRegistry(a.store,
		tools.WithLogger(logger.Named(log, "tools")),
		tools.WithMetrics(a.metrics),
		tools.WithSandbox(tools.NewSandbox(cfg.Tools.DynamicTimeout)),
	)
	loaded, err := a.registry.Load(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("Tool registry loaded", "dynamic_tools", loaded, "total_tools", len(a.registry.Names()))

	a.events = events.NewBroadcaster()
	a.closers = append(a.closers, func() error {
		a.events.Close()
		return nil
	})

	a.engine, err = engine.New(engine.Config{
		TurnTimeout:        cfg.Engine.TurnTimeout,
		ConversationWindow: cfg.Engine.ConversationWindow,
	}, a.store, a.index, a.registry, a.reasoner,
		engine.WithLogger(logger.Named(log, "engine")),
		engine.WithMetrics(a.metrics),
		engine.WithLocker(locker),
		engine.WithEventBroadcaster(a.events),
	)
	if err != nil {
		return nil, err
	}

	svc := npc.NewService(a.store, a.index,
		npc.WithLogger(logger.Named(log, "npc")),
		npc.WithReasoner(a.reasoner),
		npc.WithLocker(locker),
		npc.WithDefaults(npcDefaults(cfg.Engine.Defaults)),
	)
	memories := memory.NewStore(a.store, a.index,
		memory.WithLogger(logger.Named(log, "memory")),
		memory.WithMetrics(a.metrics),
	)

	h := &api.Handlers{
		NPC:     handlers.NewNPCHandler(svc, log),
		Persona: handlers.NewPersonaHandler(svc, log),
		World:   handlers.NewWorldHandler(svc, log),
		Memory:  handlers.NewMemoryHandler(memories, log),
		Turn:    handlers.NewTurnHandler(a.engine, log),
		Vector:  handlers.NewVectorHandler(a.index, vector.NewStoreSource(a.store), svc, log),
		Tools:   handlers.NewToolHandler(a.registry, log),
		Trace:   handlers.NewTraceHandler(trace.NewRecorder(a.store, log), svc, log),
		Health:  handlers.NewHealthHandler(a.engine, a.index, a.registry),
	}
	if a.metrics.Enabled() {
		h.Metrics = a.metrics
	}
	if ws := cfg.Server.WebSocket; ws.Enabled {
		a.ws = handlers.NewWebSocketHandler(logger.Named(log, "ws"), handlers.WebSocketConfig{
			AllowedOrigins: ws.AllowedOrigins,
			PingInterval:   ws.PingInterval,
			SendBuffer:     ws.BufferSize,
		})
		h.WebSocket = a.ws
	}
	a.http = api.NewHTTPServer(cfg, log, h)

	if cfg.Server.GRPC.Enabled {
		opts := []grpcsrv.Option{grpcsrv.WithLogger(logger.Named(log, "grpc"))}
		if a.metrics.Enabled() {
			opts = append(opts, grpcsrv.WithMetricsRegisterer(a.metrics.Registry()))
		}
		a.grpc, err = grpcsrv.New(cfg.Server.GRPC.ToGRPCConfig(cfg.Server.Host, cfg.Tracing.Enabled), a.engine, opts...)
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

// start brings the engine up, rebuilds volatile vector collections and
// starts the websocket relay and the gRPC server. The HTTP server is
// started by the caller.
func (a *app) start(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	if err := a.rebuildIndex(ctx); err != nil {
		return err
	}
	if a.ws != nil {
		go a.ws.Forward(ctx.Done(), a.events.Subscribe(a.cfg.Server.WebSocket.BufferSize))
	}
	if a.grpc != nil {
		if err := a.grpc.Start(); err != nil {
			return err
		}
	}
	return nil
}

// rebuildIndex repopulates in-memory collections from a durable store.
func (a *app) rebuildIndex(ctx context.Context) error {
	if a.cfg.Storage.Type != "badger" || a.cfg.Vector.Path != "" {
		return nil
	}
	src := vector.NewStoreSource(a.store)
	for _, kind := range vector.Kinds {
		res, err := a.index.Reindex(ctx, kind, src)
		if err != nil {
			return fmt.Errorf("rebuild %s index: %w", kind, err)
		}
		a.log.Info("Vector collection rebuilt", "index_type", kind, "documents", res.VectorsIndexed)
	}
	return nil
}

// shutdown stops servers first, then the engine, then releases resources.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.grpc != nil {
		if err := a.grpc.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ws != nil {
		a.ws.Close()
	}
	if err := a.engine.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// close releases resources in reverse acquisition order.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// applyReload re-applies the settings that can change without a restart.
// Everything else in cfg is ignored until the next start.
func (a *app) applyReload(cfg *config.Config) {
	next := config.ExtractHotReloadable(cfg)
	if !a.hot.Changed(next) {
		a.log.Debug("Configuration reloaded without hot changes")
		return
	}
	a.log.SetLevel(logger.ParseLevel(next.LogLevel))
	a.reasoner.SetRateLimit(next.LLMRateLimit, next.LLMBurst)
	a.engine.SetTurnTimeout(next.TurnTimeout)
	a.hot = next
	a.log.Info("Configuration reloaded",
		"log_level", next.LogLevel,
		"llm_rate_limit", next.LLMRateLimit,
		"llm_burst", next.LLMBurst,
		"turn_timeout", next.TurnTimeout,
	)
}

func openStorage(cfg config.StorageConfig, log logger.Logger) (storage.Storage, error) {
	switch cfg.Type {
	case "badger":
		store, err := badger.NewBadgerStorage(&badger.Config{
			Path:              cfg.Badger.Path,
			SyncWrites:        cfg.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Badger.NumVersionsToKeep,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger storage: %w", err)
		}
		log.Info("Initialized Badger storage", "path", cfg.Badger.Path)
		return store, nil
	case "", "memory":
		log.Info("Initialized memory storage")
		return memstore.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func openIndex(cfg *config.Config, log logger.Logger, m *metrics.Manager) (*vector.Index, error) {
	var embedder vector.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		embedder = vector.NewOpenAIEmbedder(vector.OpenAIConfig{
			APIKey:    cfg.Embedding.APIKey,
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
		})
	default:
		embedder = vector.NewHashEmbedder(cfg.Embedding.Dimension)
	}
	if cfg.Embedding.CacheSize > 0 {
		cached, err := vector.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
		if err != nil {
			return nil, err
		}
		embedder = cached
	}

	var (
		backend vector.Backend
		err     error
	)
	switch cfg.Vector.Backend {
	case "chromem":
		backend, err = vector.NewChromemBackend(cfg.Vector.Path, cfg.Vector.Compress)
	default:
		backend, err = vector.NewFlatBackend(cfg.Vector.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s vector backend: %w", cfg.Vector.Backend, err)
	}

	index, err := vector.NewIndex(backend, embedder,
		vector.WithLogger(logger.Named(log, "vector")),
		vector.WithMetrics(m),
	)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	log.Info("Initialized vector index",
		"backend", cfg.Vector.Backend,
		"embedder", cfg.Embedding.Provider,
		"persistent", cfg.Vector.Path != "",
	)
	return index, nil
}

func metricsConfig(cfg config.MetricsConfig) metrics.Config {
	out := metrics.DefaultConfig()
	out.Enabled = cfg.Enabled
	out.Port = cfg.Port
	out.Path = cfg.Path
	return out
}

func llmConfig(cfg config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		RateLimit:   cfg.RateLimit,
		Burst:       cfg.Burst,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

func lockConfig(cfg config.LockConfig) lane.Config {
	return lane.Config{
		Backend:       cfg.Backend,
		TTL:           cfg.TTL,
		RetryInterval: cfg.RetryInterval,
		KeyPrefix:     cfg.Redis.KeyPrefix,
		Address:       cfg.Redis.Address,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
	}
}

func npcDefaults(d config.NPCDefaults) model.NPCConfig {
	return model.NPCConfig{
		RetrievalTopK:        d.RetrievalTopK,
		ImportanceThreshold:  d.ImportanceThreshold,
		ReflectionThreshold:  d.ReflectionThreshold,
		MaxFactsPerDimension: d.MaxFactsPerDimension,
	}
}
