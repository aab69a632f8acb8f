// Command npcforge runs the NPC turn-processing server.
package main

// @title npcforge API
// @version 1.0
// @description Turn-processing backend for autonomous NPCs: observations in, grounded actions out, with layered memory and inference traces.

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8000
// @BasePath /
// @schemes http https

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/npcforge/npcforge/config"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/telemetry/tracing"
	"github.com/npcforge/npcforge/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")
	watchFlag   = flag.Bool("watch", false, "Reload the configuration file on change")

	// CLI overrides
	serverPort  = flag.Int("port", 0, "Override server port")
	logLevel    = flag.String("log-level", "", "Override log level")
	storageType = flag.String("storage", "", "Override storage backend (memory, badger)")
	llmProvider = flag.String("llm", "", "Override LLM provider (offline, openai, anthropic)")
	debugMode   = flag.Bool("debug", false, "Enable debug mode")
)

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, loader); err != nil {
		log.Error("npcforge exited with error", "error", err)
		os.Exit(1)
	}
}

// run starts every server and blocks until ctx is cancelled or the HTTP
// server fails, then shuts down in order.
func run(ctx context.Context, cfg *config.Config, log logger.Logger, loader *config.Loader) error {
	log.Info("Starting npcforge",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.ServiceFromConfig(cfg.App, uuid.NewString()))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := a.start(ctx); err != nil {
		_ = a.shutdown(context.Background())
		return fmt.Errorf("start application: %w", err)
	}

	if a.metrics.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := a.metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	if *watchFlag && *configPath != "" && loader != nil {
		watcher, err := config.NewWatcher(*configPath, loader, config.WithLogger(logger.Named(log, "config")))
		if err != nil {
			log.Warn("Config watcher disabled", "error", err)
		} else {
			watcher.OnChange(a.applyReload)
			go func() {
				if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("Config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.http.Start()
	}()

	log.Info("npcforge is running",
		"http_port", cfg.Server.Port,
		"grpc_enabled", cfg.Server.GRPC.Enabled,
		"metrics_port", cfg.Metrics.Port,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			runErr = err
			log.Error("HTTP server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	log.Info("npcforge stopped")
	return runErr
}

func newLogger(cfg *config.Config) logger.Logger {
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	return logger.New(logCfg)
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *storageType != "" {
		overrides["storage.type"] = *storageType
	}
	if *llmProvider != "" {
		overrides["llm.provider"] = *llmProvider
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printHelp() {
	fmt.Printf("npcforge - turn-processing backend for autonomous NPCs\n\n")
	fmt.Printf("Usage: npcforge [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  npcforge                                  # Run with defaults (memory storage, offline LLM)\n")
	fmt.Printf("  npcforge -config npcforge.yaml -watch     # Use a config file and hot-reload it\n")
	fmt.Printf("  npcforge -storage badger -llm anthropic   # Override specific options\n")
	fmt.Printf("  npcforge -version                         # Print version info\n")
}
