package config

import "time"

// DefaultConfig returns a Config with sensible defaults. The defaults run
// fully offline: in-memory storage, hash embeddings and the rule-based
// reasoning backend.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "npcforge",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
			GRPC: GRPCConfig{
				Enabled:          false,
				Port:             9090,
				MaxConnections:   1000,
				EnableReflection: false,
				Keepalive: GRPCKeepaliveConfig{
					MaxIdle: 5 * time.Minute,
					MaxAge:  time.Hour,
					Time:    time.Minute,
					Timeout: 20 * time.Second,
				},
			},
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    150 * time.Second,
				IdleTimeout:     120 * time.Second,
				RequestTimeout:  140 * time.Second,
				ShutdownTimeout: 30 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
				MaxBodyBytes:    4 << 20, // 4MB
			},
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID"},
				MaxAge:         300,
			},
			WebSocket: WebSocketConfig{
				Enabled:      true,
				PingInterval: 30 * time.Second,
				BufferSize:   256,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 28, // 256MB
				NumVersionsToKeep: 1,
			},
		},
		Vector: VectorConfig{
			Backend: "flat",
			Path:    "",
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "text-embedding-3-small",
			Dimension: 384,
			CacheSize: 10000,
		},
		LLM: LLMConfig{
			Provider:    "offline",
			Model:       "gpt-4o-mini",
			Timeout:     30 * time.Second,
			MaxRetries:  3,
			RateLimit:   10,
			Burst:       20,
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Engine: EngineConfig{
			TurnTimeout:        120 * time.Second,
			ConversationWindow: 10,
			Defaults: NPCDefaults{
				RetrievalTopK:        5,
				ImportanceThreshold:  0.7,
				ReflectionThreshold:  0.7,
				MaxFactsPerDimension: 3,
			},
		},
		Lock: LockConfig{
			Backend:       "local",
			TTL:           3 * time.Minute,
			RetryInterval: 50 * time.Millisecond,
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "npcforge:lock:",
			},
		},
		Tools: ToolsConfig{
			DynamicTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
