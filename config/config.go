// Package config provides configuration management for npcforge.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for npcforge.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Storage is the persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Vector is the vector index configuration.
	Vector VectorConfig `mapstructure:"vector"`

	// Embedding selects the text embedder.
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// LLM is the reasoning backend configuration.
	LLM LLMConfig `mapstructure:"llm"`

	// Engine holds turn pipeline settings.
	Engine EngineConfig `mapstructure:"engine"`

	// Lock is the per-NPC turn lock configuration.
	Lock LockConfig `mapstructure:"lock"`

	// Tools is the tool registry configuration.
	Tools ToolsConfig `mapstructure:"tools"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP/gRPC server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// GRPC is the gRPC health server configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// WebSocket is the event stream configuration.
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// GRPCConfig holds gRPC-specific settings.
type GRPCConfig struct {
	// Enabled enables the gRPC server.
	Enabled bool `mapstructure:"enabled"`

	// Port is the gRPC server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxConnections caps concurrent streams per connection.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// EnableReflection enables gRPC server reflection for debugging.
	EnableReflection bool `mapstructure:"enable_reflection"`

	// TLS is the TLS/mTLS configuration.
	TLS GRPCTLSConfig `mapstructure:"tls"`

	// Keepalive is the keepalive configuration.
	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCTLSConfig holds gRPC TLS/mTLS settings.
type GRPCTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth bool   `mapstructure:"client_auth"`
}

// GRPCKeepaliveConfig holds gRPC keepalive settings.
type GRPCKeepaliveConfig struct {
	MaxIdle time.Duration `mapstructure:"max_idle"`
	MaxAge  time.Duration `mapstructure:"max_age"`
	Time    time.Duration `mapstructure:"time"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// RequestTimeout bounds handler execution. Turns can take several LLM
	// round trips, so this is larger than the engine turn timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// MaxBodyBytes limits the size of request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// WebSocketConfig holds websocket event stream settings.
type WebSocketConfig struct {
	// Enabled exposes /ws/events.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins restricts upgrade origins; empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// PingInterval is how often the server pings idle clients.
	PingInterval time.Duration `mapstructure:"ping_interval"`

	// BufferSize is the per-client outbound queue length.
	BufferSize int `mapstructure:"buffer_size" validate:"min=1"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	// Backend is the collection implementation (flat, chromem).
	Backend string `mapstructure:"backend" validate:"oneof=flat chromem"`

	// Path is the directory for persisted collections. Empty keeps them in memory.
	Path string `mapstructure:"path"`

	// Compress enables gzip compression for chromem persistence.
	Compress bool `mapstructure:"compress"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	// Provider is the embedder (hash, openai).
	Provider string `mapstructure:"provider" validate:"oneof=hash openai"`

	// Model is the embedding model name for remote providers.
	Model string `mapstructure:"model"`

	// Dimension is the vector size produced by the hash embedder.
	Dimension int `mapstructure:"dimension" validate:"min=8,max=8192"`

	// APIKey authenticates remote providers.
	APIKey string `mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `mapstructure:"base_url"`

	// CacheSize is the number of embeddings kept in memory; 0 disables caching.
	CacheSize int64 `mapstructure:"cache_size" validate:"min=0"`
}

// LLMConfig holds reasoning backend settings.
type LLMConfig struct {
	// Provider is the backend (offline, openai, anthropic).
	Provider string `mapstructure:"provider" validate:"oneof=offline openai anthropic"`

	// Model is the model name.
	Model string `mapstructure:"model"`

	// APIKey authenticates the provider.
	APIKey string `mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible servers).
	BaseURL string `mapstructure:"base_url"`

	// Timeout bounds a single call.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxRetries is the number of attempts for retryable failures.
	MaxRetries int `mapstructure:"max_retries" validate:"min=1,max=10"`

	// RateLimit is the sustained calls per second; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"min=0"`

	// Burst is the limiter bucket size.
	Burst int `mapstructure:"burst" validate:"min=1"`

	// MaxTokens caps completion length.
	MaxTokens int `mapstructure:"max_tokens" validate:"min=1"`

	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature" validate:"min=0,max=2"`
}

// EngineConfig holds turn pipeline settings.
type EngineConfig struct {
	// TurnTimeout bounds one turn including lock wait.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`

	// ConversationWindow is how many recent observation memories are loaded.
	ConversationWindow int `mapstructure:"conversation_window" validate:"min=1,max=100"`

	// Defaults seed the config of newly created NPCs.
	Defaults NPCDefaults `mapstructure:"defaults"`
}

// NPCDefaults are the initial NPC tuning values.
type NPCDefaults struct {
	RetrievalTopK        int     `mapstructure:"retrieval_top_k" validate:"min=1,max=50"`
	ImportanceThreshold  float64 `mapstructure:"importance_threshold" validate:"min=0,max=1"`
	ReflectionThreshold  float64 `mapstructure:"reflection_threshold" validate:"min=0,max=1"`
	MaxFactsPerDimension int     `mapstructure:"max_facts_per_dimension" validate:"min=1,max=20"`
}

// LockConfig holds per-NPC lock settings.
type LockConfig struct {
	// Backend is the lock implementation (local, redis).
	Backend string `mapstructure:"backend" validate:"oneof=local redis"`

	// TTL bounds how long a redis lock survives a crashed holder.
	TTL time.Duration `mapstructure:"ttl"`

	// RetryInterval is the redis acquisition polling interval.
	RetryInterval time.Duration `mapstructure:"retry_interval"`

	// Redis is the Redis configuration.
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db"`

	// KeyPrefix namespaces lock keys.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ToolsConfig holds tool registry settings.
type ToolsConfig struct {
	// DynamicTimeout bounds a single dynamic tool call.
	DynamicTimeout time.Duration `mapstructure:"dynamic_timeout"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlp).
	Exporter string `mapstructure:"exporter" validate:"oneof=otlp"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds exporter calls.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are sent with every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler is the sampling strategy (always_on, always_off, ratio).
	Sampler string `mapstructure:"sampler" validate:"oneof=always_on always_off ratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s, LLM: %s/%s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type, c.LLM.Provider, c.LLM.Model)
}
