package grpc

import (
	"fmt"
	"time"
)

// Config holds gRPC server configuration
type Config struct {
	// Address is the server listening address (e.g., ":9090")
	Address string

	// TLS configuration
	TLS *TLSConfig

	// MaxConnections caps concurrent streams per connection
	MaxConnections int

	// Keepalive settings
	Keepalive *KeepaliveConfig

	// EnableReflection enables gRPC server reflection for debugging
	EnableReflection bool

	// EnableTracing adds the OpenTelemetry server interceptors
	EnableTracing bool

	// ReadinessInterval is how often the health status is re-evaluated
	ReadinessInterval time.Duration
}

// TLSConfig holds TLS/mTLS configuration
type TLSConfig struct {
	Enabled    bool
	CertFile   string
	KeyFile    string
	CAFile     string
	ClientAuth bool
}

// KeepaliveConfig holds keepalive configuration
type KeepaliveConfig struct {
	MaxIdle time.Duration
	MaxAge  time.Duration
	Time    time.Duration
	Timeout time.Duration
}

// DefaultConfig returns a default gRPC server configuration
func DefaultConfig() *Config {
	return &Config{
		Address:           ":9090",
		MaxConnections:    100,
		ReadinessInterval: 5 * time.Second,
		Keepalive: &KeepaliveConfig{
			MaxIdle: 5 * time.Minute,
			MaxAge:  time.Hour,
			Time:    time.Minute,
			Timeout: 20 * time.Second,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections cannot be negative")
	}
	if c.ReadinessInterval < 0 {
		return fmt.Errorf("readiness interval cannot be negative")
	}
	if c.TLS != nil && c.TLS.Enabled {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("invalid TLS config: %w", err)
		}
	}
	if c.Keepalive != nil {
		if err := c.Keepalive.Validate(); err != nil {
			return fmt.Errorf("invalid keepalive config: %w", err)
		}
	}
	return nil
}

// Validate validates TLS configuration
func (t *TLSConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.CertFile == "" {
		return fmt.Errorf("cert file is required when TLS is enabled")
	}
	if t.KeyFile == "" {
		return fmt.Errorf("key file is required when TLS is enabled")
	}
	if t.ClientAuth && t.CAFile == "" {
		return fmt.Errorf("CA file is required when client auth is enabled")
	}
	return nil
}

// Validate validates keepalive configuration
func (k *KeepaliveConfig) Validate() error {
	if k.MaxIdle < 0 || k.MaxAge < 0 || k.Time < 0 || k.Timeout < 0 {
		return fmt.Errorf("keepalive durations cannot be negative")
	}
	if k.Timeout > 0 && k.Time > 0 && k.Timeout >= k.Time {
		return fmt.Errorf("timeout must be less than ping interval")
	}
	return nil
}
