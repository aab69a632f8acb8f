package config

import (
	"fmt"

	grpcpkg "github.com/npcforge/npcforge/pkg/grpc"
)

// ToGRPCConfig converts the gRPC section into the health server config.
// host is the bind address shared with the HTTP API.
func (g *GRPCConfig) ToGRPCConfig(host string, tracing bool) *grpcpkg.Config {
	cfg := grpcpkg.DefaultConfig()
	cfg.Address = fmt.Sprintf("%s:%d", host, g.Port)
	cfg.MaxConnections = g.MaxConnections
	cfg.EnableReflection = g.EnableReflection
	cfg.EnableTracing = tracing

	if g.TLS.Enabled {
		cfg.TLS = &grpcpkg.TLSConfig{
			Enabled:    true,
			CertFile:   g.TLS.CertFile,
			KeyFile:    g.TLS.KeyFile,
			CAFile:     g.TLS.CAFile,
			ClientAuth: g.TLS.ClientAuth,
		}
	}

	ka := g.Keepalive
	if ka.MaxIdle > 0 || ka.MaxAge > 0 || ka.Time > 0 || ka.Timeout > 0 {
		cfg.Keepalive = &grpcpkg.KeepaliveConfig{
			MaxIdle: ka.MaxIdle,
			MaxAge:  ka.MaxAge,
			Time:    ka.Time,
			Timeout: ka.Timeout,
		}
	}

	return cfg
}
