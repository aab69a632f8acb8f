// Package grpc serves the standard gRPC health and reflection services for
// orchestrators that probe over gRPC.
package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/npcforge/npcforge/pkg/grpc/interceptors"
	"github.com/npcforge/npcforge/pkg/logger"
)

// Server represents a gRPC server instance
type Server struct {
	config     *Config
	probe      ReadinessProbe
	log        logger.Logger
	registerer prometheus.Registerer

	grpcSrv      *grpc.Server
	listener     net.Listener
	healthServer *HealthServer
	stopTracking context.CancelFunc
	mu           sync.RWMutex
	running      bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetricsRegisterer enables the metrics interceptors on registerer.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(s *Server) {
		s.registerer = registerer
	}
}

// New creates a new gRPC server. The health status follows probe.
func New(cfg *Config, probe ReadinessProbe, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		config: cfg,
		probe:  probe,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener

	opts, err := s.buildServerOptions()
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to build server options: %w", err)
	}

	s.grpcSrv = grpc.NewServer(opts...)

	if s.config.EnableReflection {
		reflection.Register(s.grpcSrv)
	}

	s.healthServer = NewHealthServer()
	grpc_health_v1.RegisterHealthServer(s.grpcSrv, s.healthServer.GetServer())
	s.healthServer.Sync(s.probe)

	ctx, cancel := context.WithCancel(context.Background())
	s.stopTracking = cancel
	go s.healthServer.Track(ctx, s.probe, s.config.ReadinessInterval)

	s.running = true
	s.log.Info("gRPC server listening", "addr", listener.Addr().String(), "reflection", s.config.EnableReflection)

	go func() {
		if err := s.grpcSrv.Serve(listener); err != nil {
			s.log.Error("gRPC server failed", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.stopTracking()
	s.healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.log.Info("gRPC server stopped")
		return nil
	case <-ctx.Done():
		s.grpcSrv.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}

// Health returns the health server, or nil before Start.
func (s *Server) Health() *HealthServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthServer
}

// Address returns the server's listening address
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// buildServerOptions constructs gRPC server options from config
func (s *Server) buildServerOptions() ([]grpc.ServerOption, error) {
	var opts []grpc.ServerOption

	if s.config.TLS != nil && s.config.TLS.Enabled {
		creds, err := s.buildTLSCredentials()
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	if s.config.MaxConnections > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(s.config.MaxConnections)))
	}

	if ka := s.config.Keepalive; ka != nil {
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: ka.MaxIdle,
			MaxConnectionAge:  ka.MaxAge,
			Time:              ka.Time,
			Timeout:           ka.Timeout,
		}))
	}

	chain := interceptors.NewChainBuilder().
		WithRecovery(s.log).
		WithRequestID().
		WithLogging(s.log)
	if s.registerer != nil {
		chain = chain.WithMetrics(interceptors.NewMetrics(s.registerer))
	}
	if s.config.EnableTracing {
		chain = chain.WithTracing()
	}
	opts = append(opts, chain.Build()...)

	return opts, nil
}

// buildTLSCredentials creates TLS credentials from config
func (s *Server) buildTLSCredentials() (credentials.TransportCredentials, error) {
	tlsCfg := s.config.TLS

	if !tlsCfg.ClientAuth || tlsCfg.CAFile == "" {
		cert, err := credentials.NewServerTLSFromFile(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load server certificate: %w", err)
		}
		return cert, nil
	}

	cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	caCert, err := os.ReadFile(tlsCfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    certPool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
