package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// EngineService is the health service name reported for the turn engine.
const EngineService = "npcforge.Engine"

// ReadinessProbe reports whether the process can take turns.
type ReadinessProbe interface {
	IsReady() bool
}

// HealthServer wraps the gRPC health check server
type HealthServer struct {
	server *health.Server
}

// NewHealthServer creates a new health check server
func NewHealthServer() *HealthServer {
	return &HealthServer{
		server: health.NewServer(),
	}
}

// SetServingStatus sets the serving status for a service
func (h *HealthServer) SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus(service, status)
}

// Sync sets the overall and engine statuses from the probe.
func (h *HealthServer) Sync(probe ReadinessProbe) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if probe != nil && probe.IsReady() {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(EngineService, status)
}

// Track re-syncs the status every interval until ctx is done.
func (h *HealthServer) Track(ctx context.Context, probe ReadinessProbe, interval time.Duration) {
	h.Sync(probe)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sync(probe)
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// GetServer returns the underlying health server for registration
func (h *HealthServer) GetServer() *health.Server {
	return h.server
}
