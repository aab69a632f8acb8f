// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"
	"time"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/engine"
	"github.com/npcforge/npcforge/pkg/tools"
	"github.com/npcforge/npcforge/pkg/vector"
	"github.com/npcforge/npcforge/pkg/version"
)

// StatusResponse is the detailed /status payload.
type StatusResponse struct {
	Status  string                                 `json:"status"`
	Engine  string                                 `json:"engine"`
	Uptime  string                                 `json:"uptime"`
	Version map[string]string                      `json:"version"`
	Tools   int                                    `json:"tools"`
	Vectors map[vector.Kind]vector.CollectionStats `json:"vectors,omitempty"`
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	engine   *engine.Engine
	index    *vector.Index
	registry *tools.Registry
	started  time.Time
}

// NewHealthHandler creates a new health handler. index and registry only
// feed /status and may be nil.
func NewHealthHandler(eng *engine.Engine, index *vector.Index, registry *tools.Registry) *HealthHandler {
	return &HealthHandler{
		engine:   eng,
		index:    index,
		registry: registry,
		started:  time.Now(),
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.engine.State() != engine.StateStopped {
		response.JSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	} else {
		response.JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
		})
	}
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine.IsReady() {
		response.JSON(w, http.StatusOK, map[string]bool{
			"ready": true,
		})
	} else {
		response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
			"ready": false,
		})
	}
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	state := h.engine.State()
	status := StatusResponse{
		Status:  "ok",
		Engine:  state.String(),
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Version: version.Info(),
	}
	if state != engine.StateRunning {
		status.Status = "degraded"
	}
	if h.registry != nil {
		status.Tools = len(h.registry.Names())
	}
	if h.index != nil {
		status.Vectors = h.index.Stats()
	}
	response.JSON(w, http.StatusOK, status)
}
