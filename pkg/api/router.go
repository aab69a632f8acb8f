// Package api provides HTTP API server components.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/npcforge/npcforge/config"
	"github.com/npcforge/npcforge/pkg/api/handlers"
	"github.com/npcforge/npcforge/pkg/api/middleware"
	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/logger"

	_ "github.com/npcforge/npcforge/docs/swagger" // Import generated docs
)

// Handlers holds all HTTP handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	NPC     *handlers.NPCHandler
	Persona *handlers.PersonaHandler
	World   *handlers.WorldHandler
	Memory  *handlers.MemoryHandler
	Turn    *handlers.TurnHandler
	Vector  *handlers.VectorHandler
	Tools   *handlers.ToolHandler
	Trace   *handlers.TraceHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// WebSocket streams engine events; nil disables /ws/events.
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.MaxBodyBytes(cfg.Server.HTTP.MaxBodyBytes))
	r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound,
			"route not found", middleware.GetRequestID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.ErrCodeMethodNotAllowed,
			"method not allowed", middleware.GetRequestID(r.Context()))
	})

	// Register routes
	RegisterRoutes(r, h)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, h *Handlers) {
	if h.NPC != nil {
		r.Post("/npc/create", h.NPC.CreateNPC)
		r.Post("/npc/generate", h.NPC.GenerateNPC)
		r.Get("/npc", h.NPC.ListNPCs)
	}

	r.Route("/npc/{id}", func(r chi.Router) {
		if h.NPC != nil {
			r.Get("/", h.NPC.GetNPC)
			r.Put("/", h.NPC.UpdateNPC)
			r.Delete("/", h.NPC.DeleteNPC)
			r.Put("/config", h.NPC.UpdateNPCConfig)
		}
		if h.Memory != nil {
			r.Route("/memory", func(r chi.Router) {
				r.Post("/", h.Memory.CreateMemory)
				r.Get("/", h.Memory.ListMemories)
				r.Delete("/", h.Memory.DeleteMemories)
				r.Get("/recent", h.Memory.RecentMemories)
				r.Get("/{memId}", h.Memory.GetMemory)
				r.Delete("/{memId}", h.Memory.DeleteMemory)
			})
		}
		if h.Turn != nil {
			r.Post("/turn", h.Turn.RunTurn)
			r.Post("/act", h.Turn.RunTurn)
			r.Post("/force_action", h.Turn.ForceAction)
		}
		if h.Vector != nil {
			r.Get("/vector_memories", h.Vector.VectorMemories)
		}
		if h.Trace != nil {
			r.Get("/traces", h.Trace.ListTraces)
			r.Delete("/traces", h.Trace.DeleteTraces)
		}
	})

	if h.Vector != nil {
		r.Post("/vector/reindex", h.Vector.Reindex)
		r.Get("/vector/stats", h.Vector.Stats)
	}

	if h.Tools != nil {
		r.Get("/tools", h.Tools.Definitions)
		r.Route("/tool", func(r chi.Router) {
			r.Get("/", h.Tools.ListTools)
			r.Post("/create", h.Tools.CreateTool)
			r.Get("/{id}", h.Tools.GetTool)
			r.Put("/{id}", h.Tools.UpdateTool)
			r.Delete("/{id}", h.Tools.DeleteTool)
		})
	}

	if h.Persona != nil {
		r.Route("/persona", func(r chi.Router) {
			r.Get("/", h.Persona.ListPersonas)
			r.Post("/create", h.Persona.CreatePersona)
			r.Get("/{id}", h.Persona.GetPersona)
			r.Put("/{id}", h.Persona.UpdatePersona)
			r.Delete("/{id}", h.Persona.DeletePersona)
			r.Get("/{id}/facts", h.Persona.ListFacts)
			r.Post("/{id}/facts", h.Persona.AddFact)
		})
	}

	if h.World != nil {
		r.Route("/world", func(r chi.Router) {
			r.Get("/", h.World.ListWorlds)
			r.Post("/create", h.World.CreateWorld)
			r.Get("/{id}", h.World.GetWorld)
			r.Put("/{id}", h.World.UpdateWorld)
			r.Delete("/{id}", h.World.DeleteWorld)
			r.Get("/{id}/npcs", h.World.WorldNPCs)
		})
	}

	if h.Trace != nil {
		r.Get("/trace/{id}", h.Trace.GetTrace)
		r.Delete("/trace/{id}", h.Trace.DeleteTrace)
	}

	// Health check routes
	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}

	if h.WebSocket != nil {
		r.Get("/ws/events", h.WebSocket.ServeHTTP)
	}

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.WrapHandler)
}
