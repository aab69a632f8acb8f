package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/npc"
)

// NPCListResponse wraps an NPC listing.
type NPCListResponse struct {
	NPCs  []*model.NPC `json:"npcs"`
	Count int          `json:"count"`
}

// NPCHandler handles NPC lifecycle endpoints.
type NPCHandler struct {
	npcs   *npc.Service
	logger logger.Logger
}

// NewNPCHandler creates a new NPC handler.
func NewNPCHandler(svc *npc.Service, log logger.Logger) *NPCHandler {
	return &NPCHandler{npcs: svc, logger: orNop(log)}
}

// CreateNPC handles POST /npc/create
// @Summary Create an NPC
// @Tags npc
// @Accept json
// @Produce json
// @Param npc body model.NPCInput true "NPC definition"
// @Success 201 {object} model.NPC
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Failure 404 {object} response.ErrorResponse "Persona or world not found"
// @Router /npc/create [post]
func (h *NPCHandler) CreateNPC(w http.ResponseWriter, r *http.Request) {
	var in model.NPCInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid npc body", err)
		return
	}
	n, err := h.npcs.CreateNPC(r.Context(), in)
	if err != nil {
		fail(w, r, h.logger, "create npc failed", err)
		return
	}
	response.JSON(w, http.StatusCreated, n)
}

// GetNPC handles GET /npc/{id}
// @Summary Get an NPC
// @Tags npc
// @Produce json
// @Param id path string true "NPC ID"
// @Success 200 {object} model.NPC
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id} [get]
func (h *NPCHandler) GetNPC(w http.ResponseWriter, r *http.Request) {
	n, err := h.npcs.GetNPC(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "get npc failed", err)
		return
	}
	response.JSON(w, http.StatusOK, n)
}

// ListNPCs handles GET /npc
// @Summary List NPCs
// @Tags npc
// @Produce json
// @Param world_id query string false "Filter by world"
// @Param limit query int false "Maximum number of results" default(100)
// @Success 200 {object} NPCListResponse
// @Failure 400 {object} response.ErrorResponse "Invalid limit"
// @Router /npc [get]
func (h *NPCHandler) ListNPCs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, h.logger, "invalid limit", err)
		return
	}
	npcs, err := h.npcs.ListNPCs(r.Context(), model.NPCFilter{
		WorldID: r.URL.Query().Get("world_id"),
		Limit:   limit,
	})
	if err != nil {
		fail(w, r, h.logger, "list npcs failed", err)
		return
	}
	response.JSON(w, http.StatusOK, NPCListResponse{NPCs: npcs, Count: len(npcs)})
}

// UpdateNPC handles PUT /npc/{id}
// @Summary Replace an NPC's definition
// @Tags npc
// @Accept json
// @Produce json
// @Param id path string true "NPC ID"
// @Param npc body model.NPCInput true "NPC definition"
// @Success 200 {object} model.NPC
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Failure 404 {object} response.ErrorResponse "NPC, persona or world not found"
// @Router /npc/{id} [put]
func (h *NPCHandler) UpdateNPC(w http.ResponseWriter, r *http.Request) {
	var in model.NPCInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid npc body", err)
		return
	}
	n, err := h.npcs.UpdateNPC(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, h.logger, "update npc failed", err)
		return
	}
	response.JSON(w, http.StatusOK, n)
}

// UpdateNPCConfig handles PUT /npc/{id}/config
// @Summary Update an NPC's retrieval and memory tuning
// @Tags npc
// @Accept json
// @Produce json
// @Param id path string true "NPC ID"
// @Param config body model.NPCConfig true "NPC configuration"
// @Success 200 {object} model.NPC
// @Failure 400 {object} response.ErrorResponse "Value out of range"
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id}/config [put]
func (h *NPCHandler) UpdateNPCConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.NPCConfig
	if err := decodeJSON(r, &cfg); err != nil {
		fail(w, r, h.logger, "invalid config body", err)
		return
	}
	n, err := h.npcs.UpdateNPCConfig(r.Context(), chi.URLParam(r, "id"), cfg)
	if err != nil {
		fail(w, r, h.logger, "update npc config failed", err)
		return
	}
	response.JSON(w, http.StatusOK, n)
}

// DeleteNPC handles DELETE /npc/{id}
// @Summary Delete an NPC
// @Description With cascade=true the NPC's memories, traces, NPC-scoped facts and vectors are removed too.
// @Tags npc
// @Produce json
// @Param id path string true "NPC ID"
// @Param cascade query bool false "Remove owned data"
// @Success 200 {object} npc.DeleteResult
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id} [delete]
func (h *NPCHandler) DeleteNPC(w http.ResponseWriter, r *http.Request) {
	cascade, err := queryBool(r, "cascade")
	if err != nil {
		fail(w, r, h.logger, "invalid cascade flag", err)
		return
	}
	res, err := h.npcs.DeleteNPC(r.Context(), chi.URLParam(r, "id"), cascade)
	if err != nil {
		fail(w, r, h.logger, "delete npc failed", err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// GenerateNPC handles POST /npc/generate
// @Summary Generate an NPC from a description
// @Description Creates a persona, a world when no world_id is given, and the NPC.
// @Tags npc
// @Accept json
// @Produce json
// @Param request body npc.GenerateInput true "Generation request"
// @Success 201 {object} npc.GenerateResult
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Failure 502 {object} response.ErrorResponse "Reasoning backend failure"
// @Router /npc/generate [post]
func (h *NPCHandler) GenerateNPC(w http.ResponseWriter, r *http.Request) {
	var in npc.GenerateInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid generate body", err)
		return
	}
	res, err := h.npcs.Generate(r.Context(), in)
	if err != nil {
		fail(w, r, h.logger, "generate npc failed", err)
		return
	}
	response.JSON(w, http.StatusCreated, res)
}
