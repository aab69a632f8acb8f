package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/npc"
)

// WorldListResponse wraps a world listing.
type WorldListResponse struct {
	Worlds []*model.World `json:"worlds"`
	Count  int            `json:"count"`
}

// WorldHandler handles world endpoints.
type WorldHandler struct {
	npcs   *npc.Service
	logger logger.Logger
}

// NewWorldHandler creates a new world handler.
func NewWorldHandler(svc *npc.Service, log logger.Logger) *WorldHandler {
	return &WorldHandler{npcs: svc, logger: orNop(log)}
}

// CreateWorld handles POST /world/create
// @Summary Create a world
// @Tags world
// @Accept json
// @Produce json
// @Param world body model.WorldInput true "World definition"
// @Success 201 {object} model.World
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Router /world/create [post]
func (h *WorldHandler) CreateWorld(w http.ResponseWriter, r *http.Request) {
	var in model.WorldInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid world body", err)
		return
	}
	wd, err := h.npcs.CreateWorld(r.Context(), in)
	if err != nil {
		fail(w, r, h.logger, "create world failed", err)
		return
	}
	response.JSON(w, http.StatusCreated, wd)
}

// ListWorlds handles GET /world
// @Summary List worlds
// @Tags world
// @Produce json
// @Success 200 {object} WorldListResponse
// @Router /world [get]
func (h *WorldHandler) ListWorlds(w http.ResponseWriter, r *http.Request) {
	worlds, err := h.npcs.ListWorlds(r.Context())
	if err != nil {
		fail(w, r, h.logger, "list worlds failed", err)
		return
	}
	response.JSON(w, http.StatusOK, WorldListResponse{Worlds: worlds, Count: len(worlds)})
}

// GetWorld handles GET /world/{id}
// @Summary Get a world
// @Tags world
// @Produce json
// @Param id path string true "World ID"
// @Success 200 {object} model.World
// @Failure 404 {object} response.ErrorResponse "World not found"
// @Router /world/{id} [get]
func (h *WorldHandler) GetWorld(w http.ResponseWriter, r *http.Request) {
	wd, err := h.npcs.GetWorld(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "get world failed", err)
		return
	}
	response.JSON(w, http.StatusOK, wd)
}

// UpdateWorld handles PUT /world/{id}
// @Summary Replace a world
// @Tags world
// @Accept json
// @Produce json
// @Param id path string true "World ID"
// @Param world body model.WorldInput true "World definition"
// @Success 200 {object} model.World
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Failure 404 {object} response.ErrorResponse "World not found"
// @Router /world/{id} [put]
func (h *WorldHandler) UpdateWorld(w http.ResponseWriter, r *http.Request) {
	var in model.WorldInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid world body", err)
		return
	}
	wd, err := h.npcs.UpdateWorld(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, h.logger, "update world failed", err)
		return
	}
	response.JSON(w, http.StatusOK, wd)
}

// DeleteWorld handles DELETE /world/{id}
// @Summary Delete a world
// @Description Without cascade a world that still has NPCs is rejected.
// @Tags world
// @Produce json
// @Param id path string true "World ID"
// @Param cascade query bool false "Delete the world's NPCs and their data"
// @Success 200 {object} npc.DeleteResult
// @Failure 400 {object} response.ErrorResponse "World still has NPCs"
// @Failure 404 {object} response.ErrorResponse "World not found"
// @Router /world/{id} [delete]
func (h *WorldHandler) DeleteWorld(w http.ResponseWriter, r *http.Request) {
	cascade, err := queryBool(r, "cascade")
	if err != nil {
		fail(w, r, h.logger, "invalid cascade flag", err)
		return
	}
	res, err := h.npcs.DeleteWorld(r.Context(), chi.URLParam(r, "id"), cascade)
	if err != nil {
		fail(w, r, h.logger, "delete world failed", err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// WorldNPCs handles GET /world/{id}/npcs
// @Summary List the NPCs living in a world
// @Tags world
// @Produce json
// @Param id path string true "World ID"
// @Success 200 {object} NPCListResponse
// @Failure 404 {object} response.ErrorResponse "World not found"
// @Router /world/{id}/npcs [get]
func (h *WorldHandler) WorldNPCs(w http.ResponseWriter, r *http.Request) {
	npcs, err := h.npcs.WorldNPCs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "list world npcs failed", err)
		return
	}
	response.JSON(w, http.StatusOK, NPCListResponse{NPCs: npcs, Count: len(npcs)})
}
