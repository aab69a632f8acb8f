package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/memory"
	"github.com/npcforge/npcforge/pkg/model"
)

// MemoryListResponse wraps a memory listing.
type MemoryListResponse struct {
	NPCID    string          `json:"npc_id"`
	Memories []*model.Memory `json:"memories"`
	Count    int             `json:"count"`
}

// MemoryDeleteResponse reports a bulk deletion.
type MemoryDeleteResponse struct {
	NPCID      string           `json:"npc_id"`
	MemoryType model.MemoryType `json:"memory_type,omitempty"`
	Deleted    int              `json:"deleted"`
}

// MemoryHandler handles episodic memory endpoints.
type MemoryHandler struct {
	memories *memory.Store
	logger   logger.Logger
}

// NewMemoryHandler creates a new memory handler.
func NewMemoryHandler(store *memory.Store, log logger.Logger) *MemoryHandler {
	return &MemoryHandler{memories: store, logger: orNop(log)}
}

func memoryQuery(r *http.Request) (model.MemoryType, int, error) {
	memoryType, err := model.ParseMemoryType(r.URL.Query().Get("memory_type"))
	if err != nil {
		return "", 0, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return "", 0, err
	}
	return memoryType, limit, nil
}

// CreateMemory handles POST /npc/{id}/memory
// @Summary Store a memory for an NPC
// @Description The tier follows the NPC's importance threshold; long-term memories are vectorized.
// @Tags memory
// @Accept json
// @Produce json
// @Param id path string true "NPC ID"
// @Param memory body model.MemoryInput true "Memory"
// @Success 201 {object} model.Memory
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id}/memory [post]
func (h *MemoryHandler) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var in model.MemoryInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid memory body", err)
		return
	}
	m, err := h.memories.Create(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, h.logger, "create memory failed", err)
		return
	}
	response.JSON(w, http.StatusCreated, m)
}

// ListMemories handles GET /npc/{id}/memory
// @Summary List an NPC's memories
// @Tags memory
// @Produce json
// @Param id path string true "NPC ID"
// @Param memory_type query string false "short_term or long_term"
// @Param limit query int false "Maximum number of results" default(50)
// @Success 200 {object} MemoryListResponse
// @Failure 400 {object} response.ErrorResponse "Invalid filter"
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id}/memory [get]
func (h *MemoryHandler) ListMemories(w http.ResponseWriter, r *http.Request) {
	npcID := chi.URLParam(r, "id")
	memoryType, limit, err := memoryQuery(r)
	if err != nil {
		fail(w, r, h.logger, "invalid memory query", err)
		return
	}
	memories, err := h.memories.List(r.Context(), npcID, model.MemoryFilter{MemoryType: memoryType, Limit: limit})
	if err != nil {
		fail(w, r, h.logger, "list memories failed", err)
		return
	}
	response.JSON(w, http.StatusOK, MemoryListResponse{NPCID: npcID, Memories: memories, Count: len(memories)})
}

// RecentMemories handles GET /npc/{id}/memory/recent
// @Summary Most recent memories of one tier
// @Tags memory
// @Produce json
// @Param id path string true "NPC ID"
// @Param memory_type query string false "Tier, short_term when omitted"
// @Param limit query int false "Maximum number of results" default(10)
// @Success 200 {object} MemoryListResponse
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id}/memory/recent [get]
func (h *MemoryHandler) RecentMemories(w http.ResponseWriter, r *http.Request) {
	npcID := chi.URLParam(r, "id")
	memoryType, limit, err := memoryQuery(r)
	if err != nil {
		fail(w, r, h.logger, "invalid memory query", err)
		return
	}
	memories, err := h.memories.Recent(r.Context(), npcID, memoryType, limit)
	if err != nil {
		fail(w, r, h.logger, "recent memories failed", err)
		return
	}
	response.JSON(w, http.StatusOK, MemoryListResponse{NPCID: npcID, Memories: memories, Count: len(memories)})
}

// GetMemory handles GET /npc/{id}/memory/{memId}
// @Summary Get one memory
// @Tags memory
// @Produce json
// @Param id path string true "NPC ID"
// @Param memId path string true "Memory ID"
// @Success 200 {object} model.Memory
// @Failure 404 {object} response.ErrorResponse "NPC or memory not found"
// @Router /npc/{id}/memory/{memId} [get]
func (h *MemoryHandler) GetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := h.memories.Get(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "memId"))
	if err != nil {
		fail(w, r, h.logger, "get memory failed", err)
		return
	}
	response.JSON(w, http.StatusOK, m)
}

// DeleteMemories handles DELETE /npc/{id}/memory
// @Summary Delete an NPC's memories by tier
// @Description Omitting memory_type deletes every tier. Vectors are kept until the episodic index is rebuilt.
// @Tags memory
// @Produce json
// @Param id path string true "NPC ID"
// @Param memory_type query string false "short_term or long_term"
// @Success 200 {object} MemoryDeleteResponse
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id}/memory [delete]
func (h *MemoryHandler) DeleteMemories(w http.ResponseWriter, r *http.Request) {
	npcID := chi.URLParam(r, "id")
	memoryType, err := model.ParseMemoryType(r.URL.Query().Get("memory_type"))
	if err != nil {
		fail(w, r, h.logger, "invalid memory type", err)
		return
	}
	n, err := h.memories.DeleteByTier(r.Context(), npcID, memoryType)
	if err != nil {
		fail(w, r, h.logger, "delete memories failed", err)
		return
	}
	response.JSON(w, http.StatusOK, MemoryDeleteResponse{NPCID: npcID, MemoryType: memoryType, Deleted: n})
}

// DeleteMemory handles DELETE /npc/{id}/memory/{memId}
// @Summary Delete one memory
// @Tags memory
// @Param id path string true "NPC ID"
// @Param memId path string true "Memory ID"
// @Success 204 "Deleted"
// @Failure 404 {object} response.ErrorResponse "NPC or memory not found"
// @Router /npc/{id}/memory/{memId} [delete]
func (h *MemoryHandler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.memories.Delete(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "memId")); err != nil {
		fail(w, r, h.logger, "delete memory failed", err)
		return
	}
	response.NoContent(w)
}
