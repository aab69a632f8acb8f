package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/npc"
	"github.com/npcforge/npcforge/pkg/vector"
)

const (
	defaultVectorTopK = 10
	maxVectorTopK     = 50
)

// VectorMemoriesResponse lists an NPC's episodic vectors.
type VectorMemoriesResponse struct {
	NPCID string       `json:"npc_id"`
	Query string       `json:"query,omitempty"`
	Hits  []vector.Hit `json:"memories"`
	Count int          `json:"count"`
}

// VectorHandler handles vector index inspection and maintenance.
type VectorHandler struct {
	index  *vector.Index
	source vector.Source
	npcs   *npc.Service
	logger logger.Logger
}

// NewVectorHandler creates a new vector handler. source supplies the
// authoritative documents for reindexing.
func NewVectorHandler(index *vector.Index, source vector.Source, svc *npc.Service, log logger.Logger) *VectorHandler {
	return &VectorHandler{index: index, source: source, npcs: svc, logger: orNop(log)}
}

// VectorMemories handles GET /npc/{id}/vector_memories
// @Summary Browse or search an NPC's episodic vectors
// @Description With a query the results are ranked by similarity; without one they are the newest indexed memories.
// @Tags vector
// @Produce json
// @Param id path string true "NPC ID"
// @Param query query string false "Search text"
// @Param top_k query int false "Maximum number of results" default(10)
// @Success 200 {object} VectorMemoriesResponse
// @Failure 400 {object} response.ErrorResponse "Invalid top_k"
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id}/vector_memories [get]
func (h *VectorHandler) VectorMemories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	npcID := chi.URLParam(r, "id")

	raw, err := queryInt(r, "top_k")
	if err != nil {
		fail(w, r, h.logger, "invalid top_k", err)
		return
	}
	topK, err := model.ResolveLimit("top_k", raw, defaultVectorTopK, maxVectorTopK)
	if err != nil {
		fail(w, r, h.logger, "invalid top_k", err)
		return
	}
	if _, err := h.npcs.GetNPC(ctx, npcID); err != nil {
		fail(w, r, h.logger, "get npc failed", err)
		return
	}

	where := map[string]string{vector.MetaNPCID: npcID}
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	var hits []vector.Hit
	if query != "" {
		hits, err = h.index.Search(ctx, vector.Episodic, query, topK, where)
	} else {
		hits, err = h.index.Browse(ctx, vector.Episodic, where, topK)
	}
	if err != nil {
		fail(w, r, h.logger, "vector lookup failed", err)
		return
	}
	if hits == nil {
		hits = []vector.Hit{}
	}
	response.JSON(w, http.StatusOK, VectorMemoriesResponse{NPCID: npcID, Query: query, Hits: hits, Count: len(hits)})
}

// Reindex handles POST /vector/reindex
// @Summary Rebuild one vector collection from its source store
// @Tags vector
// @Produce json
// @Param index_type query string true "episodic, persona or world"
// @Success 200 {object} vector.ReindexResult
// @Failure 400 {object} response.ErrorResponse "Invalid index type"
// @Router /vector/reindex [post]
func (h *VectorHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	kind, err := vector.ParseKind(r.URL.Query().Get("index_type"))
	if err != nil {
		fail(w, r, h.logger, "invalid index type", err)
		return
	}
	res, err := h.index.Reindex(r.Context(), kind, h.source)
	if err != nil {
		fail(w, r, h.logger, "reindex failed", err)
		return
	}
	h.logger.InfoContext(r.Context(), "vector collection rebuilt", "index_type", kind, "vectors", res.VectorsIndexed)
	response.JSON(w, http.StatusOK, res)
}

// Stats handles GET /vector/stats
// @Summary Vector collection statistics
// @Tags vector
// @Produce json
// @Success 200 {object} map[string]vector.CollectionStats
// @Router /vector/stats [get]
func (h *VectorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.index.Stats())
}
