package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/npc"
	"github.com/npcforge/npcforge/pkg/trace"
)

// TraceListResponse is a page of traces.
type TraceListResponse struct {
	NPCID  string         `json:"npc_id"`
	Traces []*model.Trace `json:"traces"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Count  int            `json:"count"`
}

// TraceDeleteResponse reports a bulk trace deletion.
type TraceDeleteResponse struct {
	NPCID   string `json:"npc_id"`
	Deleted int    `json:"deleted"`
}

// TraceHandler handles inference trace endpoints.
type TraceHandler struct {
	traces *trace.Recorder
	npcs   *npc.Service
	logger logger.Logger
}

// NewTraceHandler creates a new trace handler.
func NewTraceHandler(traces *trace.Recorder, svc *npc.Service, log logger.Logger) *TraceHandler {
	return &TraceHandler{traces: traces, npcs: svc, logger: orNop(log)}
}

// ListTraces handles GET /npc/{id}/traces
// @Summary List an NPC's inference traces
// @Tags trace
// @Produce json
// @Param id path string true "NPC ID"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset for pagination" default(0)
// @Success 200 {object} TraceListResponse
// @Failure 400 {object} response.ErrorResponse "Invalid paging"
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id}/traces [get]
func (h *TraceHandler) ListTraces(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	npcID := chi.URLParam(r, "id")

	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, h.logger, "invalid limit", err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		fail(w, r, h.logger, "invalid offset", err)
		return
	}
	if _, err := h.npcs.GetNPC(ctx, npcID); err != nil {
		fail(w, r, h.logger, "get npc failed", err)
		return
	}
	traces, total, err := h.traces.List(ctx, npcID, limit, offset)
	if err != nil {
		fail(w, r, h.logger, "list traces failed", err)
		return
	}
	response.JSON(w, http.StatusOK, TraceListResponse{
		NPCID:  npcID,
		Traces: traces,
		Total:  total,
		Offset: offset,
		Count:  len(traces),
	})
}

// DeleteTraces handles DELETE /npc/{id}/traces
// @Summary Delete every trace of an NPC
// @Tags trace
// @Produce json
// @Param id path string true "NPC ID"
// @Success 200 {object} TraceDeleteResponse
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Router /npc/{id}/traces [delete]
func (h *TraceHandler) DeleteTraces(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	npcID := chi.URLParam(r, "id")
	if _, err := h.npcs.GetNPC(ctx, npcID); err != nil {
		fail(w, r, h.logger, "get npc failed", err)
		return
	}
	n, err := h.traces.DeleteByNPC(ctx, npcID)
	if err != nil {
		fail(w, r, h.logger, "delete traces failed", err)
		return
	}
	response.JSON(w, http.StatusOK, TraceDeleteResponse{NPCID: npcID, Deleted: n})
}

// GetTrace handles GET /trace/{id}
// @Summary Get one inference trace
// @Tags trace
// @Produce json
// @Param id path string true "Trace ID"
// @Success 200 {object} model.Trace
// @Failure 404 {object} response.ErrorResponse "Trace not found"
// @Router /trace/{id} [get]
func (h *TraceHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	t, err := h.traces.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "get trace failed", err)
		return
	}
	response.JSON(w, http.StatusOK, t)
}

// DeleteTrace handles DELETE /trace/{id}
// @Summary Delete one inference trace
// @Tags trace
// @Param id path string true "Trace ID"
// @Success 204 "Deleted"
// @Failure 404 {object} response.ErrorResponse "Trace not found"
// @Router /trace/{id} [delete]
func (h *TraceHandler) DeleteTrace(w http.ResponseWriter, r *http.Request) {
	if err := h.traces.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, h.logger, "delete trace failed", err)
		return
	}
	response.NoContent(w)
}
