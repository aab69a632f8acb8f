package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/tools"
)

// ToolDefinitionsResponse is the LLM-facing tool listing.
type ToolDefinitionsResponse struct {
	Tools     []*model.ToolDefinition `json:"tools"`
	ToolNames []string                `json:"tool_names"`
	Count     int                     `json:"count"`
}

// ToolListResponse lists dynamic tool records.
type ToolListResponse struct {
	Tools []*model.ToolDefinition `json:"tools"`
	Count int                     `json:"count"`
}

// ToolHandler handles tool registry endpoints.
type ToolHandler struct {
	registry *tools.Registry
	logger   logger.Logger
}

// NewToolHandler creates a new tool handler.
func NewToolHandler(registry *tools.Registry, log logger.Logger) *ToolHandler {
	return &ToolHandler{registry: registry, logger: orNop(log)}
}

// Definitions handles GET /tools
// @Summary Tool definitions offered to the reasoning backend
// @Tags tools
// @Produce json
// @Success 200 {object} ToolDefinitionsResponse
// @Router /tools [get]
func (h *ToolHandler) Definitions(w http.ResponseWriter, r *http.Request) {
	defs := h.registry.Definitions()
	response.JSON(w, http.StatusOK, ToolDefinitionsResponse{
		Tools:     defs,
		ToolNames: h.registry.Names(),
		Count:     len(defs),
	})
}

// CreateTool handles POST /tool/create
// @Summary Register a dynamic tool
// @Description The code must define Execute(args, ctx map[string]interface{}) (map[string]interface{}, error).
// @Tags tools
// @Accept json
// @Produce json
// @Param tool body model.ToolInput true "Tool"
// @Success 201 {object} model.ToolDefinition
// @Failure 400 {object} response.ErrorResponse "Invalid name, schema or code"
// @Failure 409 {object} response.ErrorResponse "Name already taken"
// @Router /tool/create [post]
func (h *ToolHandler) CreateTool(w http.ResponseWriter, r *http.Request) {
	var in model.ToolInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid tool body", err)
		return
	}
	def, err := h.registry.Create(r.Context(), in)
	if err != nil {
		fail(w, r, h.logger, "create tool failed", err)
		return
	}
	response.JSON(w, http.StatusCreated, def)
}

// ListTools handles GET /tool
// @Summary List dynamic tools
// @Tags tools
// @Produce json
// @Success 200 {object} ToolListResponse
// @Router /tool [get]
func (h *ToolHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()
	response.JSON(w, http.StatusOK, ToolListResponse{Tools: list, Count: len(list)})
}

// GetTool handles GET /tool/{id}
// @Summary Get a dynamic tool
// @Tags tools
// @Produce json
// @Param id path string true "Tool ID"
// @Success 200 {object} model.ToolDefinition
// @Failure 404 {object} response.ErrorResponse "Tool not found"
// @Router /tool/{id} [get]
func (h *ToolHandler) GetTool(w http.ResponseWriter, r *http.Request) {
	def, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "get tool failed", err)
		return
	}
	response.JSON(w, http.StatusOK, def)
}

// UpdateTool handles PUT /tool/{id}
// @Summary Replace a dynamic tool
// @Tags tools
// @Accept json
// @Produce json
// @Param id path string true "Tool ID"
// @Param tool body model.ToolInput true "Tool"
// @Success 200 {object} model.ToolDefinition
// @Failure 400 {object} response.ErrorResponse "Invalid name, schema or code"
// @Failure 404 {object} response.ErrorResponse "Tool not found"
// @Failure 409 {object} response.ErrorResponse "Name already taken"
// @Router /tool/{id} [put]
func (h *ToolHandler) UpdateTool(w http.ResponseWriter, r *http.Request) {
	var in model.ToolInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid tool body", err)
		return
	}
	def, err := h.registry.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, h.logger, "update tool failed", err)
		return
	}
	response.JSON(w, http.StatusOK, def)
}

// DeleteTool handles DELETE /tool/{id}
// @Summary Delete a dynamic tool
// @Tags tools
// @Param id path string true "Tool ID"
// @Success 204 "Deleted"
// @Failure 404 {object} response.ErrorResponse "Tool not found"
// @Router /tool/{id} [delete]
func (h *ToolHandler) DeleteTool(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, h.logger, "delete tool failed", err)
		return
	}
	response.NoContent(w)
}
