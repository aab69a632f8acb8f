package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/npc"
)

// PersonaListResponse wraps a persona listing.
type PersonaListResponse struct {
	Personas []*model.Persona `json:"personas"`
	Count    int              `json:"count"`
}

// FactListResponse wraps a persona fact listing.
type FactListResponse struct {
	Facts []*model.PersonaFact `json:"facts"`
	Count int                  `json:"count"`
}

// PersonaHandler handles persona and persona fact endpoints.
type PersonaHandler struct {
	npcs   *npc.Service
	logger logger.Logger
}

// NewPersonaHandler creates a new persona handler.
func NewPersonaHandler(svc *npc.Service, log logger.Logger) *PersonaHandler {
	return &PersonaHandler{npcs: svc, logger: orNop(log)}
}

// CreatePersona handles POST /persona/create
// @Summary Create a persona
// @Tags persona
// @Accept json
// @Produce json
// @Param persona body model.PersonaInput true "Persona definition"
// @Success 201 {object} model.Persona
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Router /persona/create [post]
func (h *PersonaHandler) CreatePersona(w http.ResponseWriter, r *http.Request) {
	var in model.PersonaInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid persona body", err)
		return
	}
	p, err := h.npcs.CreatePersona(r.Context(), in)
	if err != nil {
		fail(w, r, h.logger, "create persona failed", err)
		return
	}
	response.JSON(w, http.StatusCreated, p)
}

// ListPersonas handles GET /persona
// @Summary List personas
// @Tags persona
// @Produce json
// @Success 200 {object} PersonaListResponse
// @Router /persona [get]
func (h *PersonaHandler) ListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := h.npcs.ListPersonas(r.Context())
	if err != nil {
		fail(w, r, h.logger, "list personas failed", err)
		return
	}
	response.JSON(w, http.StatusOK, PersonaListResponse{Personas: personas, Count: len(personas)})
}

// GetPersona handles GET /persona/{id}
// @Summary Get a persona
// @Tags persona
// @Produce json
// @Param id path string true "Persona ID"
// @Success 200 {object} model.Persona
// @Failure 404 {object} response.ErrorResponse "Persona not found"
// @Router /persona/{id} [get]
func (h *PersonaHandler) GetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := h.npcs.GetPersona(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "get persona failed", err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

// UpdatePersona handles PUT /persona/{id}
// @Summary Replace a persona
// @Tags persona
// @Accept json
// @Produce json
// @Param id path string true "Persona ID"
// @Param persona body model.PersonaInput true "Persona definition"
// @Success 200 {object} model.Persona
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Failure 404 {object} response.ErrorResponse "Persona not found"
// @Router /persona/{id} [put]
func (h *PersonaHandler) UpdatePersona(w http.ResponseWriter, r *http.Request) {
	var in model.PersonaInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid persona body", err)
		return
	}
	p, err := h.npcs.UpdatePersona(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, h.logger, "update persona failed", err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

// DeletePersona handles DELETE /persona/{id}
// @Summary Delete a persona
// @Description Personas still referenced by an NPC cannot be deleted.
// @Tags persona
// @Produce json
// @Param id path string true "Persona ID"
// @Success 200 {object} npc.DeleteResult
// @Failure 400 {object} response.ErrorResponse "Persona in use"
// @Failure 404 {object} response.ErrorResponse "Persona not found"
// @Router /persona/{id} [delete]
func (h *PersonaHandler) DeletePersona(w http.ResponseWriter, r *http.Request) {
	res, err := h.npcs.DeletePersona(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, "delete persona failed", err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// ListFacts handles GET /persona/{id}/facts
// @Summary List persona facts
// @Tags persona
// @Produce json
// @Param id path string true "Persona ID"
// @Param npc_id query string false "Only facts learned by this NPC"
// @Success 200 {object} FactListResponse
// @Failure 404 {object} response.ErrorResponse "Persona not found"
// @Router /persona/{id}/facts [get]
func (h *PersonaHandler) ListFacts(w http.ResponseWriter, r *http.Request) {
	facts, err := h.npcs.ListFacts(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("npc_id"))
	if err != nil {
		fail(w, r, h.logger, "list facts failed", err)
		return
	}
	response.JSON(w, http.StatusOK, FactListResponse{Facts: facts, Count: len(facts)})
}

// AddFact handles POST /persona/{id}/facts
// @Summary Add a persona fact
// @Tags persona
// @Accept json
// @Produce json
// @Param id path string true "Persona ID"
// @Param fact body model.PersonaFactInput true "Fact"
// @Success 201 {object} model.PersonaFact
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Failure 404 {object} response.ErrorResponse "Persona not found"
// @Router /persona/{id}/facts [post]
func (h *PersonaHandler) AddFact(w http.ResponseWriter, r *http.Request) {
	var in model.PersonaFactInput
	if err := decodeJSON(r, &in); err != nil {
		fail(w, r, h.logger, "invalid fact body", err)
		return
	}
	f, err := h.npcs.AddFact(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, h.logger, "add fact failed", err)
		return
	}
	response.JSON(w, http.StatusCreated, f)
}
