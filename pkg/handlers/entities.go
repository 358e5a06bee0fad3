package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/services"
	"underneath-backend/pkg/utils"
)

type EntitiesHandler struct {
	config   *config.Config
	entities *services.EntityService
}

func NewEntitiesHandler(cfg *config.Config, entities *services.EntityService) *EntitiesHandler {
	return &EntitiesHandler{config: cfg, entities: entities}
}

// GET /api/entities?kind=&stage=
func (h *EntitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	kind := models.EntityKind(strings.ToUpper(r.URL.Query().Get("kind")))
	switch kind {
	case "", models.KindTask, models.KindRule, models.KindGoal:
	default:
		utils.WriteBadRequestResponse(w, "kind must be TASK, RULE or GOAL")
		return
	}
	stage, err := utils.GetQueryInt(r, "stage", 0)
	if err != nil || stage < 0 {
		utils.WriteBadRequestResponse(w, "stage must be a non-negative integer")
		return
	}

	list, err := h.entities.ListEntities(r.Context(), user.ID, kind, stage)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, list)
}

// POST /api/entities
func (h *EntitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.EntityRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.entities.CreateEntity(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteCreatedResponse(w, e)
}

// PUT /api/entities/{id}
func (h *EntitiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.EntityRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.entities.UpdateEntity(r.Context(), user.ID, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, e)
}

// DELETE /api/entities/{id}
func (h *EntitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.entities.DeleteEntity(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]bool{"deleted": true})
}

// POST /api/entities/{id}/complete
func (h *EntitiesHandler) Complete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	res, err := h.entities.CompleteEntity(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, res)
}
