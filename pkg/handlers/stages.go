package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/services"
	"underneath-backend/pkg/utils"
)

// StagesHandler 阶段处理器
type StagesHandler struct {
	config *config.Config
	stages *services.StageTracker
}

func NewStagesHandler(cfg *config.Config, stages *services.StageTracker) *StagesHandler {
	return &StagesHandler{config: cfg, stages: stages}
}

// List GET /api/stages. A DOM's counts cover its own entities.
func (h *StagesHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	owner := ""
	if user.Role == models.RoleDom {
		owner = user.ID
	}
	list, err := h.stages.GetAllStages(r.Context(), owner)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, list)
}

// Create POST /api/stages
func (h *StagesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.StageRequest
	if !decode(w, r, &req) {
		return
	}
	stage, err := h.stages.CreateStage(r.Context(), req)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteCreatedResponse(w, stage)
}

// Update PUT /api/stages/{id}
func (h *StagesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.StageRequest
	if !decode(w, r, &req) {
		return
	}
	stage, err := h.stages.UpdateStage(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, stage)
}

// Delete DELETE /api/stages/{id}
func (h *StagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.stages.DeleteStage(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]bool{"deleted": true})
}

// Toggle returns the PATCH handler for one of the stage flags.
func (h *StagesHandler) Toggle(flag models.StageFlag) http.HandlerFunc {
	toggle := h.stages.ToggleSubLocked
	switch flag {
	case models.FlagSubActive:
		toggle = h.stages.ToggleSubActive
	case models.FlagSubVisible:
		toggle = h.stages.ToggleSubVisible
	}

	return func(w http.ResponseWriter, r *http.Request) {
		stage, err := toggle(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, h.config, err)
			return
		}
		utils.WriteSuccessResponse(w, stage)
	}
}
