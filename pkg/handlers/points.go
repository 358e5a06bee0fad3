package handlers

import (
	"net/http"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/services"
	"underneath-backend/pkg/utils"
)

type PointsHandler struct {
	config *config.Config
	points *services.PointsService
}

func NewPointsHandler(cfg *config.Config, points *services.PointsService) *PointsHandler {
	return &PointsHandler{config: cfg, points: points}
}

// Award POST /api/points/award
func (h *PointsHandler) Award(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.AwardPointsRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := h.points.AwardPoints(r.Context(), user.ID, req.Points, req.Reason)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, acct)
}

// Progress GET /api/points/progress
func (h *PointsHandler) Progress(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	p, err := h.points.GetProgress(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, p)
}
