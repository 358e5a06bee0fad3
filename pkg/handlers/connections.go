package handlers

import (
	"net/http"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/services"
	"underneath-backend/pkg/utils"
)

type ConnectionsHandler struct {
	config      *config.Config
	connections *services.ConnectionManager
}

func NewConnectionsHandler(cfg *config.Config, connections *services.ConnectionManager) *ConnectionsHandler {
	return &ConnectionsHandler{config: cfg, connections: connections}
}

// GET /api/connections/my-connection
func (h *ConnectionsHandler) MyConnection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	view, err := h.connections.GetConnection(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, struct {
		HasConnection bool                   `json:"hasConnection"`
		Connection    *models.ConnectionView `json:"connection"`
	}{view != nil, view})
}

// GET /api/connections/availability
func (h *ConnectionsHandler) Availability(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	available, err := h.connections.CheckAvailability(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]bool{"available": available})
}

// GET /api/connections/history
func (h *ConnectionsHandler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.connections.History(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, list)
}

// POST /api/connections/terminate
func (h *ConnectionsHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	conn, err := h.connections.TerminateConnection(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]any{"success": true, "connection": conn})
}
