package handlers

import (
	"context"
	"net/http"
	"time"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/utils"
)

const serviceName = "underneath-backend"

// Version is overridden at build time with -ldflags.
var Version = "dev"

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config *config.Config
	db     database.DatabaseInterface
	// Checks are extra readiness checks keyed by dependency name.
	Checks map[string]func() bool
}

func NewHealthHandler(cfg *config.Config, db database.DatabaseInterface) *HealthHandler {
	return &HealthHandler{config: cfg, db: db, Checks: map[string]func() bool{}}
}

// Root GET /
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     serviceName,
		"version":     Version,
		"environment": h.config.Environment,
		"database":    h.config.DatabaseDriver,
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	})
}

// Live GET /healthz
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccessResponse(w, map[string]string{"status": "ok"})
}

// Ready GET /readyz. 503 while the database is unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"database": "healthy"}
	ready := true
	if err := h.db.HealthCheck(ctx); err != nil {
		status["database"] = "unhealthy: " + err.Error()
		ready = false
	}
	for name, check := range h.Checks {
		if check() {
			status[name] = "healthy"
		} else {
			// optional dependencies degrade, they do not fail readiness
			status[name] = "degraded"
		}
	}

	if !ready {
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, status)
		return
	}
	utils.WriteSuccessResponse(w, status)
}
