package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/utils"
)

type downDB struct {
	*database.LocalDatabase
}

func (downDB) HealthCheck(context.Context) error { return errors.New("connection refused") }

func readyStatus(t *testing.T, h *HealthHandler) (int, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body struct {
		utils.APIResponse
		Data map[string]string `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body.Data
}

func TestReady(t *testing.T) {
	cfg := &config.Config{Environment: "test"}

	h := NewHealthHandler(cfg, database.NewLocalDatabase())
	h.Checks["nats"] = func() bool { return false }
	code, status := readyStatus(t, h)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if status["database"] != "healthy" || status["nats"] != "degraded" {
		t.Fatalf("body = %v", status)
	}

	h = NewHealthHandler(cfg, downDB{database.NewLocalDatabase()})
	code, status = readyStatus(t, h)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if status["database"] != "unhealthy: connection refused" {
		t.Fatalf("body = %v", status)
	}
}
