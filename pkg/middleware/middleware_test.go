package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/utils"
)

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func contextWithUser(r *http.Request, u *models.User) context.Context {
	return context.WithValue(r.Context(), UserContextKey, u)
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body utils.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

func TestAuthMiddleware(t *testing.T) {
	jwt := utils.NewJWTService("secret")
	user := &models.User{ID: "u1", Email: "dom@example.com", Role: models.RoleDom}
	access, refresh, _, err := jwt.GenerateTokenPair(user)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}

	var seen *models.User
	h := AuthMiddleware(jwt)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized},
		{"other secret", "Bearer " + mustToken(t, utils.NewJWTService("other"), user), http.StatusUnauthorized},
		{"valid", "Bearer " + access, http.StatusOK},
		{"lowercase scheme", "bearer " + access, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK {
				if seen == nil || seen.ID != "u1" || seen.Role != models.RoleDom {
					t.Errorf("user in context = %+v", seen)
				}
			} else if code := decodeCode(t, rec); code != "UNAUTHORIZED" {
				t.Errorf("code = %q", code)
			}
		})
	}
}

func mustToken(t *testing.T, jwt *utils.JWTService, user *models.User) string {
	t.Helper()
	token, _, err := jwt.GenerateAccessToken(user)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

func TestOptionalAuthMiddleware(t *testing.T) {
	jwt := utils.NewJWTService("secret")
	token := mustToken(t, jwt, &models.User{ID: "u1", Role: models.RoleSub})

	var authed bool
	h := OptionalAuthMiddleware(jwt)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, authed = GetUserFromContext(r.Context())
	}))

	for header, want := range map[string]bool{"": false, "Bearer junk": false, "Bearer " + token: true} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || authed != want {
			t.Errorf("header %q: status %d authed %v", header, rec.Code, authed)
		}
	}
}

func TestRequireRole(t *testing.T) {
	guard := RequireRole(models.RoleDom, models.RoleAdmin)(http.HandlerFunc(ok))

	tests := []struct {
		name   string
		user   *models.User
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"sub", &models.User{ID: "s", Role: models.RoleSub}, http.StatusForbidden},
		{"dom", &models.User{ID: "d", Role: models.RoleDom}, http.StatusNoContent},
		{"admin", &models.User{ID: "a", Role: models.RoleAdmin}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.user != nil {
				req = req.WithContext(contextWithUser(req, tt.user))
			}
			rec := httptest.NewRecorder()
			guard.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := RequireUser(req.Context()); err == nil {
		t.Fatal("expected an error without a user")
	}
	u := &models.User{ID: "x"}
	got, err := RequireUser(contextWithUser(req, u))
	if err != nil || got != u {
		t.Fatalf("RequireUser = %v, %v", got, err)
	}
}

func TestContentTypeJSON(t *testing.T) {
	h := ContentTypeJSON(http.HandlerFunc(ok))

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		status      int
	}{
		{"get passes", http.MethodGet, "", "", http.StatusNoContent},
		{"json", http.MethodPost, "application/json", "{}", http.StatusNoContent},
		{"json with charset", http.MethodPut, "application/json; charset=utf-8", "{}", http.StatusNoContent},
		{"empty post", http.MethodPost, "", "", http.StatusNoContent},
		{"form", http.MethodPost, "application/x-www-form-urlencoded", "a=b", http.StatusBadRequest},
		{"body without type", http.MethodPatch, "", "{}", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRateLimitByIP(t *testing.T) {
	h := RateLimitByIP(2)(http.HandlerFunc(ok))

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && decodeCode(t, rec) != "RATE_LIMITED" {
			t.Error("rate limit response not enveloped")
		}
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("other client limited: %d", rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	for _, env := range []string{"development", "production"} {
		t.Run(env, func(t *testing.T) {
			cfg := &config.Config{Environment: env}
			rec := httptest.NewRecorder()
			Recovery(cfg)(panicky).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			leaked := strings.Contains(rec.Body.String(), "boom")
			if leaked != (env == "development") {
				t.Errorf("panic value exposed = %v in %s", leaked, env)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	var path, host, scheme string
	h := Normalize()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, host, scheme = r.URL.Path, r.Host, r.URL.Scheme
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/invitations/ABCD1234%20", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "api.example.com")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if path != "/api/invitations/ABCD1234" || host != "api.example.com" || scheme != "https" {
		t.Errorf("got path=%q host=%q scheme=%q", path, host, scheme)
	}
}

func TestLoggerWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	h := chimw.RequestID(Logger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %q", buf.String())
	}
	var access map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &access); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if access["status"] != float64(http.StatusTeapot) || access["path"] != "/brew" || access["level"] != "warn" {
		t.Errorf("access line = %v", access)
	}
	if access["req_id"] == nil || !strings.Contains(lines[0], `"req_id"`) {
		t.Errorf("request id missing: %q", buf.String())
	}
}
