package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/validation"
)

func TestGenerateInvitationCodeShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateInvitationCode(8)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !validation.IsValidInvitationCode(code) {
			t.Fatalf("generated code %q does not match the code format", code)
		}
	}
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret")
	user := &models.User{ID: "u-1", Email: "dom@example.com", Role: models.RoleDom}

	access, refresh, exp, err := svc.GenerateTokenPair(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if exp <= time.Now().Unix() {
		t.Fatalf("expiry %d is not in the future", exp)
	}

	claims, err := svc.ValidateAccessToken(access)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if claims.UserID != "u-1" || claims.Role != models.RoleDom {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := svc.ValidateAccessToken(refresh); err == nil {
		t.Fatal("refresh token must not pass as access token")
	}
	if _, err := svc.ValidateRefreshToken(refresh); err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if _, err := NewJWTService("other-secret").ValidateToken(access); err == nil {
		t.Fatal("token signed with another secret must fail")
	}
}

func TestJWTExpired(t *testing.T) {
	svc := NewJWTService("test-secret")
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := svc.GenerateAccessToken(&models.User{ID: "u-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	svc.now = time.Now
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestWriteAppErrorValidation(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAppError(rec, apperrors.Validation("invalid input", []string{"a", "b"}), false)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Error == nil || body.Error.Code != "VALIDATION_ERROR" || len(body.Error.Errors) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestWriteAppErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAppError(rec, errString("db exploded"), false)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db exploded") {
		t.Fatal("internal error leaked to client")
	}
}

func TestParseJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"X","extra":1}`))
	var v models.InvitationCodeRequest
	if err := ParseJSONBody(req, &v); err == nil {
		t.Fatal("expected unknown field error")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := ParseJSONBody(req, &v); err != nil {
		t.Fatalf("empty body should be accepted: %v", err)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
