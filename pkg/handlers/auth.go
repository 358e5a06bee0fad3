package handlers

import (
	"net/http"
	"strings"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/services"
	"underneath-backend/pkg/utils"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	config *config.Config
	users  *services.UserService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.Config, users *services.UserService) *AuthHandler {
	return &AuthHandler{config: cfg, users: users}
}

// Register POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.UserRegisterRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.users.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteCreatedResponse(w, res)
}

// Login POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.UserLoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.users.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, res)
}

// Refresh POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		utils.WriteBadRequestResponse(w, "Refresh token is required")
		return
	}
	res, err := h.users.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, res)
}

// Me GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := h.users.Me(r.Context(), caller.ID)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, user)
}
