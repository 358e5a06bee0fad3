package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/config"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/services"
	"underneath-backend/pkg/utils"
)

// InvitationsHandler serves the invitation endpoints
type InvitationsHandler struct {
	config      *config.Config
	invitations *services.InvitationManager
}

func NewInvitationsHandler(cfg *config.Config, invitations *services.InvitationManager) *InvitationsHandler {
	return &InvitationsHandler{config: cfg, invitations: invitations}
}

type createInvitationResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	EmailSent bool      `json:"emailSent"`
}

// Create POST /api/invitations
func (h *InvitationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.CreateInvitationRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.invitations.Create(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteCreatedResponse(w, createInvitationResponse{
		Code:      res.Invitation.Code,
		ExpiresAt: res.Invitation.ExpiresAt,
		EmailSent: res.EmailSent,
	})
}

// List GET /api/invitations
func (h *InvitationsHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.invitations.ListForDom(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, list)
}

// Revoke DELETE /api/invitations/{code}
func (h *InvitationsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if err := h.invitations.Revoke(r.Context(), user.ID, code); err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]bool{"revoked": true})
}

type validateResponse struct {
	IsValid    bool               `json:"isValid"`
	Invitation *models.Invitation `json:"invitation,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// Validate POST /api/invitations/validate. An unusable code is a 200 with
// isValid=false and the reason code.
func (h *InvitationsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req models.InvitationCodeRequest
	if !decode(w, r, &req) {
		return
	}
	inv, err := h.invitations.Validate(r.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		if _, coded := apperrors.As(err); !coded {
			writeError(w, r, h.config, err)
			return
		}
		utils.WriteSuccessResponse(w, validateResponse{Reason: string(apperrors.CodeOf(err))})
		return
	}
	utils.WriteSuccessResponse(w, validateResponse{IsValid: true, Invitation: inv})
}

type acceptResponse struct {
	Success    bool               `json:"success"`
	Connection *models.Connection `json:"connection"`
}

// Accept POST /api/invitations/accept
func (h *InvitationsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.InvitationCodeRequest
	if !decode(w, r, &req) {
		return
	}
	conn, err := h.invitations.CreateConnection(r.Context(), strings.TrimSpace(req.Code), user.ID)
	if err != nil {
		writeError(w, r, h.config, err)
		return
	}
	utils.WriteCreatedResponse(w, acceptResponse{Success: true, Connection: conn})
}
