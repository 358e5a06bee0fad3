package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/config"
	"underneath-backend/pkg/middleware"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/utils"
)

// writeError logs uncoded failures and writes the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, cfg *config.Config, err error) {
	if apperrors.CodeOf(err) == apperrors.CodeInternal {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	utils.WriteAppError(w, err, cfg.IsDevelopment())
}

// currentUser returns the authenticated caller or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return nil, false
	}
	return user, true
}

// decode parses the JSON body into v or writes a 400.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := utils.ParseJSONBody(r, v); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return false
	}
	return true
}
