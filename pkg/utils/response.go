package utils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"underneath-backend/pkg/apperrors"
)

// APIResponse is the envelope every endpoint answers with
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError describes a failed request
type APIError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details string   `json:"details,omitempty"`
	Errors  []string `json:"errors,omitempty"` // every violated rule for validation errors
}

// WriteJSONResponse writes data inside the envelope
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeEnvelope(w, statusCode, APIResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	})
}

// WriteSuccessResponse writes a 200
func WriteSuccessResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusOK, data)
}

// WriteCreatedResponse writes a 201
func WriteCreatedResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusCreated, data)
}

// WriteErrorResponse writes a generic error
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	WriteErrorResponseWithCode(w, statusCode, "ERROR", message, "")
}

// WriteErrorResponseWithCode writes an error with an explicit code
func WriteErrorResponseWithCode(w http.ResponseWriter, statusCode int, code, message, details string) {
	writeEnvelope(w, statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func WriteBadRequestResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusBadRequest, string(apperrors.CodeBadRequest), message, "")
}

func WriteUnauthorizedResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusUnauthorized, string(apperrors.CodeUnauthorized), message, "")
}

func WriteForbiddenResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusForbidden, string(apperrors.CodeForbidden), message, "")
}

func WriteNotFoundResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusNotFound, "NOT_FOUND", message, "")
}

func WriteInternalServerErrorResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusInternalServerError, string(apperrors.CodeInternal), message, "")
}

// WriteAppError writes a coded service error. Uncoded errors become a 500 whose
// details are only exposed when exposeInternal is set (development).
func WriteAppError(w http.ResponseWriter, err error, exposeInternal bool) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code == apperrors.CodeInternal {
		details := ""
		if exposeInternal && err != nil {
			details = err.Error()
		}
		WriteErrorResponseWithCode(w, http.StatusInternalServerError, string(apperrors.CodeInternal),
			"Internal server error occurred", details)
		return
	}

	writeEnvelope(w, appErr.Code.HTTPStatus(), APIResponse{
		Success: false,
		Error: &APIError{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Errors:  appErr.Errors,
		},
	})
}

func writeEnvelope(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// ParseJSONBody decodes the request body into v, rejecting unknown fields.
// An empty body is accepted and leaves v untouched.
func ParseJSONBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// GetQueryParam returns the query value or defaultValue when absent
func GetQueryParam(r *http.Request, key, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

// GetQueryInt parses an integer query value; absent yields defaultValue.
func GetQueryInt(r *http.Request, key string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(raw)
}
