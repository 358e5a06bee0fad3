// Package apperrors defines the coded errors returned by the service layer and
// their mapping onto HTTP status codes.
package apperrors

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code sent to clients.
type Code string

const (
	CodeInternal    Code = "INTERNAL_SERVER_ERROR"
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeBadRequest  Code = "BAD_REQUEST"
	CodeRateLimited Code = "RATE_LIMITED"

	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"

	// Invitation errors
	CodeInvalidCode           Code = "INVALID_CODE"
	CodeInvitationNotFound    Code = "INVITATION_NOT_FOUND"
	CodeInvitationExpired     Code = "INVITATION_EXPIRED"
	CodeInvitationAlreadyUsed Code = "INVITATION_ALREADY_USED"

	// Connection errors
	CodeDomAlreadyConnected Code = "DOM_ALREADY_CONNECTED"
	CodeSubAlreadyConnected Code = "SUB_ALREADY_CONNECTED"
	CodeNoActiveConnection  Code = "NO_ACTIVE_CONNECTION"

	// Stage and entity errors
	CodeStageNotFound     Code = "STAGE_NOT_FOUND"
	CodeStageNumberTaken  Code = "STAGE_NUMBER_TAKEN"
	CodeSubActiveConflict Code = "SUB_ACTIVE_CONFLICT"
	CodeEntityNotFound    Code = "ENTITY_NOT_FOUND"
	CodeAlreadyCompleted  Code = "ALREADY_COMPLETED"

	// Account errors
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeEmailTaken         Code = "EMAIL_TAKEN"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
)

// HTTPStatus maps a code onto the response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeBadRequest, CodeInvalidCode:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInvitationNotFound, CodeStageNotFound, CodeEntityNotFound, CodeUserNotFound:
		return http.StatusNotFound
	case CodeInvitationExpired, CodeInvitationAlreadyUsed:
		return http.StatusGone
	case CodeDomAlreadyConnected, CodeSubAlreadyConnected, CodeNoActiveConnection,
		CodeStageNumberTaken, CodeSubActiveConflict, CodeEmailTaken, CodeAlreadyCompleted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a coded error with an optional list of rule violations.
type Error struct {
	Code    Code
	Message string
	Errors  []string // every violated rule, for validation failures
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation creates a VALIDATION_ERROR carrying every violation.
func Validation(message string, violations []string) *Error {
	return &Error{Code: CodeValidation, Message: message, Errors: violations}
}

// CodeOf returns the code of the outermost *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
