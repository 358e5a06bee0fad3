// Package services implements invitations, connections, stage progression,
// stage-scoped entities, points and accounts on top of the store.
package services

import (
	"errors"
	"fmt"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/database"
)

// Sentinels for errors.Is checks; matching is by code.
var (
	ErrInvitationNotFound    = apperrors.New(apperrors.CodeInvitationNotFound, "Invitation not found")
	ErrInvitationExpired     = apperrors.New(apperrors.CodeInvitationExpired, "Invitation has expired")
	ErrInvitationAlreadyUsed = apperrors.New(apperrors.CodeInvitationAlreadyUsed, "Invitation has already been used")
	ErrInvalidCode           = apperrors.New(apperrors.CodeInvalidCode, "Invalid invitation code")
	ErrDomAlreadyConnected   = apperrors.New(apperrors.CodeDomAlreadyConnected, "DOM already has an active connection")
	ErrSubAlreadyConnected   = apperrors.New(apperrors.CodeSubAlreadyConnected, "SUB already has an active connection")
	ErrNoActiveConnection    = apperrors.New(apperrors.CodeNoActiveConnection, "No active connection")
	ErrStageNotFound         = apperrors.New(apperrors.CodeStageNotFound, "Stage not found")
	ErrStageNumberTaken      = apperrors.New(apperrors.CodeStageNumberTaken, "Stage number already exists")
	ErrSubActiveConflict     = apperrors.New(apperrors.CodeSubActiveConflict, "Another stage is already active for the SUB")
	ErrEntityNotFound        = apperrors.New(apperrors.CodeEntityNotFound, "Entity not found")
	ErrAlreadyCompleted      = apperrors.New(apperrors.CodeAlreadyCompleted, "Entity is already completed")
	ErrUserNotFound          = apperrors.New(apperrors.CodeUserNotFound, "User not found")
	ErrEmailTaken            = apperrors.New(apperrors.CodeEmailTaken, "Email is already registered")
	ErrInvalidCredentials    = apperrors.New(apperrors.CodeInvalidCredentials, "Invalid email or password")
	ErrForbidden             = apperrors.New(apperrors.CodeForbidden, "Forbidden")
	ErrUnauthorized          = apperrors.New(apperrors.CodeUnauthorized, "Unauthorized")
)

// notFound maps database.ErrNotFound onto coded, other errors onto an
// internal error annotated with op.
func notFound(err error, coded *apperrors.Error, op string) error {
	if errors.Is(err, database.ErrNotFound) {
		return coded
	}
	return fmt.Errorf("%s: %w", op, err)
}

func forbidden(message string) error {
	return apperrors.New(apperrors.CodeForbidden, message)
}
