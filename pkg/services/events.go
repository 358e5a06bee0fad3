package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"underneath-backend/pkg/bus"
	"underneath-backend/pkg/telemetry"
)

// InvitationCreatedEvent is published on bus.SubjectInvitationCreated
type InvitationCreatedEvent struct {
	InvitationID string    `json:"invitationId"`
	DomID        string    `json:"domId"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	EmailSent    bool      `json:"emailSent"`
}

// ConnectionEvent is published when a connection is created or terminated
type ConnectionEvent struct {
	ConnectionID string    `json:"connectionId"`
	DomID        string    `json:"domId"`
	SubID        string    `json:"subId"`
	Status       string    `json:"status"`
	ActorID      string    `json:"actorId"`
	At           time.Time `json:"at"`
}

// publish is best effort: a failed publish is logged, never returned.
func publish(ctx context.Context, events bus.Publisher, subject string, v any) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, subject, v); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
