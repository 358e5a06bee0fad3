package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"underneath-backend/pkg/bus"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/metrics"
	"underneath-backend/pkg/models"
)

// ConnectionManager owns the one-active-connection-per-user invariant.
type ConnectionManager struct {
	db      database.DatabaseInterface
	events  bus.Publisher
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewConnectionManager(db database.DatabaseInterface, events bus.Publisher, m *metrics.Metrics) *ConnectionManager {
	return &ConnectionManager{db: db, events: events, metrics: m, now: time.Now}
}

// GetConnection returns the caller's active connection with a partner
// summary, or nil when there is none.
func (c *ConnectionManager) GetConnection(ctx context.Context, userID string) (*models.ConnectionView, error) {
	conn, err := c.db.GetActiveConnection(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	view := &models.ConnectionView{
		ID:        conn.ID,
		Status:    conn.Status,
		CreatedAt: conn.CreatedAt,
		Partner:   models.PartnerSummary{ID: conn.PartnerOf(userID)},
	}
	partner, err := c.db.GetUserByID(ctx, view.Partner.ID)
	switch {
	case err == nil:
		view.Partner = partner.Summary()
	case errors.Is(err, database.ErrNotFound):
		zerolog.Ctx(ctx).Warn().Str("partner_id", view.Partner.ID).Msg("connection partner no longer exists")
	default:
		return nil, fmt.Errorf("failed to load partner: %w", err)
	}
	return view, nil
}

// CheckAvailability reports whether userID holds no ACTIVE connection.
func (c *ConnectionManager) CheckAvailability(ctx context.Context, userID string) (bool, error) {
	return checkAvailability(ctx, c.db, userID)
}

func checkAvailability(ctx context.Context, db database.DatabaseInterface, userID string) (bool, error) {
	_, err := db.GetActiveConnection(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return false, nil
}

// TerminateConnection ends the caller's active connection. ACTIVE to
// TERMINATED is terminal; a second call fails with NO_ACTIVE_CONNECTION.
func (c *ConnectionManager) TerminateConnection(ctx context.Context, userID string) (conn *models.Connection, err error) {
	ctx, span := startSpan(ctx, "connections.Terminate", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	err = c.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		active, err := tx.GetActiveConnection(ctx, userID)
		if err != nil {
			return notFound(err, ErrNoActiveConnection, "failed to load connection")
		}

		ts := c.now().UTC()
		active.Status = models.ConnectionTerminated
		active.TerminatedAt = &ts
		active.TerminatedBy = &userID
		if err := tx.UpdateConnection(ctx, active); err != nil {
			return fmt.Errorf("failed to terminate connection: %w", err)
		}
		conn = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.IncConnectionTerminated()
	zerolog.Ctx(ctx).Info().
		Str("connection_id", conn.ID).
		Str("terminated_by", userID).
		Msg("connection terminated")
	publish(ctx, c.events, bus.SubjectConnectionTerminated, ConnectionEvent{
		ConnectionID: conn.ID,
		DomID:        conn.DomID,
		SubID:        conn.SubID,
		Status:       string(conn.Status),
		ActorID:      userID,
		At:           *conn.TerminatedAt,
	})
	return conn, nil
}

// History lists every connection of userID, newest first.
func (c *ConnectionManager) History(ctx context.Context, userID string) ([]models.Connection, error) {
	list, err := c.db.ListConnectionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection history: %w", err)
	}
	return list, nil
}

// partnerDom returns the DOM side of userID's active connection: userID
// itself for a DOM, the partner for a SUB.
func partnerDom(ctx context.Context, db database.DatabaseInterface, user *models.User) (string, error) {
	if user.Role == models.RoleDom {
		return user.ID, nil
	}
	conn, err := db.GetActiveConnection(ctx, user.ID)
	if err != nil {
		return "", notFound(err, ErrNoActiveConnection, "failed to load connection")
	}
	return conn.DomID, nil
}

// partnerSub returns the SUB side of userID's active connection.
func partnerSub(ctx context.Context, db database.DatabaseInterface, user *models.User) (string, error) {
	if user.Role == models.RoleSub {
		return user.ID, nil
	}
	conn, err := db.GetActiveConnection(ctx, user.ID)
	if err != nil {
		return "", notFound(err, ErrNoActiveConnection, "failed to load connection")
	}
	return conn.SubID, nil
}
