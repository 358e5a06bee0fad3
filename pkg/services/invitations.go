package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"underneath-backend/pkg/apperrors"
	"underneath-backend/pkg/bus"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/mailer"
	"underneath-backend/pkg/metrics"
	"underneath-backend/pkg/models"
	"underneath-backend/pkg/utils"
	"underneath-backend/pkg/validation"
)

const (
	maxCodeAttempts    = 5
	maxValidHours      = 168
	defaultMailTimeout = 10 * time.Second
)

// InvitationOptions configures an InvitationManager
type InvitationOptions struct {
	DefaultTTL  time.Duration // used when the request leaves validHours at 0
	AppBaseURL  string        // accept links point at {AppBaseURL}/accept-invitation?code=
	MailTimeout time.Duration
}

// InvitationResult is what Create returns
type InvitationResult struct {
	Invitation *models.Invitation
	EmailSent  bool
}

// InvitationManager creates, validates and redeems invitation codes.
type InvitationManager struct {
	db      database.DatabaseInterface
	mailer  mailer.Mailer
	events  bus.Publisher
	metrics *metrics.Metrics
	opts    InvitationOptions

	now     func() time.Time
	newCode func() (string, error)
}

func NewInvitationManager(db database.DatabaseInterface, m mailer.Mailer, events bus.Publisher, mt *metrics.Metrics, opts InvitationOptions) *InvitationManager {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 48 * time.Hour
	}
	if opts.MailTimeout <= 0 {
		opts.MailTimeout = defaultMailTimeout
	}
	if m == nil {
		m = mailer.Disabled{}
	}
	return &InvitationManager{
		db:      db,
		mailer:  m,
		events:  events,
		metrics: mt,
		opts:    opts,
		now:     time.Now,
		newCode: func() (string, error) {
			return utils.GenerateInvitationCode(validation.InvitationCodeLength)
		},
	}
}

// Create issues a new code for domID. Email delivery is attempted when an
// address is given; its failure only clears EmailSent.
func (m *InvitationManager) Create(ctx context.Context, domID string, req models.CreateInvitationRequest) (res *InvitationResult, err error) {
	ctx, span := startSpan(ctx, "invitations.Create", attribute.String("dom.id", domID))
	defer func() { endSpan(span, err) }()
	log := zerolog.Ctx(ctx)

	email := strings.ToLower(strings.TrimSpace(req.Email))
	ttl, violations := m.validateCreate(email, req)
	if len(violations) > 0 {
		return nil, apperrors.Validation("Invalid invitation", violations)
	}

	dom, err := m.db.GetUserByID(ctx, domID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound, "failed to load inviter")
	}
	if dom.Role != models.RoleDom {
		return nil, forbidden("Only DOM users can create invitations")
	}

	available, err := checkAvailability(ctx, m.db, domID)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrDomAlreadyConnected
	}

	now := m.now().UTC()
	inv := &models.Invitation{
		DomID:     domID,
		ExpiresAt: now.Add(ttl),
		IsActive:  true,
		CreatedAt: now,
	}
	if email != "" {
		inv.Email = &email
	}
	if msg := validation.SanitizeInput(req.Message); msg != "" {
		inv.Message = &msg
	}

	if err := m.insertWithUniqueCode(ctx, inv); err != nil {
		return nil, err
	}
	m.metrics.IncInvitationCreated()

	emailSent := false
	if inv.Email != nil {
		emailSent = m.sendEmail(ctx, dom, inv)
	}

	log.Info().
		Str("invitation_id", inv.ID).
		Str("dom_id", domID).
		Time("expires_at", inv.ExpiresAt).
		Bool("email_sent", emailSent).
		Msg("invitation created")

	evt := InvitationCreatedEvent{InvitationID: inv.ID, DomID: domID, ExpiresAt: inv.ExpiresAt, EmailSent: emailSent}
	if inv.Email != nil {
		evt.Email = *inv.Email
	}
	publish(ctx, m.events, bus.SubjectInvitationCreated, evt)

	return &InvitationResult{Invitation: inv, EmailSent: emailSent}, nil
}

func (m *InvitationManager) validateCreate(email string, req models.CreateInvitationRequest) (time.Duration, []string) {
	violations := []string{}
	if email != "" && !validation.IsValidEmail(email) {
		violations = append(violations, "Invalid email format")
	}
	if res := validation.ValidateMessage(req.Message); !res.Valid {
		violations = append(violations, res.Errors...)
	}

	ttl := m.opts.DefaultTTL
	switch {
	case req.ValidHours == 0:
	case req.ValidHours < 1 || req.ValidHours > maxValidHours:
		violations = append(violations, fmt.Sprintf("Valid hours must be between 1 and %d", maxValidHours))
	default:
		ttl = time.Duration(req.ValidHours) * time.Hour
	}
	return ttl, violations
}

// insertWithUniqueCode draws codes until one is free, detecting collisions by
// lookup and by the unique constraint.
func (m *InvitationManager) insertWithUniqueCode(ctx context.Context, inv *models.Invitation) error {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := m.newCode()
		if err != nil {
			return fmt.Errorf("failed to generate invitation code: %w", err)
		}

		_, err = m.db.GetInvitationByCode(ctx, code)
		if err == nil {
			zerolog.Ctx(ctx).Debug().Int("attempt", attempt).Msg("invitation code collision")
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("failed to check invitation code: %w", err)
		}

		inv.ID = ""
		inv.Code = code
		err = m.db.CreateInvitation(ctx, inv)
		if errors.Is(err, database.ErrDuplicateCode) {
			zerolog.Ctx(ctx).Debug().Int("attempt", attempt).Msg("invitation code collision on insert")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create invitation: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to allocate a unique invitation code after %d attempts", maxCodeAttempts)
}

func (m *InvitationManager) sendEmail(ctx context.Context, dom *models.User, inv *models.Invitation) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.MailTimeout)
	defer cancel()

	msg := mailer.InvitationEmail{
		To:        *inv.Email,
		FromName:  dom.DisplayName,
		Code:      inv.Code,
		ExpiresAt: inv.ExpiresAt,
		AcceptURL: m.acceptURL(inv.Code),
	}
	if inv.Message != nil {
		msg.Message = *inv.Message
	}

	if err := m.mailer.SendInvitation(ctx, msg); err != nil {
		result := "failed"
		if errors.Is(err, mailer.ErrDisabled) {
			result = "skipped"
		}
		m.metrics.ObserveInvitationEmail(result)
		zerolog.Ctx(ctx).Warn().Err(err).Str("invitation_id", inv.ID).Msg("invitation email not sent")
		return false
	}
	m.metrics.ObserveInvitationEmail("sent")
	return true
}

func (m *InvitationManager) acceptURL(code string) string {
	if m.opts.AppBaseURL == "" {
		return ""
	}
	return strings.TrimRight(m.opts.AppBaseURL, "/") + "/accept-invitation?code=" + url.QueryEscape(code)
}

// Validate returns the invitation if code is currently redeemable.
func (m *InvitationManager) Validate(ctx context.Context, code string) (*models.Invitation, error) {
	return m.redeemable(ctx, m.db, code)
}

// redeemable loads code through db (possibly a transaction) and checks it.
func (m *InvitationManager) redeemable(ctx context.Context, db database.DatabaseInterface, code string) (*models.Invitation, error) {
	if !validation.IsValidInvitationCode(code) {
		return nil, ErrInvitationNotFound
	}
	inv, err := db.GetInvitationByCode(ctx, code)
	if err != nil {
		return nil, notFound(err, ErrInvitationNotFound, "failed to load invitation")
	}
	now := m.now()
	if inv.IsRedeemable(now) {
		return inv, nil
	}

	switch {
	case inv.UsedAt != nil:
		return nil, ErrInvitationAlreadyUsed
	case !inv.IsActive:
		// revoked by its owner
		return nil, ErrInvitationNotFound
	default:
		return nil, ErrInvitationExpired
	}
}

// CreateConnection redeems code for subID: the code is re-validated, both
// parties are checked for active connections, the code is consumed and the
// connection inserted, all in one transaction.
func (m *InvitationManager) CreateConnection(ctx context.Context, code, subID string) (conn *models.Connection, err error) {
	ctx, span := startSpan(ctx, "invitations.CreateConnection", attribute.String("sub.id", subID))
	defer func() { endSpan(span, err) }()

	err = m.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		inv, err := m.redeemable(ctx, tx, code)
		if err != nil {
			if _, coded := apperrors.As(err); coded {
				return apperrors.Wrap(apperrors.CodeInvalidCode, "Invalid invitation code", err)
			}
			return err
		}

		sub, err := tx.GetUserByID(ctx, subID)
		if err != nil {
			return notFound(err, ErrUserNotFound, "failed to load user")
		}
		if sub.Role != models.RoleSub {
			return forbidden("Only SUB users can accept invitations")
		}

		if ok, err := checkAvailability(ctx, tx, inv.DomID); err != nil {
			return err
		} else if !ok {
			return ErrDomAlreadyConnected
		}
		if ok, err := checkAvailability(ctx, tx, subID); err != nil {
			return err
		} else if !ok {
			return ErrSubAlreadyConnected
		}

		now := m.now().UTC()
		inv.IsActive = false
		inv.UsedBy = &subID
		inv.UsedAt = &now
		if err := tx.UpdateInvitation(ctx, inv); err != nil {
			return fmt.Errorf("failed to consume invitation: %w", err)
		}

		c := &models.Connection{
			DomID:        inv.DomID,
			SubID:        subID,
			InvitationID: &inv.ID,
			Status:       models.ConnectionActive,
			CreatedAt:    now,
		}
		if err := tx.CreateConnection(ctx, c); err != nil {
			switch {
			case errors.Is(err, database.ErrActiveDomConnection):
				return ErrDomAlreadyConnected
			case errors.Is(err, database.ErrActiveSubConnection):
				return ErrSubAlreadyConnected
			}
			return fmt.Errorf("failed to create connection: %w", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.IncConnectionCreated()
	zerolog.Ctx(ctx).Info().
		Str("connection_id", conn.ID).
		Str("dom_id", conn.DomID).
		Str("sub_id", conn.SubID).
		Msg("connection created")
	publish(ctx, m.events, bus.SubjectConnectionCreated, ConnectionEvent{
		ConnectionID: conn.ID,
		DomID:        conn.DomID,
		SubID:        conn.SubID,
		Status:       string(conn.Status),
		ActorID:      subID,
		At:           conn.CreatedAt,
	})
	return conn, nil
}

// ListForDom lists domID's invitations, newest first, with a derived status.
func (m *InvitationManager) ListForDom(ctx context.Context, domID string) ([]models.InvitationView, error) {
	list, err := m.db.ListInvitationsByDom(ctx, domID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	now := m.now()
	out := make([]models.InvitationView, 0, len(list))
	for _, inv := range list {
		out = append(out, models.InvitationView{Invitation: inv, Status: inv.Status(now)})
	}
	return out, nil
}

// Revoke deactivates an unused code owned by domID. Revoking twice is a no-op.
func (m *InvitationManager) Revoke(ctx context.Context, domID, code string) error {
	if !validation.IsValidInvitationCode(code) {
		return ErrInvitationNotFound
	}
	return m.db.WithTx(ctx, func(tx database.DatabaseInterface) error {
		inv, err := tx.GetInvitationByCode(ctx, code)
		if err != nil {
			return notFound(err, ErrInvitationNotFound, "failed to load invitation")
		}
		if inv.DomID != domID {
			return forbidden("Only the inviting DOM can revoke this invitation")
		}
		if inv.UsedAt != nil {
			return ErrInvitationAlreadyUsed
		}
		if !inv.IsActive {
			return nil
		}
		inv.IsActive = false
		if err := tx.UpdateInvitation(ctx, inv); err != nil {
			return fmt.Errorf("failed to revoke invitation: %w", err)
		}
		zerolog.Ctx(ctx).Info().Str("invitation_id", inv.ID).Msg("invitation revoked")
		return nil
	})
}
