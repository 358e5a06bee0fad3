// Package mailer delivers invitation emails.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"underneath-backend/pkg/bus"
	"underneath-backend/pkg/config"
)

// ErrDisabled is returned when no delivery channel is configured.
var ErrDisabled = errors.New("mailer: email delivery is disabled")

// InvitationEmail is the data needed to render an invitation
type InvitationEmail struct {
	To        string    `json:"to"`
	FromName  string    `json:"fromName"`
	Code      string    `json:"code"`
	Message   string    `json:"message,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	AcceptURL string    `json:"acceptUrl"`
}

// Mailer sends invitation emails.
type Mailer interface {
	SendInvitation(ctx context.Context, msg InvitationEmail) error
}

// Disabled reports ErrDisabled for every send.
type Disabled struct{}

func (Disabled) SendInvitation(context.Context, InvitationEmail) error { return ErrDisabled }

// BusMailer hands invitations to an external mail worker over the event bus.
type BusMailer struct {
	Publisher bus.Publisher
}

func (m BusMailer) SendInvitation(ctx context.Context, msg InvitationEmail) error {
	if m.Publisher == nil {
		return ErrDisabled
	}
	return m.Publisher.Publish(ctx, bus.SubjectInvitationMail, msg)
}

// SMTPConfig holds the relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends plain-text email through an SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer validates cfg and returns a mailer using smtp.SendMail.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("mailer: SMTP host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("mailer: invalid from address: %w", err)
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}, nil
}

// SendInvitation delivers msg, giving up when ctx is done.
func (m *SMTPMailer) SendInvitation(ctx context.Context, msg InvitationEmail) error {
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("mailer: invalid recipient: %w", err)
	}
	from, _ := mail.ParseAddress(m.cfg.From)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	body := Render(from, to, msg)

	// smtp.SendMail has no context; the goroutine finishes on its own after a timeout.
	done := make(chan error, 1)
	go func() {
		done <- m.send(addr, auth, from.Address, []string{to.Address}, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mailer: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mailer: send: %w", ctx.Err())
	}
}

// Render builds the RFC 5322 message for an invitation.
func Render(from, to *mail.Address, msg InvitationEmail) []byte {
	var b bytes.Buffer
	inviter := sanitizeHeader(msg.FromName)
	if inviter == "" {
		inviter = "Someone"
	}

	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s invited you to connect on Underneath\r\n", inviter)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "%s invited you to connect on Underneath.\r\n\r\n", inviter)
	if msg.Message != "" {
		fmt.Fprintf(&b, "Their message:\r\n%s\r\n\r\n", msg.Message)
	}
	fmt.Fprintf(&b, "Your invitation code: %s\r\n", msg.Code)
	if msg.AcceptURL != "" {
		fmt.Fprintf(&b, "Accept it here: %s\r\n", msg.AcceptURL)
	}
	fmt.Fprintf(&b, "The code expires on %s.\r\n", msg.ExpiresAt.UTC().Format("Jan 2, 2006 15:04 MST"))
	return b.Bytes()
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// FromConfig prefers SMTP, then a mail worker over NATS, then nothing.
func FromConfig(cfg *config.Config, events bus.Publisher, log zerolog.Logger) Mailer {
	if cfg.SMTPHost != "" {
		m, err := NewSMTPMailer(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err == nil {
			log.Info().Str("host", cfg.SMTPHost).Msg("invitation email via smtp")
			return m
		}
		log.Warn().Err(err).Msg("smtp mailer misconfigured")
	}
	if _, ok := events.(*bus.Bus); ok {
		log.Info().Msg("invitation email via mail worker")
		return BusMailer{Publisher: events}
	}
	log.Info().Msg("invitation email disabled")
	return Disabled{}
}
