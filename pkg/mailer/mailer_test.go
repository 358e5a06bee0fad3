package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"underneath-backend/pkg/bus"
	"underneath-backend/pkg/config"
)

type recordingPublisher struct {
	subject string
	payload any
}

func (p *recordingPublisher) Publish(_ context.Context, subj string, v any) error {
	p.subject = subj
	p.payload = v
	return nil
}

func testEmail() InvitationEmail {
	return InvitationEmail{
		To:        "sub@example.com",
		FromName:  "Mistress\r\nBcc: x@evil.test",
		Code:      "ABCD1234",
		Message:   "hello there",
		ExpiresAt: time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC),
		AcceptURL: "https://app.example/accept?code=ABCD1234",
	}
}

func TestSMTPMailerSends(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 2525, Username: "u", Password: "p", From: "Underneath <no-reply@example.com>"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var gotAddr string
	var gotBody string
	var gotTo []string
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotBody = addr, to, string(msg)
		return nil
	}

	if err := m.SendInvitation(context.Background(), testEmail()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example.com:2525" {
		t.Fatalf("addr = %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "sub@example.com" {
		t.Fatalf("to = %v", gotTo)
	}
	for _, want := range []string{"ABCD1234", "hello there", "Accept it here", "Jan 2, 2026"} {
		if !strings.Contains(gotBody, want) {
			t.Fatalf("body missing %q:\n%s", want, gotBody)
		}
	}
	if strings.Contains(gotBody, "\r\nBcc:") {
		t.Fatal("header injection through inviter name")
	}
}

func TestSMTPMailerErrors(t *testing.T) {
	if _, err := NewSMTPMailer(SMTPConfig{From: "a@b.co"}); err == nil {
		t.Fatal("expected missing host error")
	}

	m, _ := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", From: "a@b.co"})
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay down") }
	if err := m.SendInvitation(context.Background(), testEmail()); err == nil || !strings.Contains(err.Error(), "relay down") {
		t.Fatalf("expected relay error, got %v", err)
	}

	block := make(chan struct{})
	defer close(block)
	m.send = func(string, smtp.Auth, string, []string, []byte) error { <-block; return nil }
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.SendInvitation(ctx, testEmail()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	bad := testEmail()
	bad.To = "not-an-address"
	if err := m.SendInvitation(context.Background(), bad); err == nil {
		t.Fatal("expected invalid recipient error")
	}
}

func TestBusAndDisabledMailers(t *testing.T) {
	pub := &recordingPublisher{}
	if err := (BusMailer{Publisher: pub}).SendInvitation(context.Background(), testEmail()); err != nil {
		t.Fatalf("bus send: %v", err)
	}
	if pub.subject != "underneath.mail.invitations" {
		t.Fatalf("subject = %q", pub.subject)
	}
	if msg, ok := pub.payload.(InvitationEmail); !ok || msg.Code != "ABCD1234" {
		t.Fatalf("payload = %#v", pub.payload)
	}

	if err := (Disabled{}).SendInvitation(context.Background(), testEmail()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	log := zerolog.Nop()

	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"smtp", config.Config{SMTPHost: "smtp.test", SMTPPort: 25, SMTPFrom: "no-reply@underneath.app"}, "smtp"},
		{"bad smtp from falls back", config.Config{SMTPHost: "smtp.test", SMTPFrom: "not an address"}, "disabled"},
		{"nop bus is not a mail worker", config.Config{NATSURL: "nats://localhost:4222"}, "disabled"},
		{"nothing configured", config.Config{}, "disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := "other"
			switch FromConfig(&tt.cfg, bus.Nop{}, log).(type) {
			case *SMTPMailer:
				got = "smtp"
			case Disabled:
				got = "disabled"
			}
			if got != tt.want {
				t.Fatalf("mailer = %s, want %s", got, tt.want)
			}
		})
	}
}
