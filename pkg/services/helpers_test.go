package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"underneath-backend/pkg/database"
	"underneath-backend/pkg/mailer"
	"underneath-backend/pkg/metrics"
	"underneath-backend/pkg/models"
)

type recordingBus struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
	err      error
}

func (b *recordingBus) Publish(_ context.Context, subject string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	b.payloads = append(b.payloads, v)
	return b.err
}

func (b *recordingBus) published(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type fakeMailer struct {
	mu   sync.Mutex
	err  error
	sent []mailer.InvitationEmail
}

func (m *fakeMailer) SendInvitation(_ context.Context, msg mailer.InvitationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fixture struct {
	db          *database.LocalDatabase
	bus         *recordingBus
	mail        *fakeMailer
	metrics     *metrics.Metrics
	invitations *InvitationManager
	connections *ConnectionManager
	stages      *StageTracker
	entities    *EntityService
	points      *PointsService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := database.NewLocalDatabase()
	f := &fixture{
		db:      db,
		bus:     &recordingBus{},
		mail:    &fakeMailer{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.invitations = NewInvitationManager(db, f.mail, f.bus, f.metrics, InvitationOptions{AppBaseURL: "https://app.example.com/"})
	f.connections = NewConnectionManager(db, f.bus, f.metrics)
	f.stages = NewStageTracker(db, f.metrics)
	f.entities = NewEntityService(db, f.metrics)
	f.points = NewPointsService(db, f.metrics)
	return f
}

func (f *fixture) user(t *testing.T, email string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Email: email, Password: "hash", DisplayName: "User " + string(role), Role: role}
	if err := f.db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// connect links dom and sub through a fresh invitation.
func (f *fixture) connect(t *testing.T, dom, sub *models.User) *models.Connection {
	t.Helper()
	ctx := context.Background()
	res, err := f.invitations.Create(ctx, dom.ID, models.CreateInvitationRequest{})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	conn, err := f.invitations.CreateConnection(ctx, res.Invitation.Code, sub.ID)
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}

func (f *fixture) seedDefaultStages(t *testing.T) []models.StageWithCounts {
	t.Helper()
	ctx := context.Background()
	if _, err := f.stages.SeedStages(ctx, DefaultStages()); err != nil {
		t.Fatalf("seed stages: %v", err)
	}
	stages, err := f.stages.GetAllStages(ctx, "")
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	return stages
}

func assertErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
