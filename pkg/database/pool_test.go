package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"underneath-backend/pkg/models"
)

type flakyDB struct {
	*LocalDatabase
	healthErr error
	closed    bool
}

func (f *flakyDB) HealthCheck(context.Context) error { return f.healthErr }

func (f *flakyDB) Close() error {
	f.closed = true
	return nil
}

func newTestPool(t *testing.T) (*Pool, *[]*flakyDB, *time.Time) {
	t.Helper()
	var opened []*flakyDB
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPool()
	p.now = func() time.Time { return clock }
	p.open = func(context.Context, DatabaseConfig) (DatabaseInterface, error) {
		db := &flakyDB{LocalDatabase: NewLocalDatabase()}
		opened = append(opened, db)
		return db, nil
	}
	return p, &opened, &clock
}

func TestPoolReusesHealthyStore(t *testing.T) {
	p, opened, _ := newTestPool(t)
	cfg := DatabaseConfig{Driver: "memory"}

	first, err := p.Get(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Get(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || len(*opened) != 1 {
		t.Fatalf("expected reuse, opened %d stores", len(*opened))
	}
	if got := p.Stats()["opened"]; got != 1 {
		t.Fatalf("stats opened = %v", got)
	}
}

func TestPoolRecreates(t *testing.T) {
	ctx := context.Background()
	sqliteCfg := DatabaseConfig{Driver: "sqlite", SQLitePath: "x.db"}

	t.Run("config change", func(t *testing.T) {
		p, opened, _ := newTestPool(t)
		_, _ = p.Get(ctx, DatabaseConfig{Driver: "memory"})
		_, _ = p.Get(ctx, DatabaseConfig{Driver: "sqlite", SQLitePath: "x.db"})
		if len(*opened) != 2 || !(*opened)[0].closed {
			t.Fatalf("config change should close and reopen")
		}
	})

	t.Run("idle", func(t *testing.T) {
		p, opened, clock := newTestPool(t)
		_, _ = p.Get(ctx, sqliteCfg)
		*clock = clock.Add(idleTimeout + time.Second)
		_, _ = p.Get(ctx, sqliteCfg)
		if len(*opened) != 2 {
			t.Fatalf("idle store should be reopened")
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		p, opened, _ := newTestPool(t)
		_, _ = p.Get(ctx, sqliteCfg)
		(*opened)[0].healthErr = errors.New("connection reset")
		_, _ = p.Get(ctx, sqliteCfg)
		if len(*opened) != 2 || !(*opened)[0].closed {
			t.Fatalf("unhealthy store should be replaced")
		}
	})
}

func TestPoolKeepsMemoryStore(t *testing.T) {
	ctx := context.Background()
	p, opened, clock := newTestPool(t)
	cfg := DatabaseConfig{Driver: "memory"}

	first, err := p.Get(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.CreateUser(ctx, &models.User{Email: "kept@example.com", Role: models.RoleDom}); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(idleTimeout + time.Second)
	(*opened)[0].healthErr = errors.New("ignored")
	second, err := p.Get(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if second != first || len(*opened) != 1 {
		t.Fatalf("memory store replaced, opened %d", len(*opened))
	}
	if _, err := second.GetUserByEmail(ctx, "kept@example.com"); err != nil {
		t.Fatalf("records lost: %v", err)
	}
}

func TestPoolOpenFailureIsNotCached(t *testing.T) {
	p := NewPool()
	calls := 0
	p.open = func(context.Context, DatabaseConfig) (DatabaseInterface, error) {
		calls++
		return nil, errors.New("dial tcp: refused")
	}
	for i := 0; i < 2; i++ {
		if _, err := p.Get(context.Background(), DatabaseConfig{Driver: "postgres"}); err == nil {
			t.Fatal("expected error")
		}
	}
	if calls != 2 {
		t.Fatalf("open called %d times, want 2", calls)
	}
	if p.Stats()["status"] != "no_connection" {
		t.Fatalf("stats = %v", p.Stats())
	}
}

func TestIsServerless(t *testing.T) {
	t.Setenv("VERCEL_ENV", "")
	t.Setenv("VERCEL_URL", "")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	if IsServerless() {
		t.Fatal("plain environment reported serverless")
	}
	t.Setenv("VERCEL_ENV", "production")
	if !IsServerless() {
		t.Fatal("VERCEL_ENV should mark serverless")
	}
}
