package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("DATABASE_DRIVER", "memory")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "3000" {
		t.Fatalf("Port = %q, want 3000", cfg.Port)
	}
	if cfg.InvitationTTLHours != 48 || cfg.InvitationTTL() != 48*time.Hour {
		t.Fatalf("InvitationTTLHours = %d", cfg.InvitationTTLHours)
	}
	if cfg.RequestTimeout != 25*time.Second {
		t.Fatalf("RequestTimeout = %s", cfg.RequestTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if !cfg.UsesDefaultJWTSecret() {
		t.Fatal("expected placeholder JWT secret")
	}
}

func TestLoadParsesLists(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DATABASE_DRIVER", " SQLite ")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Fatalf("DatabaseDriver = %q", cfg.DatabaseDriver)
	}
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("INVITATION_TTL_HOURS", "soon")

	_, err := Load(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Environment:        "development",
			Port:               "3000",
			DatabaseDriver:     "postgres",
			PostgresDSN:        "postgres://localhost/underneath",
			JWTSecret:          defaultJWTSecret,
			InvitationTTLHours: 48,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"development with defaults", func(*Config) {}, false},
		{"production needs a real secret", func(c *Config) { c.Environment = "production" }, true},
		{"production with secret", func(c *Config) { c.Environment = "production"; c.JWTSecret = "s3cret" }, false},
		{"postgres without dsn", func(c *Config) { c.PostgresDSN = "" }, true},
		{"memory in development", func(c *Config) { c.DatabaseDriver = "memory" }, false},
		{"memory in production", func(c *Config) {
			c.Environment = "production"
			c.JWTSecret = "s3cret"
			c.DatabaseDriver = "memory"
		}, true},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mongo" }, true},
		{"ttl out of range", func(c *Config) { c.InvitationTTLHours = 500 }, true},
		{"missing port", func(c *Config) { c.Port = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
