package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config is the runtime configuration, populated from the environment
type Config struct {
	// Environment
	Environment string `env:"ENVIRONMENT, default=development"`
	Port        string `env:"PORT, default=3000"`

	// Database: postgres | sqlite | memory
	DatabaseDriver string `env:"DATABASE_DRIVER, default=postgres"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	SQLitePath     string `env:"SQLITE_PATH, default=underneath.db"`

	// JWT
	JWTSecret string `env:"JWT_SECRET, default=your-secret-key-change-in-production"`

	// Invitations
	InvitationTTLHours int    `env:"INVITATION_TTL_HOURS, default=48"`
	AppBaseURL         string `env:"APP_BASE_URL, default=http://localhost:5173"`

	// SMTP for invitation email
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT, default=587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM, default=no-reply@underneath.app"`

	// Messaging and telemetry
	NATSURL      string `env:"NATS_URL"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// HTTP
	AllowedOrigins     []string      `env:"ALLOWED_ORIGINS, default=*"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE, default=120"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT, default=25s"`

	// Debug
	Debug    bool   `env:"DEBUG, default=false"`
	LogLevel string `env:"LOG_LEVEL, default=info"`
}

// Load reads the environment file matching ENVIRONMENT (variables already set
// win) and then parses the process environment into a Config.
func Load(ctx context.Context) (*Config, error) {
	loadEnvFile(os.Getenv("ENVIRONMENT"))

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	cfg.PostgresDSN = strings.TrimSpace(cfg.PostgresDSN)
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	for i, o := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.IsProduction() {
		cfg.Debug = false
	}
	return &cfg, nil
}

func loadEnvFile(env string) {
	switch env {
	case "production":
		_ = godotenv.Load(".env.production")
	default:
		_ = godotenv.Load(".env.local")
	}
}

// Validate checks settings that cannot be expressed as defaults
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	switch c.DatabaseDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DATABASE_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER=sqlite")
		}
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("DATABASE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q (want postgres, sqlite or memory)", c.DatabaseDriver)
	}

	if c.InvitationTTLHours < 1 || c.InvitationTTLHours > 168 {
		return fmt.Errorf("INVITATION_TTL_HOURS must be between 1 and 168")
	}
	return nil
}

// UsesDefaultJWTSecret reports whether the placeholder secret is in use
func (c *Config) UsesDefaultJWTSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

// InvitationTTL is the default lifetime of a new invitation
func (c *Config) InvitationTTL() time.Duration {
	return time.Duration(c.InvitationTTLHours) * time.Hour
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
