package database

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver      string // postgres | sqlite | memory
	PostgresDSN string
	SQLitePath  string
	// Migrate applies embedded migrations after connecting.
	Migrate bool
}

// NewDatabase 根据配置选择数据库实现
func NewDatabase(ctx context.Context, cfg DatabaseConfig) (DatabaseInterface, error) {
	log := zerolog.Ctx(ctx)

	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("using in-memory database, data is lost on restart")
		return NewLocalDatabase(), nil

	case DialectPostgres:
		log.Info().Str("dsn", MaskDSN(cfg.PostgresDSN)).Msg("connecting to PostgreSQL")
		db, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return finishOpen(ctx, db, cfg.Migrate)

	case DialectSQLite:
		log.Info().Str("path", cfg.SQLitePath).Msg("opening SQLite database")
		db, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return finishOpen(ctx, db, cfg.Migrate)

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func finishOpen(ctx context.Context, db *SQLDatabase, migrate bool) (DatabaseInterface, error) {
	if !migrate {
		return db, nil
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenPostgres connects with pool settings suited to a small API server.
func OpenPostgres(ctx context.Context, dsn string) (*SQLDatabase, error) {
	dsn = strings.TrimSpace(dsn)
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if IsServerless() {
		// each warm function instance holds its own pool
		db.SetMaxOpenConns(2)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(time.Minute)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewSQLDatabase(db, DialectPostgres), nil
}

// OpenSQLite opens path (or ":memory:") with foreign keys on and a busy timeout.
func OpenSQLite(ctx context.Context, path string) (*SQLDatabase, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

	db, err := sqlx.Open(DialectSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; also keeps a ":memory:" database on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return NewSQLDatabase(db, DialectSQLite), nil
}

// MaskDSN hides the password of a connection string for logging.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		if len(dsn) > 10 {
			return dsn[:10] + "***"
		}
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
