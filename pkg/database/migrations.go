package database

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

// Migrate applies the embedded migrations for the store's dialect.
func (s *SQLDatabase) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	gooseDialect := "postgres"
	if s.dialect == DialectSQLite {
		gooseDialect = "sqlite3"
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{log: zerolog.Ctx(ctx)})
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations/"+s.dialect); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the current schema version.
func (s *SQLDatabase) MigrationVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	gooseDialect := "postgres"
	if s.dialect == DialectSQLite {
		gooseDialect = "sqlite3"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db.DB)
}

type gooseLogger struct {
	log *zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info().Str("component", "goose").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error().Str("component", "goose").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
