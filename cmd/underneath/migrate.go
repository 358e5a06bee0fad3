package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/services"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}

			db, err := openSQL(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx); err != nil {
				return err
			}
			version, err := db.MigrationVersion(ctx)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			log.Info().Int64("version", version).Msg("database migrated")
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}

func newSeedStagesCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-stages",
		Short: "Create any missing stages from a YAML ladder",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}

			doc := services.DefaultStages()
			if file != "" {
				if doc, err = os.ReadFile(file); err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
			}

			db, err := openSQL(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return err
			}

			created, err := services.NewStageTracker(db, nil).SeedStages(ctx, doc)
			if err != nil {
				return err
			}
			log.Info().Int("created", created).Msg("stages seeded")
			fmt.Fprintf(cmd.OutOrStdout(), "created %d stage(s)\n", created)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "YAML stage ladder (defaults to the built-in ladder)")
	return cmd
}

// openSQL connects to the configured persistent store.
func openSQL(ctx context.Context, cfg *config.Config) (*database.SQLDatabase, error) {
	switch cfg.DatabaseDriver {
	case database.DialectPostgres:
		zerolog.Ctx(ctx).Info().Str("dsn", database.MaskDSN(cfg.PostgresDSN)).Msg("connecting to PostgreSQL")
		return database.OpenPostgres(ctx, cfg.PostgresDSN)
	case database.DialectSQLite:
		return database.OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("%s has no schema to manage; use postgres or sqlite", cfg.DatabaseDriver)
	}
}
