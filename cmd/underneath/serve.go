package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	handler "underneath-backend/api"
	"underneath-backend/pkg/bus"
	"underneath-backend/pkg/config"
	"underneath-backend/pkg/database"
	"underneath-backend/pkg/mailer"
	"underneath-backend/pkg/metrics"
	"underneath-backend/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var (
		addr      string
		noMigrate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = ":" + cfg.Port
			}
			return serve(ctx, cfg, log, addr, !noMigrate)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to :$PORT)")
	cmd.Flags().BoolVar(&noMigrate, "no-migrate", false, "Skip applying migrations on startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger, addr string, migrate bool) error {
	cleanup, err := telemetry.Init(ctx, "underneath-api", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown otel")
		}
	}()

	db, err := database.NewDatabase(ctx, database.DatabaseConfig{
		Driver:      cfg.DatabaseDriver,
		PostgresDSN: cfg.PostgresDSN,
		SQLitePath:  cfg.SQLitePath,
		Migrate:     migrate,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}()

	deps := handler.Deps{
		Config:  cfg,
		DB:      db,
		Logger:  log,
		Events:  bus.Nop{},
		Metrics: metrics.New(prometheus.NewRegistry()),
		Checks:  map[string]func() bool{},
	}

	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			// events are best effort; run without them
			log.Warn().Err(err).Msg("nats unavailable, events disabled")
		} else {
			defer b.Close()
			deps.Events = b
			deps.Checks["nats"] = b.Healthy
		}
	}
	deps.Mailer = mailer.FromConfig(cfg, deps.Events, log)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("environment", cfg.Environment).Msg("starting underneath api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
	return nil
}
