package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"underneath-backend/pkg/config"
	"underneath-backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "underneath",
		Short:         "Underneath relationship progression backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSeedStagesCommand())
	return cmd
}

// bootstrap loads and validates configuration and installs the logger on ctx.
func bootstrap(cmd *cobra.Command) (context.Context, *config.Config, zerolog.Logger, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(logger.Options{
		Level:   cfg.LogLevel,
		Console: cfg.IsDevelopment(),
		Service: "underneath-api",
	})
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.UsesDefaultJWTSecret() {
		log.Warn().Msg("JWT_SECRET is the development placeholder")
	}
	return log.WithContext(ctx), cfg, log, nil
}
