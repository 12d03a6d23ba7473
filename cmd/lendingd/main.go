// Command lendingd runs the maintenance sweeps of the lending engine and serves its metrics.
//
// Every --sweep-interval it sanctions borrowers with overdue loans and clears expired bans.
// It stops on SIGINT or SIGTERM after the running sweep finished.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/schoollibrary/lendingengine/internal/config"
	"github.com/schoollibrary/lendingengine/lending/engine"
)

const (
	serviceName     = "lendingd"
	shutdownTimeout = 10 * time.Second
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Run the overdue and ban expiry sweeps of the lending engine",
		Version:       version,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	cfg.RegisterDatabaseFlags(cmd.Flags())
	cfg.RegisterServerFlags(cmd.Flags())

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	obs, err := newObservability(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := obs.shutdown(); shutdownErr != nil {
			logger.Warn("observability shutdown failed", "error", shutdownErr.Error())
		}
	}()

	store, closeStore, err := config.OpenStore(ctx, cfg, obs.storeOptions()...)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating the schema: %w", err)
	}

	eng, err := engine.New(store, obs.engineOptions()...)
	if err != nil {
		return err
	}

	logger.Info("lendingd started",
		"driver", string(cfg.Driver),
		"sweep_interval", cfg.SweepInterval.String(),
		"metrics_addr", cfg.MetricsAddr,
		"otel", cfg.OTel,
	)

	d := &daemon{
		engine:          eng,
		logger:          logger,
		interval:        cfg.SweepInterval,
		metricsAddr:     cfg.MetricsAddr,
		metricsHandler:  obs.metricsHandler(),
		shutdownTimeout: shutdownTimeout,
	}

	err = d.run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	logger.Info("lendingd stopped")

	return err
}
