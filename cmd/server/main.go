package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sevigo/build-trigger/internal/config"
	"github.com/sevigo/build-trigger/internal/db"
	"github.com/sevigo/build-trigger/internal/logger"
	"github.com/sevigo/build-trigger/internal/wire"
)

var rootCmd = &cobra.Command{
	Use:   "build-trigger",
	Short: "build-trigger ingests GitLab webhooks and creates build and job records.",
	RunE: func(_ *cobra.Command, _ []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit.",
	RunE: func(_ *cobra.Command, _ []string) error {
		return migrate()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("application failed to run", "error", err)
		os.Exit(1)
	}
}

func serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, cleanup, err := wire.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	go func() {
		if err := app.Start(); err != nil {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.Info("received shutdown signal")
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}
	return nil
}

// migrate connects to the database, which applies any pending migrations,
// and exits. Useful as an init container step so the serving replicas never
// race on schema changes.
func migrate() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging, nil)

	_, cleanup, err := db.New(&cfg.Database, log)
	if err != nil {
		return err
	}
	cleanup()

	log.Info("database schema is up to date")
	return nil
}
