// Package app orchestrates the main components of the trigger service.
package app

import (
	"context"
	"log/slog"

	"github.com/sevigo/build-trigger/internal/config"
	"github.com/sevigo/build-trigger/internal/server"
)

// App holds the running service.
type App struct {
	ctx    context.Context
	cfg    *config.Config
	server *server.Server
	logger *slog.Logger
}

// NewApp assembles the application from its wired components.
func NewApp(ctx context.Context, cfg *config.Config, srv *server.Server, logger *slog.Logger) *App {
	return &App{
		ctx:    ctx,
		cfg:    cfg,
		server: srv,
		logger: logger,
	}
}

// Start runs the HTTP server and blocks until it stops.
func (a *App) Start() error {
	a.logger.Info("starting trigger service",
		"service", a.cfg.ServiceName,
		"version", a.cfg.ServiceVersion,
		"server_port", a.cfg.ServerPort)

	return a.server.Start()
}

// Stop shuts the service down cleanly.
func (a *App) Stop() error {
	a.logger.Info("shutting down trigger service")
	return a.server.Stop()
}
