//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"github.com/sevigo/build-trigger/internal/app"
	"github.com/sevigo/build-trigger/internal/config"
	"github.com/sevigo/build-trigger/internal/db"
	"github.com/sevigo/build-trigger/internal/gitlab"
	"github.com/sevigo/build-trigger/internal/server"
	"github.com/sevigo/build-trigger/internal/storage"
	"github.com/sevigo/build-trigger/internal/trigger"
)

func InitializeApp(ctx context.Context) (*app.App, func(), error) {
	wire.Build(
		app.NewApp,
		server.NewServer,
		trigger.NewService,
		storage.NewStore,
		gitlab.NewClient,
		db.New,
		config.Load,
		provideMetrics,
		provideLoggerConfig,
		provideLogWriter,
		provideSlogLogger,
		provideDBConfig,
		provideSQLDB,
	)
	return &app.App{}, nil, nil
}
