// Package main provides the entry point for the orchestrator server.
package main

import (
	"context"
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/emergent-company/orchestrator/domain/agentrunner"
	"github.com/emergent-company/orchestrator/domain/coordinator"
	"github.com/emergent-company/orchestrator/domain/eventbus"
	"github.com/emergent-company/orchestrator/domain/project"
	"github.com/emergent-company/orchestrator/domain/scheduler"
	"github.com/emergent-company/orchestrator/domain/toolregistry"
	"github.com/emergent-company/orchestrator/internal/config"
	"github.com/emergent-company/orchestrator/internal/database"
	"github.com/emergent-company/orchestrator/internal/jobs"
	"github.com/emergent-company/orchestrator/internal/migrate"
	"github.com/emergent-company/orchestrator/internal/server"
	"github.com/emergent-company/orchestrator/internal/storage"
	"github.com/emergent-company/orchestrator/pkg/auth"
	"github.com/emergent-company/orchestrator/pkg/logger"
	"github.com/emergent-company/orchestrator/pkg/modelprovider"
	"github.com/emergent-company/orchestrator/pkg/tracing"
)

func main() {
	// Load .env files if present (for local development). Order matters:
	// .env.local overrides .env. Load() won't overwrite existing vars,
	// Overload() will.
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure. migrate's fx.Invoke runs before server.Module's,
		// so migrations apply before the HTTP server starts accepting
		// connections — fx runs OnStart hooks in the order their owning
		// fx.Invoke was registered.
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		storage.Module,
		auth.Module,
		fx.Invoke(runMigrations),
		server.Module,
		tracing.Module,

		// Domain (spec components A-G)
		eventbus.Module,
		toolregistry.Module,
		modelprovider.Module,
		agentrunner.Module,
		scheduler.Module,
		project.Module,
		coordinator.Module,

		// Ambient periodic housekeeping
		jobs.Module,
	).Run()
}

// runMigrations applies pending schema migrations on fx.Lifecycle OnStart.
func runMigrations(lc fx.Lifecycle, m *migrate.Migrator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Up(ctx)
		},
	})
}
