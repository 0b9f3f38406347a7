// Package migrate applies the migrations/ SQL files with Goose, grounded on
// the teacher's internal/migrate/migrate.go.
package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/emergent-company/orchestrator/migrations"
	"github.com/emergent-company/orchestrator/pkg/logger"
)

// Module provides the Migrator as a singleton.
var Module = fx.Module("migrate",
	fx.Provide(NewMigrator),
)

// Migrator applies and inspects this repo's database migrations.
type Migrator struct {
	db  *bun.DB
	log *slog.Logger
}

// NewMigrator constructs a Migrator.
func NewMigrator(db *bun.DB, log *slog.Logger) *Migrator {
	return &Migrator{db: db, log: log.With(logger.Scope("migrate"))}
}

func (m *Migrator) setup() error {
	goose.SetBaseFS(migrations.FS)
	return goose.SetDialect("postgres")
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.setup(); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	m.log.Info("running database migrations")
	if err := goose.UpContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	m.log.Info("migrations completed")
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.setup(); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	m.log.Info("rolling back last migration")
	if err := goose.DownContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("rollback migration: %w", err)
	}
	return nil
}

// Status logs the current migration status.
func (m *Migrator) Status(ctx context.Context) error {
	if err := m.setup(); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.StatusContext(ctx, m.db.DB, "."); err != nil {
		return fmt.Errorf("get migration status: %w", err)
	}
	return nil
}

// Version returns the current database schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if err := m.setup(); err != nil {
		return 0, fmt.Errorf("set dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, m.db.DB)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}
