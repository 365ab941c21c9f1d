package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded studio schema migrations. A database left
// dirty by an interrupted run is reported instead of migrated further.
func Migrate(db *sql.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "studio_schema_migrations"})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = &migrateLogger{log: log}

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema is dirty at version %d, fix it by hand before migrating", from)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("schema up to date", "version", from)
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	to, _, _ := m.Version()
	log.Info("schema migrated", "from_version", from, "to_version", to)
	return nil
}

// migrateLogger sends golang-migrate output to slog at debug level.
type migrateLogger struct {
	log *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l *migrateLogger) Verbose() bool {
	return l.log.Enabled(context.Background(), slog.LevelDebug)
}
