package durabletier

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	// registers the pgx stdlib database/sql driver used only for goose,
	// which speaks database/sql rather than pgxpool.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// RunMigrations applies every pending schema migration, adapted from the
// teacher's database/migrations.go RunMigrations: goose needs a
// *sql.DB, so a short-lived stdlib connection is opened alongside the
// long-lived pgxpool the store itself uses for queries.
func RunMigrations(config *Config, migrationsDir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("pgx", config.DSN())
	if err != nil {
		return fmt.Errorf("durabletier: failed to open migration connection: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("durabletier: failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, migrationsDir); err != nil {
		logger.Error("migration run failed", "error", err)
		return fmt.Errorf("durabletier: migration run failed: %w", err)
	}
	logger.Info("durable tier migrations applied")
	return nil
}

// MigrationStatus reports the applied/pending state of every migration.
func MigrationStatus(config *Config, migrationsDir string) error {
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}
	db, err := sql.Open("pgx", config.DSN())
	if err != nil {
		return fmt.Errorf("durabletier: failed to open migration connection: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Status(db, migrationsDir)
}
