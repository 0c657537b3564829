package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func setupGoose() error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

// Migrate applies all pending migrations
func Migrate(database *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	if err := goose.Up(database, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration
func MigrateDown(database *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	if err := goose.Down(database, "migrations"); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// MigrationStatus prints the applied state of every migration
func MigrationStatus(database *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return goose.Status(database, "migrations")
}
