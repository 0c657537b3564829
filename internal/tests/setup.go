// Package tests holds end-to-end tests that drive the HTTP API through the Go client.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/memechat/server/internal/config"
)

// TestJWTSecret is long enough for config validation
const TestJWTSecret = "test-jwt-secret-at-least-32-characters-long"

// TestConfig returns a config for the given storage driver with test-friendly values.
func TestConfig(driver, databaseURL string) *config.Config {
	return &config.Config{
		DatabaseURL:   databaseURL,
		StorageDriver: driver,
		Port:          "0",
		JWTSecret:     TestJWTSecret,
		SessionTTL:    time.Hour,
		ChallengeTTL:  5 * time.Minute,
		BcryptCost:    4,
		LogLevel:      "error",
	}
}

// TruncateAll empties every application table for a clean test state.
func TruncateAll(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `TRUNCATE TABLE messages, conversations, encryption_key_history,
		encryption_keys, sessions, auth_challenges, users RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
