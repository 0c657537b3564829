package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memechat/server/internal/auth"
	"github.com/memechat/server/internal/db"
	"github.com/spf13/viper"
)

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const minJWTSecretLength = 32

// Config holds the application configuration
type Config struct {
	DatabaseURL   string
	StorageDriver string
	Pool          db.PoolConfig

	Port         string
	JWTSecret    string
	SessionTTL   time.Duration
	ChallengeTTL time.Duration
	BcryptCost   int

	RedisURL           string
	CORSAllowedOrigins []string

	LogLevel string
	DevMode  bool
}

// Load reads configuration from environment variables and an optional
// config.yaml in . or ./config. Environment always wins.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("STORAGE_DRIVER", StoragePostgres)
	v.SetDefault("SESSION_TTL", auth.DefaultSessionTTL)
	v.SetDefault("CHALLENGE_TTL", auth.DefaultChallengeTTL)
	v.SetDefault("BCRYPT_COST", 0)
	v.SetDefault("DB_MAX_OPEN_CONNS", db.DefaultPool.MaxOpenConns)
	v.SetDefault("DB_MAX_IDLE_CONNS", db.DefaultPool.MaxIdleConns)
	v.SetDefault("DB_CONN_MAX_LIFETIME", db.DefaultPool.ConnMaxLifetime)
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", db.DefaultPool.ConnMaxIdleTime)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEV_MODE", false)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabaseURL:   strings.TrimSpace(v.GetString("DATABASE_URL")),
		StorageDriver: strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_DRIVER"))),
		Pool: db.PoolConfig{
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		Port:         v.GetString("PORT"),
		JWTSecret:    v.GetString("JWT_SECRET"),
		SessionTTL:   v.GetDuration("SESSION_TTL"),
		ChallengeTTL: v.GetDuration("CHALLENGE_TTL"),
		BcryptCost:   v.GetInt("BCRYPT_COST"),
		RedisURL:     strings.TrimSpace(v.GetString("REDIS_URL")),
		LogLevel:     v.GetString("LOG_LEVEL"),
		DevMode:      v.GetBool("DEV_MODE"),
	}
	for _, origin := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	if len(cfg.CORSAllowedOrigins) == 0 && cfg.DevMode {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	switch cfg.StorageDriver {
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required")
		}
		slog.Info("database configured", "dsn", db.RedactDSN(cfg.DatabaseURL))
	case StorageMemory:
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.StorageDriver)
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET environment variable must be at least %d characters", minJWTSecretLength)
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}
	if cfg.ChallengeTTL <= 0 || cfg.ChallengeTTL > auth.MaxChallengeTTL {
		return nil, fmt.Errorf("CHALLENGE_TTL must be between 0 and %s", auth.MaxChallengeTTL)
	}

	return cfg, nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
