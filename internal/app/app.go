// Package app wires configuration, storage and HTTP handlers into a server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/memechat/server/internal/auth"
	"github.com/memechat/server/internal/config"
	"github.com/memechat/server/internal/db"
	httphandler "github.com/memechat/server/internal/http"
	"github.com/memechat/server/internal/http/handlers"
	"github.com/memechat/server/internal/keys"
	"github.com/memechat/server/internal/messaging"
	"github.com/memechat/server/internal/notify"
	"github.com/memechat/server/internal/repo"
	"github.com/memechat/server/internal/repo/memrepo"
)

// Repos groups every repository the server depends on
type Repos struct {
	Users         repo.UserRepo
	Challenges    repo.ChallengeRepo
	Sessions      repo.SessionRepo
	Keys          repo.KeyRepo
	Conversations repo.ConversationRepo
	Messages      repo.MessageRepo
}

// PostgresRepos builds the SQL-backed repositories
func PostgresRepos(database *sql.DB) Repos {
	return Repos{
		Users:         repo.NewUserRepo(database),
		Challenges:    repo.NewChallengeRepo(database),
		Sessions:      repo.NewSessionRepo(database),
		Keys:          repo.NewKeyRepo(database),
		Conversations: repo.NewConversationRepo(database),
		Messages:      repo.NewMessageRepo(database),
	}
}

// MemoryRepos builds repositories over a single in-memory store
func MemoryRepos(store *memrepo.Store) Repos {
	return Repos{
		Users:         store.Users(),
		Challenges:    store.Challenges(),
		Sessions:      store.Sessions(),
		Keys:          store.Keys(),
		Conversations: store.Conversations(),
		Messages:      store.Messages(),
	}
}

// Options are the optional collaborators of New
type Options struct {
	Notifier   notify.Dispatcher
	Friends    messaging.FriendshipChecker
	AuthLimits handlers.AuthLimits
}

// App is a fully wired server
type App struct {
	Handler  http.Handler
	Sessions *auth.SessionIssuer
	Messages *messaging.Service
	Keys     *keys.Directory

	authHandler *handlers.AuthHandler
	closers     []func() error
}

// New opens storage according to cfg and builds the handler tree
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	var (
		repos   Repos
		pinger  handlers.Pinger
		closers []func() error
	)

	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("using in-memory storage; data is lost on restart")
		repos = MemoryRepos(memrepo.New())
	default:
		database, err := db.Open(ctx, cfg.DatabaseURL, cfg.Pool)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Migrate(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		repos = PostgresRepos(database)
		pinger = database
		closers = append(closers, database.Close)
	}

	var notifier notify.Dispatcher = notify.LogDispatcher{Log: log}
	if cfg.RedisURL != "" {
		rd, err := notify.NewRedisDispatcher(ctx, cfg.RedisURL)
		if err != nil {
			runClosers(closers)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		notifier = rd
		closers = append(closers, rd.Close)
	}

	a := Build(cfg, repos, pinger, Options{Notifier: notifier}, log)
	a.closers = append(a.closers, closers...)
	return a, nil
}

// Build wires services and handlers over already opened repositories
func Build(cfg *config.Config, repos Repos, pinger handlers.Pinger, opts Options, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	friends := opts.Friends
	if friends == nil {
		friends = messaging.AllowAll{}
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	sessions := auth.NewSessionIssuer(repos.Sessions, jwtService, cfg.SessionTTL)
	challenges := auth.NewChallengeStore(repos.Challenges, cfg.ChallengeTTL)
	identity := auth.NewIdentityResolver(challenges, sessions, repos.Users, log)
	passwords := auth.NewPasswordAuth(repos.Users, sessions, cfg.BcryptCost)

	keyDir := keys.NewDirectory(repos.Keys, log)
	convs := messaging.NewConversationStore(repos.Conversations, repos.Users, friends)
	svc := messaging.NewService(convs, repos.Messages, keyDir, opts.Notifier, log)

	authHandler := handlers.NewAuthHandler(identity, passwords, sessions, opts.AuthLimits, log)
	router := httphandler.NewRouter(httphandler.RouterDeps{
		Auth:           authHandler,
		Keys:           handlers.NewKeyHandler(keyDir, log),
		Messages:       handlers.NewMessageHandler(svc, log),
		Health:         handlers.NewHealthHandler(pinger),
		Sessions:       sessions,
		Users:          repos.Users,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Log:            log,
	})

	return &App{
		Handler:     router,
		Sessions:    sessions,
		Messages:    svc,
		Keys:        keyDir,
		authHandler: authHandler,
	}
}

// Close releases storage and background goroutines
func (a *App) Close() error {
	a.authHandler.Close()
	return runClosers(a.closers)
}

func runClosers(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
