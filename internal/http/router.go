package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/memechat/server/internal/auth"
	"github.com/memechat/server/internal/http/handlers"
	"github.com/memechat/server/internal/middleware"
	"github.com/memechat/server/internal/repo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps is everything the router needs to mount its handlers
type RouterDeps struct {
	Auth     *handlers.AuthHandler
	Keys     *handlers.KeyHandler
	Messages *handlers.MessageHandler
	Health   *handlers.HealthHandler

	Sessions *auth.SessionIssuer
	Users    repo.UserRepo

	AllowedOrigins []string
	Log            *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) *chi.Mux {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics())
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", d.Health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	requireSession := middleware.AuthMiddleware(d.Sessions, d.Users)

	r.Route("/auth", func(r chi.Router) {
		r.With(d.Auth.ChallengeLimit()).Post("/wallet/challenge", d.Auth.HandleChallenge)
		r.With(d.Auth.VerifyLimit()).Post("/wallet/verify", d.Auth.HandleVerify)
		r.With(d.Auth.PasswordLimit()).Post("/register", d.Auth.HandleRegister)
		r.With(d.Auth.PasswordLimit()).Post("/login", d.Auth.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/logout", d.Auth.HandleLogout)
			r.With(d.Auth.ChallengeLimit()).Post("/wallet/link-challenge", d.Auth.HandleLinkChallenge)
			r.With(d.Auth.VerifyLimit()).Post("/wallet/link-verify", d.Auth.HandleLinkVerify)
			r.Post("/wallet/unlink", d.Auth.HandleUnlink)
		})
	})

	// Protected routes (require a live session)
	r.Group(func(r chi.Router) {
		r.Use(requireSession)

		r.Get("/me", d.Auth.HandleMe)

		r.Put("/keys", d.Keys.HandlePublish)
		r.Get("/keys/{userId}", d.Keys.HandleLookup)

		r.Post("/conversations", d.Messages.HandleCreateConversation)
		r.Get("/conversations", d.Messages.HandleListConversations)
		r.Post("/conversations/{id}/messages", d.Messages.HandleSend)
		r.Get("/conversations/{id}/messages", d.Messages.HandleList)
		r.Post("/conversations/{id}/read", d.Messages.HandleMarkRead)
		r.Delete("/messages/{id}", d.Messages.HandleDelete)
	})

	return r
}
