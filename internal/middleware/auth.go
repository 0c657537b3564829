package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/auth"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
)

type contextKey string

const (
	userKey      contextKey = "user"
	userIDKey    contextKey = "user_id"
	sessionIDKey contextKey = "session_id"
)

// AuthMiddleware resolves the bearer token to a live session and loads its user.
// Every rejected token is the same 401 so callers cannot tell why. Storage
// failures are 500 so clients do not drop a valid session during an outage.
func AuthMiddleware(sessions *auth.SessionIssuer, userRepo repo.UserRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}

			sess, err := sessions.Validate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, apperr.ErrUnauthenticated) {
					slog.ErrorContext(r.Context(), "session lookup failed", "error", err)
					respondWithError(w, http.StatusInternalServerError, "internal error")
					return
				}
				respondWithError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}

			user, err := userRepo.GetByID(r.Context(), sess.UserID)
			if err != nil {
				if !errors.Is(err, apperr.ErrNotFound) {
					slog.ErrorContext(r.Context(), "user lookup failed", "error", err)
					respondWithError(w, http.StatusInternalServerError, "internal error")
					return
				}
				respondWithError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			ctx = context.WithValue(ctx, userIDKey, user.ID)
			ctx = context.WithValue(ctx, sessionIDKey, sess.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

// GetSessionID extracts the current session ID from context
func GetSessionID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(sessionIDKey).(uuid.UUID)
	return id, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
