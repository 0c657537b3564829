package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/model"
)

// SessionRepo defines the interface for server-side session records
type SessionRepo interface {
	Create(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (model.Session, error)
	// Get returns the session regardless of state; callers check Active.
	Get(ctx context.Context, id uuid.UUID) (model.Session, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// Create inserts a new session
func (r *sessionRepo) Create(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (model.Session, error) {
	s := model.Session{UserID: userID, ExpiresAt: expiresAt}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, expires_at)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, userID, expiresAt).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// Get loads a session by id
func (r *sessionRepo) Get(ctx context.Context, id uuid.UUID) (model.Session, error) {
	var s model.Session
	var revokedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at, revoked_at, created_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &revokedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, apperr.ErrNotFound.Withf("session not found")
		}
		return model.Session{}, fmt.Errorf("query session: %w", err)
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	return s, nil
}

// Revoke sets revoked_at = now() for an active session. Revoking twice is a no-op.
func (r *sessionRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active session of a user
func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteExpired removes sessions that expired before the cutoff
func (r *sessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
