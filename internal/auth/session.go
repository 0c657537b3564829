package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/metrics"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
)

// DefaultSessionTTL is used when no TTL is configured
const DefaultSessionTTL = 24 * time.Hour

// IssuedSession is a freshly minted session and its bearer token
type IssuedSession struct {
	Token   string
	Session model.Session
}

// SessionIssuer mints and validates bearer sessions
type SessionIssuer struct {
	sessions repo.SessionRepo
	jwt      *JWTService
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionIssuer creates a SessionIssuer
func NewSessionIssuer(sessions repo.SessionRepo, jwtService *JWTService, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionIssuer{sessions: sessions, jwt: jwtService, ttl: ttl, now: time.Now}
}

// Issue creates a session row and signs a token referencing it
func (s *SessionIssuer) Issue(ctx context.Context, userID uuid.UUID) (IssuedSession, error) {
	now := s.now()
	sess, err := s.sessions.Create(ctx, userID, now.Add(s.ttl))
	if err != nil {
		return IssuedSession{}, fmt.Errorf("create session: %w", err)
	}
	token, err := s.jwt.SignSessionToken(userID, sess.ID, now, sess.ExpiresAt)
	if err != nil {
		return IssuedSession{}, err
	}
	metrics.SessionsIssued.Inc()
	return IssuedSession{Token: token, Session: sess}, nil
}

// Validate resolves a token to its live session. Every failure, including an
// unknown, expired or revoked session, is ErrUnauthenticated.
func (s *SessionIssuer) Validate(ctx context.Context, token string) (model.Session, error) {
	claims, err := s.jwt.VerifyToken(token)
	if err != nil {
		return model.Session{}, apperr.ErrUnauthenticated.With(err)
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return model.Session{}, apperr.ErrUnauthenticated
		}
		return model.Session{}, err
	}
	if sess.UserID != claims.UserID || !sess.Active(s.now()) {
		return model.Session{}, apperr.ErrUnauthenticated
	}
	return sess, nil
}

// Revoke invalidates a session immediately
func (s *SessionIssuer) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	return s.sessions.Revoke(ctx, sessionID)
}

// RevokeAll invalidates every session of a user
func (s *SessionIssuer) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.sessions.RevokeAllForUser(ctx, userID)
}
