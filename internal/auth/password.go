package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/metrics"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// PasswordAuth handles email + password accounts
type PasswordAuth struct {
	users    repo.UserRepo
	sessions *SessionIssuer
	cost     int
}

// NewPasswordAuth creates a PasswordAuth. cost <= 0 selects bcrypt.DefaultCost.
func NewPasswordAuth(users repo.UserRepo, sessions *SessionIssuer, cost int) *PasswordAuth {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordAuth{users: users, sessions: sessions, cost: cost}
}

// NormalizeEmail lower-cases and trims an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs it in
func (p *PasswordAuth) Register(ctx context.Context, email, password string) (model.User, IssuedSession, error) {
	email = NormalizeEmail(email)
	if len(password) < minPasswordLength {
		return model.User{}, IssuedSession{}, apperr.ErrInvalidArgument.Withf("password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return model.User{}, IssuedSession{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := p.users.CreateWithPassword(ctx, email, string(hash))
	if err != nil {
		return model.User{}, IssuedSession{}, err
	}
	issued, err := p.sessions.Issue(ctx, user.ID)
	if err != nil {
		return model.User{}, IssuedSession{}, err
	}
	return user, issued, nil
}

// Login checks credentials. Unknown email and wrong password are the same error.
func (p *PasswordAuth) Login(ctx context.Context, email, password string) (model.User, IssuedSession, error) {
	user, err := p.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			metrics.AuthFailures.WithLabelValues(apperr.ErrInvalidCredentials.Kind).Inc()
			return model.User{}, IssuedSession{}, apperr.ErrInvalidCredentials
		}
		return model.User{}, IssuedSession{}, err
	}
	if user.PasswordHash == nil || bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) != nil {
		metrics.AuthFailures.WithLabelValues(apperr.ErrInvalidCredentials.Kind).Inc()
		return model.User{}, IssuedSession{}, apperr.ErrInvalidCredentials
	}
	issued, err := p.sessions.Issue(ctx, user.ID)
	if err != nil {
		return model.User{}, IssuedSession{}, err
	}
	return user, issued, nil
}
