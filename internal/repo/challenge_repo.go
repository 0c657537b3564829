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

// ConsumeParams identifies the challenge a verify call claims to answer
type ConsumeParams struct {
	WalletAddress string
	Challenge     string
	Purpose       string
	// UserID restricts link challenges to the account that requested them.
	UserID *uuid.UUID
	// Now is compared against expires_at. Zero means the store's own clock.
	Now time.Time
}

// ChallengeRepo defines the interface for auth challenge storage
type ChallengeRepo interface {
	Create(ctx context.Context, c model.AuthChallenge) (model.AuthChallenge, error)
	// Consume marks the matching challenge used in one statement. Exactly one of any
	// number of concurrent callers succeeds; the rest get ErrChallengeAlreadyUsed.
	Consume(ctx context.Context, p ConsumeParams) (model.AuthChallenge, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type challengeRepo struct {
	db *sql.DB
}

// NewChallengeRepo creates a new ChallengeRepo instance
func NewChallengeRepo(db *sql.DB) ChallengeRepo {
	return &challengeRepo{db: db}
}

// Create stores a fresh unused challenge
func (r *challengeRepo) Create(ctx context.Context, c model.AuthChallenge) (model.AuthChallenge, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO auth_challenges (wallet_address, challenge, purpose, user_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, c.WalletAddress, c.Challenge, c.Purpose, c.UserID, c.ExpiresAt).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return model.AuthChallenge{}, fmt.Errorf("insert challenge: %w", err)
	}
	return c, nil
}

// Consume is a compare-and-swap on used. When no row flips, a follow-up read
// classifies the failure; the read never changes state.
func (r *challengeRepo) Consume(ctx context.Context, p ConsumeParams) (model.AuthChallenge, error) {
	c := model.AuthChallenge{
		WalletAddress: p.WalletAddress,
		Challenge:     p.Challenge,
		Purpose:       p.Purpose,
		Used:          true,
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	var userID uuid.NullUUID
	var usedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		UPDATE auth_challenges
		SET used = true, used_at = $5
		WHERE wallet_address = $1
		  AND challenge = $2
		  AND purpose = $3
		  AND ($4::uuid IS NULL OR user_id = $4)
		  AND used = false
		  AND expires_at > $5
		RETURNING id, user_id, expires_at, used_at, created_at
	`, p.WalletAddress, p.Challenge, p.Purpose, p.UserID, now).Scan(&c.ID, &userID, &c.ExpiresAt, &usedAt, &c.CreatedAt)
	if err == nil {
		if userID.Valid {
			c.UserID = &userID.UUID
		}
		c.UsedAt = &usedAt
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.AuthChallenge{}, fmt.Errorf("consume challenge: %w", err)
	}

	var used, expired bool
	err = r.db.QueryRowContext(ctx, `
		SELECT used, expires_at <= $5
		FROM auth_challenges
		WHERE wallet_address = $1
		  AND challenge = $2
		  AND purpose = $3
		  AND ($4::uuid IS NULL OR user_id = $4)
	`, p.WalletAddress, p.Challenge, p.Purpose, p.UserID, now).Scan(&used, &expired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AuthChallenge{}, apperr.ErrChallengeNotFound
		}
		return model.AuthChallenge{}, fmt.Errorf("classify challenge: %w", err)
	}
	if used {
		return model.AuthChallenge{}, apperr.ErrChallengeAlreadyUsed
	}
	if expired {
		return model.AuthChallenge{}, apperr.ErrChallengeExpired
	}
	// Row changed between the two statements.
	return model.AuthChallenge{}, apperr.ErrChallengeAlreadyUsed
}

// DeleteExpired removes challenges that expired before the cutoff
func (r *challengeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM auth_challenges WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
