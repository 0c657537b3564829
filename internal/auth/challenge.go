package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/metrics"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
)

const (
	// DefaultChallengeTTL is how long a challenge can be answered
	DefaultChallengeTTL = 5 * time.Minute
	// MaxChallengeTTL bounds configuration to minutes, not hours
	MaxChallengeTTL = 15 * time.Minute
)

// ChallengeStore issues and consumes single-use challenges
type ChallengeStore struct {
	repo repo.ChallengeRepo
	ttl  time.Duration
	now  func() time.Time
}

// NewChallengeStore creates a ChallengeStore. ttl <= 0 selects DefaultChallengeTTL.
func NewChallengeStore(r repo.ChallengeRepo, ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if ttl > MaxChallengeTTL {
		ttl = MaxChallengeTTL
	}
	return &ChallengeStore{repo: r, ttl: ttl, now: time.Now}
}

// TTL returns the configured challenge lifetime
func (s *ChallengeStore) TTL() time.Duration {
	return s.ttl
}

// ChallengeMessage renders the exact text a wallet signs
func ChallengeMessage(walletAddress, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf("memechat wants you to sign in with your wallet.\n\nWallet: %s\nNonce: %s\nIssued At: %s",
		walletAddress, nonce, issuedAt.UTC().Format(time.RFC3339))
}

// Issue creates a new challenge for walletAddress. Outstanding challenges stay valid.
// userID binds link challenges to the requesting account.
func (s *ChallengeStore) Issue(ctx context.Context, walletAddress, purpose string, userID *uuid.UUID) (model.AuthChallenge, error) {
	if !ValidWalletAddress(walletAddress) {
		return model.AuthChallenge{}, apperr.ErrInvalidArgument.Withf("invalid wallet address")
	}

	now := s.now()
	nonce, err := randomHex(challengeNonceBytes)
	if err != nil {
		return model.AuthChallenge{}, fmt.Errorf("generate nonce: %w", err)
	}

	c, err := s.repo.Create(ctx, model.AuthChallenge{
		WalletAddress: walletAddress,
		Challenge:     ChallengeMessage(walletAddress, nonce, now),
		Purpose:       purpose,
		UserID:        userID,
		ExpiresAt:     now.Add(s.ttl),
	})
	if err != nil {
		return model.AuthChallenge{}, err
	}
	metrics.ChallengesIssued.WithLabelValues(purpose).Inc()
	return c, nil
}

// Consume atomically marks the challenge used. Failures are one of
// ErrChallengeNotFound, ErrChallengeExpired or ErrChallengeAlreadyUsed.
// Expiry is judged by the same clock that stamped ExpiresAt.
func (s *ChallengeStore) Consume(ctx context.Context, p repo.ConsumeParams) (model.AuthChallenge, error) {
	if p.Now.IsZero() {
		p.Now = s.now()
	}
	return s.repo.Consume(ctx, p)
}
