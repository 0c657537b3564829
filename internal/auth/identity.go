package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/metrics"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
)

// WalletProof is what a client submits after signing a challenge.
// Signature and PublicKey are base58, as wallets produce them.
type WalletProof struct {
	WalletAddress string
	Challenge     string
	Signature     string
	PublicKey     string
}

// AuthResult is returned by a successful wallet login
type AuthResult struct {
	User    model.User
	Session IssuedSession
	Created bool
}

// IdentityResolver maps verified wallets to accounts and issues sessions
type IdentityResolver struct {
	challenges *ChallengeStore
	sessions   *SessionIssuer
	users      repo.UserRepo
	log        *slog.Logger
}

// NewIdentityResolver creates an IdentityResolver
func NewIdentityResolver(challenges *ChallengeStore, sessions *SessionIssuer, users repo.UserRepo, log *slog.Logger) *IdentityResolver {
	if log == nil {
		log = slog.Default()
	}
	return &IdentityResolver{
		challenges: challenges,
		sessions:   sessions,
		users:      users,
		log:        log,
	}
}

// RequestChallenge issues a login challenge for walletAddress
func (r *IdentityResolver) RequestChallenge(ctx context.Context, walletAddress string) (model.AuthChallenge, error) {
	return r.challenges.Issue(ctx, walletAddress, model.PurposeLogin, nil)
}

// RequestLinkChallenge issues a challenge bound to an authenticated user
func (r *IdentityResolver) RequestLinkChallenge(ctx context.Context, userID uuid.UUID, walletAddress string) (model.AuthChallenge, error) {
	return r.challenges.Issue(ctx, walletAddress, model.PurposeLink, &userID)
}

// VerifyAndAuthenticate checks the proof, consumes the challenge and signs the
// wallet in, creating the account on its first login.
func (r *IdentityResolver) VerifyAndAuthenticate(ctx context.Context, proof WalletProof) (AuthResult, error) {
	if err := r.verifyProof(ctx, proof, model.PurposeLogin, nil); err != nil {
		return AuthResult{}, err
	}

	user, created, err := r.users.GetOrCreateByWallet(ctx, proof.WalletAddress)
	if err != nil {
		return AuthResult{}, fmt.Errorf("failed to get or create user: %w", err)
	}

	issued, err := r.sessions.Issue(ctx, user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("failed to issue session: %w", err)
	}

	r.log.Info("wallet login", "user_id", user.ID, "wallet", MaskWallet(proof.WalletAddress), "new_account", created)
	return AuthResult{User: user, Session: issued, Created: created}, nil
}

// LinkWallet binds a proven wallet to an existing account
func (r *IdentityResolver) LinkWallet(ctx context.Context, userID uuid.UUID, proof WalletProof) error {
	if err := r.verifyProof(ctx, proof, model.PurposeLink, &userID); err != nil {
		return err
	}

	owner, err := r.users.GetByWallet(ctx, proof.WalletAddress)
	switch {
	case err == nil && owner.ID != userID:
		return r.linkFailure(userID, proof.WalletAddress, apperr.ErrWalletAlreadyLinked)
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return fmt.Errorf("lookup wallet owner: %w", err)
	}

	if err := r.users.SetWallet(ctx, userID, proof.WalletAddress); err != nil {
		if errors.Is(err, apperr.ErrWalletAlreadyLinked) || errors.Is(err, apperr.ErrAccountAlreadyHasWallet) {
			return r.linkFailure(userID, proof.WalletAddress, err)
		}
		return fmt.Errorf("set wallet: %w", err)
	}

	r.log.Info("wallet linked", "user_id", userID, "wallet", MaskWallet(proof.WalletAddress))
	return nil
}

// UnlinkWallet removes the wallet if the account keeps a password login
func (r *IdentityResolver) UnlinkWallet(ctx context.Context, userID uuid.UUID) error {
	if err := r.users.ClearWallet(ctx, userID); err != nil {
		if errors.Is(err, apperr.ErrCannotRemoveOnlyAuthMethod) {
			r.log.Info("wallet unlink refused", "user_id", userID)
		}
		return err
	}
	return nil
}

// verifyProof runs the address, signature and consume checks in that order.
// The specific failure is logged and counted; callers only see the kind via errors.Is.
func (r *IdentityResolver) verifyProof(ctx context.Context, proof WalletProof, purpose string, userID *uuid.UUID) error {
	pub, err := DecodeBase58(proof.PublicKey)
	if err != nil {
		return r.authFailure(proof, apperr.ErrAddressMismatch.With(err))
	}
	derived, err := DeriveWalletAddress(pub)
	if err != nil || derived != proof.WalletAddress {
		return r.authFailure(proof, apperr.ErrAddressMismatch)
	}

	sig, err := DecodeBase58(proof.Signature)
	if err != nil || !Verify([]byte(proof.Challenge), sig, pub) {
		return r.authFailure(proof, apperr.ErrInvalidSignature)
	}

	_, err = r.challenges.Consume(ctx, repo.ConsumeParams{
		WalletAddress: proof.WalletAddress,
		Challenge:     proof.Challenge,
		Purpose:       purpose,
		UserID:        userID,
	})
	if err != nil {
		if apperr.IsAuthFailure(err) {
			return r.authFailure(proof, err)
		}
		return fmt.Errorf("consume challenge: %w", err)
	}
	return nil
}

func (r *IdentityResolver) authFailure(proof WalletProof, err error) error {
	kind := apperr.KindOf(err)
	metrics.AuthFailures.WithLabelValues(kind).Inc()
	r.log.Warn("wallet auth failed", "kind", kind, "wallet", MaskWallet(proof.WalletAddress))
	return err
}

func (r *IdentityResolver) linkFailure(userID uuid.UUID, wallet string, err error) error {
	kind := apperr.KindOf(err)
	metrics.AuthFailures.WithLabelValues(kind).Inc()
	r.log.Warn("wallet link rejected", "kind", kind, "user_id", userID, "wallet", MaskWallet(wallet))
	return err
}

// MaskWallet keeps the first and last four characters of an address for logs
func MaskWallet(addr string) string {
	if len(addr) <= 8 {
		return "****"
	}
	return addr[:4] + "…" + addr[len(addr)-4:]
}
