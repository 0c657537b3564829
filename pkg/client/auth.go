package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Challenge is a sign-in message issued for a wallet
type Challenge struct {
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session is returned by every sign-in call
type Session struct {
	SessionToken string    `json:"sessionToken"`
	UserID       uuid.UUID `json:"userId"`
	ExpiresAt    time.Time `json:"expiresAt"`
	IsNewUser    bool      `json:"isNewUser"`
}

// User is the signed-in account
type User struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress *string   `json:"walletAddress"`
	Email         *string   `json:"email"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"createdAt"`
}

type walletAddressBody struct {
	WalletAddress string `json:"walletAddress"`
}

// WalletProof is a signed challenge
type WalletProof struct {
	WalletAddress string `json:"walletAddress"`
	Challenge     string `json:"challenge"`
	Signature     string `json:"signature"`
	PublicKey     string `json:"publicKey"`
}

// Prove signs challenge with w
func Prove(w *Wallet, challenge string) WalletProof {
	return WalletProof{
		WalletAddress: w.Address(),
		Challenge:     challenge,
		Signature:     w.Sign(challenge),
		PublicKey:     w.Address(),
	}
}

type emailPassword struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RequestChallenge asks for a login challenge for walletAddress
func (c *Client) RequestChallenge(ctx context.Context, walletAddress string) (*Challenge, error) {
	var ch Challenge
	if err := c.post(ctx, "/auth/wallet/challenge", walletAddressBody{WalletAddress: walletAddress}, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// Verify submits a proof and keeps the resulting session
func (c *Client) Verify(ctx context.Context, proof WalletProof) (*Session, error) {
	var s Session
	if err := c.post(ctx, "/auth/wallet/verify", proof, &s); err != nil {
		return nil, err
	}
	c.setSession(s.SessionToken, s.UserID)
	return &s, nil
}

// SignInWithWallet runs the challenge, sign and verify round trip
func (c *Client) SignInWithWallet(ctx context.Context, w *Wallet) (*Session, error) {
	ch, err := c.RequestChallenge(ctx, w.Address())
	if err != nil {
		return nil, fmt.Errorf("request challenge: %w", err)
	}
	return c.Verify(ctx, Prove(w, ch.Challenge))
}

// LinkWallet binds w to the signed-in account
func (c *Client) LinkWallet(ctx context.Context, w *Wallet) error {
	var ch Challenge
	if err := c.post(ctx, "/auth/wallet/link-challenge", walletAddressBody{WalletAddress: w.Address()}, &ch); err != nil {
		return fmt.Errorf("request link challenge: %w", err)
	}
	return c.post(ctx, "/auth/wallet/link-verify", Prove(w, ch.Challenge), nil)
}

// UnlinkWallet removes the account's wallet; it needs a password login to remain
func (c *Client) UnlinkWallet(ctx context.Context) error {
	return c.post(ctx, "/auth/wallet/unlink", nil, nil)
}

// Register creates an email + password account and signs in
func (c *Client) Register(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	if err := c.post(ctx, "/auth/register", emailPassword{Email: email, Password: password}, &s); err != nil {
		return nil, err
	}
	c.setSession(s.SessionToken, s.UserID)
	return &s, nil
}

// Login signs in with email + password
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	if err := c.post(ctx, "/auth/login", emailPassword{Email: email, Password: password}, &s); err != nil {
		return nil, err
	}
	c.setSession(s.SessionToken, s.UserID)
	return &s, nil
}

// Logout revokes the current session and forgets its token
func (c *Client) Logout(ctx context.Context) error {
	if err := c.post(ctx, "/auth/logout", nil, nil); err != nil {
		return err
	}
	c.setSession("", uuid.Nil)
	return nil
}

// Me returns the signed-in user
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, "/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}
