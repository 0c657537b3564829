package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memechat/server/internal/auth"
	"github.com/memechat/server/internal/middleware"
	"github.com/memechat/server/internal/model"
)

// AuthLimits are the request budgets of the public auth endpoints.
// WalletIPs caps challenges per wallet from a single IP, so a third party
// cannot exhaust the budget of a wallet it does not control.
type AuthLimits struct {
	Window       time.Duration
	ChallengeIPs int
	VerifyIPs    int
	PasswordIPs  int
	WalletIPs    int
}

// DefaultAuthLimits: per 10min, 30 challenges, 60 verifies and 20 password
// attempts per IP, 20 challenges per wallet and IP
var DefaultAuthLimits = AuthLimits{
	Window:       10 * time.Minute,
	ChallengeIPs: 30,
	VerifyIPs:    60,
	PasswordIPs:  20,
	WalletIPs:    20,
}

func (l AuthLimits) withDefaults() AuthLimits {
	d := DefaultAuthLimits
	if l.Window <= 0 {
		l.Window = d.Window
	}
	if l.ChallengeIPs <= 0 {
		l.ChallengeIPs = d.ChallengeIPs
	}
	if l.VerifyIPs <= 0 {
		l.VerifyIPs = d.VerifyIPs
	}
	if l.PasswordIPs <= 0 {
		l.PasswordIPs = d.PasswordIPs
	}
	if l.WalletIPs <= 0 {
		l.WalletIPs = d.WalletIPs
	}
	return l
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	identity  *auth.IdentityResolver
	passwords *auth.PasswordAuth
	sessions  *auth.SessionIssuer
	log       *slog.Logger

	challengeLimiter *middleware.RateLimiter
	verifyLimiter    *middleware.RateLimiter
	passwordLimiter  *middleware.RateLimiter
	walletLimiter    *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	identity *auth.IdentityResolver,
	passwords *auth.PasswordAuth,
	sessions *auth.SessionIssuer,
	limits AuthLimits,
	log *slog.Logger,
) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	limits = limits.withDefaults()
	return &AuthHandler{
		identity:         identity,
		passwords:        passwords,
		sessions:         sessions,
		log:              log,
		challengeLimiter: middleware.NewRateLimiter(limits.Window, limits.ChallengeIPs),
		verifyLimiter:    middleware.NewRateLimiter(limits.Window, limits.VerifyIPs),
		passwordLimiter:  middleware.NewRateLimiter(limits.Window, limits.PasswordIPs),
		walletLimiter:    middleware.NewRateLimiter(limits.Window, limits.WalletIPs),
	}
}

// Close stops the limiter cleanup loops
func (h *AuthHandler) Close() {
	h.challengeLimiter.Stop()
	h.verifyLimiter.Stop()
	h.passwordLimiter.Stop()
	h.walletLimiter.Stop()
}

// ChallengeLimit limits challenge issuance per client IP
func (h *AuthHandler) ChallengeLimit() func(http.Handler) http.Handler {
	return middleware.RateLimitMiddleware(h.challengeLimiter, middleware.GetIPKey)
}

// VerifyLimit limits signature verification per client IP
func (h *AuthHandler) VerifyLimit() func(http.Handler) http.Handler {
	return middleware.RateLimitMiddleware(h.verifyLimiter, middleware.GetIPKey)
}

// PasswordLimit limits register and login per client IP
func (h *AuthHandler) PasswordLimit() func(http.Handler) http.Handler {
	return middleware.RateLimitMiddleware(h.passwordLimiter, middleware.GetIPKey)
}

type challengeRequest struct {
	WalletAddress string `json:"walletAddress" validate:"required,max=64"`
}

type challengeResponse struct {
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type verifyRequest struct {
	WalletAddress string `json:"walletAddress" validate:"required,max=64"`
	Challenge     string `json:"challenge" validate:"required,max=512"`
	Signature     string `json:"signature" validate:"required,max=128"`
	PublicKey     string `json:"publicKey" validate:"required,max=64"`
}

func (req verifyRequest) proof() auth.WalletProof {
	return auth.WalletProof{
		WalletAddress: req.WalletAddress,
		Challenge:     req.Challenge,
		Signature:     req.Signature,
		PublicKey:     req.PublicKey,
	}
}

// sessionResponse is returned by every endpoint that signs a user in
type sessionResponse struct {
	SessionToken string    `json:"sessionToken"`
	UserID       string    `json:"userId"`
	ExpiresAt    time.Time `json:"expiresAt"`
	IsNewUser    bool      `json:"isNewUser"`
}

type passwordRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type meResponse struct {
	ID            string    `json:"id"`
	WalletAddress *string   `json:"walletAddress"`
	Email         *string   `json:"email"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HandleChallenge handles POST /auth/wallet/challenge
func (h *AuthHandler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	wallet := strings.TrimSpace(req.WalletAddress)
	if !h.walletLimiter.Allow(middleware.GetWalletKey(r, wallet)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	c, err := h.identity.RequestChallenge(r.Context(), wallet)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, challengeResponse{Challenge: c.Challenge, ExpiresAt: c.ExpiresAt})
}

// HandleVerify handles POST /auth/wallet/verify
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	res, err := h.identity.VerifyAndAuthenticate(r.Context(), req.proof())
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(res.User, res.Session, res.Created))
}

// HandleLinkChallenge handles POST /auth/wallet/link-challenge (protected)
func (h *AuthHandler) HandleLinkChallenge(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	wallet := strings.TrimSpace(req.WalletAddress)
	if !h.walletLimiter.Allow(middleware.GetWalletKey(r, wallet)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	c, err := h.identity.RequestLinkChallenge(r.Context(), userID, wallet)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, challengeResponse{Challenge: c.Challenge, ExpiresAt: c.ExpiresAt})
}

// HandleLinkVerify handles POST /auth/wallet/link-verify (protected)
func (h *AuthHandler) HandleLinkVerify(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	if err := h.identity.LinkWallet(r.Context(), userID, req.proof()); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

// HandleUnlink handles POST /auth/wallet/unlink (protected)
func (h *AuthHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	if err := h.identity.UnlinkWallet(r.Context(), userID); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	user, issued, err := h.passwords.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, newSessionResponse(user, issued, true))
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	user, issued, err := h.passwords.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newSessionResponse(user, issued, false))
}

// HandleLogout handles POST /auth/logout (protected). Revokes the calling session.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if err := h.sessions.Revoke(r.Context(), sessionID); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	respondJSON(w, http.StatusOK, meResponse{
		ID:            user.ID.String(),
		WalletAddress: user.WalletAddress,
		Email:         user.Email,
		Role:          user.Role,
		CreatedAt:     user.CreatedAt,
	})
}

func newSessionResponse(user model.User, issued auth.IssuedSession, created bool) sessionResponse {
	return sessionResponse{
		SessionToken: issued.Token,
		UserID:       user.ID.String(),
		ExpiresAt:    issued.Session.ExpiresAt,
		IsNewUser:    created,
	}
}
