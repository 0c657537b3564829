package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/repo/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testWallet struct {
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	address string
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testWallet{pub: pub, priv: priv, address: base58.Encode(pub)}
}

func (w testWallet) prove(challenge string) WalletProof {
	return WalletProof{
		WalletAddress: w.address,
		Challenge:     challenge,
		Signature:     base58.Encode(ed25519.Sign(w.priv, []byte(challenge))),
		PublicKey:     base58.Encode(w.pub),
	}
}

type fixture struct {
	store      *memrepo.Store
	challenges *ChallengeStore
	sessions   *SessionIssuer
	resolver   *IdentityResolver
	passwords  *PasswordAuth
}

func newFixture() *fixture {
	store := memrepo.New()
	challenges := NewChallengeStore(store.Challenges(), time.Minute)
	sessions := NewSessionIssuer(store.Sessions(), NewJWTService("test-secret-test-secret-test-secret"), time.Hour)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store:      store,
		challenges: challenges,
		sessions:   sessions,
		resolver:   NewIdentityResolver(challenges, sessions, store.Users(), log),
		passwords:  NewPasswordAuth(store.Users(), sessions, bcrypt.MinCost),
	}
}

func TestVerify_byteExact(t *testing.T) {
	w := newTestWallet(t)
	msg := []byte("Nonce: abc")
	sig := ed25519.Sign(w.priv, msg)

	assert.True(t, Verify(msg, sig, w.pub))
	assert.False(t, Verify([]byte("Nonce: abc "), sig, w.pub), "trailing space must not verify")
	assert.False(t, Verify([]byte("nonce: abc"), sig, w.pub), "case must not be normalized")
	assert.False(t, Verify(msg, sig[:10], w.pub))
	assert.False(t, Verify(msg, sig, w.pub[:31]))
}

func TestDeriveWalletAddress(t *testing.T) {
	w := newTestWallet(t)
	addr, err := DeriveWalletAddress(w.pub)
	require.NoError(t, err)
	assert.Equal(t, w.address, addr)
	assert.True(t, ValidWalletAddress(addr))

	_, err = DeriveWalletAddress([]byte{1, 2, 3})
	assert.Error(t, err)
	assert.False(t, ValidWalletAddress("0OIl"))
}

func TestIssue_challengeShape(t *testing.T) {
	f := newFixture()
	w := newTestWallet(t)
	ctx := context.Background()

	c1, err := f.resolver.RequestChallenge(ctx, w.address)
	require.NoError(t, err)
	c2, err := f.resolver.RequestChallenge(ctx, w.address)
	require.NoError(t, err)

	assert.NotEqual(t, c1.Challenge, c2.Challenge)
	assert.Contains(t, c1.Challenge, w.address)
	assert.WithinDuration(t, time.Now().Add(time.Minute), c1.ExpiresAt, 5*time.Second)

	_, err = f.resolver.RequestChallenge(ctx, "not-a-wallet")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestVerifyAndAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("A_LoginCreatesAccountOnce", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)

		c, err := f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)
		res, err := f.resolver.VerifyAndAuthenticate(ctx, w.prove(c.Challenge))
		require.NoError(t, err)
		assert.True(t, res.Created)
		require.NotNil(t, res.User.WalletAddress)
		assert.Equal(t, w.address, *res.User.WalletAddress)

		sess, err := f.sessions.Validate(ctx, res.Session.Token)
		require.NoError(t, err)
		assert.Equal(t, res.User.ID, sess.UserID)

		c, err = f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)
		again, err := f.resolver.VerifyAndAuthenticate(ctx, w.prove(c.Challenge))
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, res.User.ID, again.User.ID)
		assert.NotEqual(t, res.Session.Token, again.Session.Token)
	})

	t.Run("B_ReplayIsAlreadyUsed", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		c, err := f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)
		proof := w.prove(c.Challenge)

		_, err = f.resolver.VerifyAndAuthenticate(ctx, proof)
		require.NoError(t, err)
		_, err = f.resolver.VerifyAndAuthenticate(ctx, proof)
		assert.ErrorIs(t, err, apperr.ErrChallengeAlreadyUsed)
		assert.Equal(t, "authentication failed", apperr.PublicMessage(err))
	})

	t.Run("C_ConcurrentVerifyExactlyOneWins", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		c, err := f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)
		proof := w.prove(c.Challenge)

		const n = 16
		errs := make([]error, n)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = f.resolver.VerifyAndAuthenticate(ctx, proof)
			}(i)
		}
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, apperr.ErrChallengeAlreadyUsed)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("D_ExpiredRejectedWithValidSignature", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		f.challenges.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
		c, err := f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)
		f.challenges.now = time.Now

		_, err = f.resolver.VerifyAndAuthenticate(ctx, w.prove(c.Challenge))
		assert.ErrorIs(t, err, apperr.ErrChallengeExpired)
	})

	t.Run("E_AddressMismatch", func(t *testing.T) {
		f := newFixture()
		a := newTestWallet(t)
		b := newTestWallet(t)
		c, err := f.resolver.RequestChallenge(ctx, b.address)
		require.NoError(t, err)

		proof := a.prove(c.Challenge)
		proof.WalletAddress = b.address
		_, err = f.resolver.VerifyAndAuthenticate(ctx, proof)
		assert.ErrorIs(t, err, apperr.ErrAddressMismatch)

		// The challenge is untouched and B can still use it.
		_, err = f.resolver.VerifyAndAuthenticate(ctx, b.prove(c.Challenge))
		assert.NoError(t, err)
	})

	t.Run("F_InvalidSignature", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		c, err := f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)

		proof := w.prove(c.Challenge + "x")
		proof.Challenge = c.Challenge
		_, err = f.resolver.VerifyAndAuthenticate(ctx, proof)
		assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	})

	t.Run("G_UnknownChallenge", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		_, err := f.resolver.VerifyAndAuthenticate(ctx, w.prove("never issued"))
		assert.ErrorIs(t, err, apperr.ErrChallengeNotFound)
	})

	t.Run("H_LoginChallengeCannotLink", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		user, _, err := f.passwords.Register(ctx, "h@example.com", "password123")
		require.NoError(t, err)
		c, err := f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)

		err = f.resolver.LinkWallet(ctx, user.ID, w.prove(c.Challenge))
		assert.ErrorIs(t, err, apperr.ErrChallengeNotFound)
	})
}

func TestLinkAndUnlink(t *testing.T) {
	ctx := context.Background()

	link := func(t *testing.T, f *fixture, userID uuid.UUID, w testWallet) error {
		c, err := f.resolver.RequestLinkChallenge(ctx, userID, w.address)
		require.NoError(t, err)
		return f.resolver.LinkWallet(ctx, userID, w.prove(c.Challenge))
	}

	t.Run("A_LinkToEmailAccount", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		user, _, err := f.passwords.Register(ctx, "A@Example.com", "password123")
		require.NoError(t, err)

		require.NoError(t, link(t, f, user.ID, w))

		c, err := f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)
		res, err := f.resolver.VerifyAndAuthenticate(ctx, w.prove(c.Challenge))
		require.NoError(t, err)
		assert.Equal(t, user.ID, res.User.ID, "wallet login must resolve to the linked email account")
		assert.False(t, res.Created)
	})

	t.Run("B_WalletAlreadyLinkedToOtherUser", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		c, err := f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)
		x, err := f.resolver.VerifyAndAuthenticate(ctx, w.prove(c.Challenge))
		require.NoError(t, err)

		y, _, err := f.passwords.Register(ctx, "y@example.com", "password123")
		require.NoError(t, err)

		err = link(t, f, y.ID, w)
		assert.ErrorIs(t, err, apperr.ErrWalletAlreadyLinked)

		owner, err := f.store.Users().GetByWallet(ctx, w.address)
		require.NoError(t, err)
		assert.Equal(t, x.User.ID, owner.ID)
	})

	t.Run("C_AccountAlreadyHasWallet", func(t *testing.T) {
		f := newFixture()
		user, _, err := f.passwords.Register(ctx, "c@example.com", "password123")
		require.NoError(t, err)
		require.NoError(t, link(t, f, user.ID, newTestWallet(t)))

		err = link(t, f, user.ID, newTestWallet(t))
		assert.ErrorIs(t, err, apperr.ErrAccountAlreadyHasWallet)
	})

	t.Run("D_LinkChallengeBoundToRequester", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		a, _, err := f.passwords.Register(ctx, "d1@example.com", "password123")
		require.NoError(t, err)
		b, _, err := f.passwords.Register(ctx, "d2@example.com", "password123")
		require.NoError(t, err)

		c, err := f.resolver.RequestLinkChallenge(ctx, a.ID, w.address)
		require.NoError(t, err)
		err = f.resolver.LinkWallet(ctx, b.ID, w.prove(c.Challenge))
		assert.ErrorIs(t, err, apperr.ErrChallengeNotFound)
	})

	t.Run("E_UnlinkOnlyMethodFails", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		c, err := f.resolver.RequestChallenge(ctx, w.address)
		require.NoError(t, err)
		res, err := f.resolver.VerifyAndAuthenticate(ctx, w.prove(c.Challenge))
		require.NoError(t, err)

		err = f.resolver.UnlinkWallet(ctx, res.User.ID)
		assert.ErrorIs(t, err, apperr.ErrCannotRemoveOnlyAuthMethod)

		u, err := f.store.Users().GetByID(ctx, res.User.ID)
		require.NoError(t, err)
		assert.True(t, u.HasWallet())
	})

	t.Run("F_UnlinkWithPasswordSucceeds", func(t *testing.T) {
		f := newFixture()
		w := newTestWallet(t)
		user, _, err := f.passwords.Register(ctx, "f@example.com", "password123")
		require.NoError(t, err)
		require.NoError(t, link(t, f, user.ID, w))

		require.NoError(t, f.resolver.UnlinkWallet(ctx, user.ID))
		u, err := f.store.Users().GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, u.HasWallet())

		// and the wallet can now be linked elsewhere
		other, _, err := f.passwords.Register(ctx, "f2@example.com", "password123")
		require.NoError(t, err)
		assert.NoError(t, link(t, f, other.ID, w))
	})
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	user, issued, err := f.passwords.Register(ctx, "s@example.com", "password123")
	require.NoError(t, err)

	sess, err := f.sessions.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, sess.UserID)

	_, err = f.sessions.Validate(ctx, issued.Token+"x")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	other := NewSessionIssuer(f.store.Sessions(), NewJWTService("another-secret-another-secret-xx"), time.Hour)
	_, err = other.Validate(ctx, issued.Token)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	require.NoError(t, f.sessions.Revoke(ctx, sess.ID))
	_, err = f.sessions.Validate(ctx, issued.Token)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	_, fresh, err := f.passwords.Login(ctx, "S@example.com", "password123")
	require.NoError(t, err)
	f.sessions.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = f.sessions.Validate(ctx, fresh.Token)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated, "expired session")
}

func TestPasswordLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, _, err := f.passwords.Register(ctx, "p@example.com", "password123")
	require.NoError(t, err)

	_, _, err = f.passwords.Register(ctx, "P@example.com", "password456")
	assert.ErrorIs(t, err, apperr.ErrEmailTaken)

	_, _, err = f.passwords.Register(ctx, "short@example.com", "short")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = f.passwords.Login(ctx, "p@example.com", "wrong-password")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
	_, _, err = f.passwords.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestMaskWallet(t *testing.T) {
	assert.Equal(t, "****", MaskWallet("short"))
	assert.Equal(t, "9xQe…VFin", MaskWallet("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"))
}
