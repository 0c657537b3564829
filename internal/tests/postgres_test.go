package tests

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/memechat/server/internal/app"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/auth"
	"github.com/memechat/server/internal/config"
	"github.com/memechat/server/internal/db"
	"github.com/memechat/server/internal/http/handlers"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/notify"
	"github.com/memechat/server/internal/repo"
	"github.com/memechat/server/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}
	ctx := context.Background()
	database, err := db.Open(ctx, dsn, db.PoolConfig{})
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database), "migrations must run successfully")
	require.NoError(t, TruncateAll(ctx, database))
	return database
}

func newPostgresServer(t *testing.T, database *sql.DB) *testServer {
	t.Helper()
	rec := &notify.Recorder{}
	a := app.Build(TestConfig(config.StoragePostgres, os.Getenv("DATABASE_URL")), app.PostgresRepos(database), database,
		app.Options{Notifier: rec, AuthLimits: handlers.AuthLimits{}}, discardLogger())
	srv := httptest.NewServer(a.Handler)
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})
	return &testServer{Server: srv, Notified: rec}
}

func TestPostgresHelloScenario(t *testing.T) {
	ctx := context.Background()
	ts := newPostgresServer(t, openTestDB(t))

	a, _ := ts.signedIn(t)
	b, _ := ts.signedIn(t)
	_, err := a.RotateKey(ctx)
	require.NoError(t, err)
	_, err = b.RotateKey(ctx)
	require.NoError(t, err)

	conv, err := a.OpenConversation(ctx, b.UserID())
	require.NoError(t, err)
	again, err := b.OpenConversation(ctx, a.UserID())
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	_, err = a.SendText(ctx, conv, "hello")
	require.NoError(t, err)
	_, err = b.RotateKey(ctx)
	require.NoError(t, err)
	_, err = a.SendText(ctx, conv, "again")
	require.NoError(t, err)

	msgs, err := b.Messages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for i, want := range []string{"hello", "again"} {
		got, err := b.Decrypt(ctx, msgs[i])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Less(t, msgs[0].Seq, msgs[1].Seq)

	convs, err := b.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 2, convs[0].UnreadCount)
	require.NotNil(t, convs[0].LastMessageAt)

	require.NoError(t, a.DeleteMessage(ctx, msgs[0].ID))
	msgs, err = b.Messages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	assert.True(t, msgs[0].IsDeleted)
}

func TestPostgresLinkConflicts(t *testing.T) {
	ctx := context.Background()
	ts := newPostgresServer(t, openTestDB(t))

	acct := ts.newClient()
	_, err := acct.Register(ctx, "bob@example.com", "password123")
	require.NoError(t, err)
	w, err := client.NewWallet()
	require.NoError(t, err)
	require.NoError(t, acct.LinkWallet(ctx, w))

	other := ts.newClient()
	_, err = other.Register(ctx, "carol@example.com", "password123")
	require.NoError(t, err)
	err = other.LinkWallet(ctx, w)
	requireAPIError(t, err, 409)

	require.NoError(t, acct.UnlinkWallet(ctx))
	require.NoError(t, other.LinkWallet(ctx, w))
}

// TestPostgresConcurrentConsume: exactly one of many concurrent consumers wins.
func TestPostgresConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	store := auth.NewChallengeStore(repo.NewChallengeRepo(database), time.Minute)

	w, err := client.NewWallet()
	require.NoError(t, err)
	c, err := store.Issue(ctx, w.Address(), model.PurposeLogin, nil)
	require.NoError(t, err)

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		replays int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(ctx, repo.ConsumeParams{
				WalletAddress: w.Address(),
				Challenge:     c.Challenge,
				Purpose:       model.PurposeLogin,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.IsAuthFailure(err):
				replays++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, replays)
}

func TestPostgresConsumeClassification(t *testing.T) {
	ctx := context.Background()
	challenges := repo.NewChallengeRepo(openTestDB(t))

	w, err := client.NewWallet()
	require.NoError(t, err)
	_, err = challenges.Create(ctx, model.AuthChallenge{
		WalletAddress: w.Address(),
		Challenge:     "stale-challenge",
		Purpose:       model.PurposeLogin,
		ExpiresAt:     time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = challenges.Consume(ctx, repo.ConsumeParams{WalletAddress: w.Address(), Challenge: "stale-challenge", Purpose: model.PurposeLogin})
	assert.ErrorIs(t, err, apperr.ErrChallengeExpired)

	_, err = challenges.Consume(ctx, repo.ConsumeParams{WalletAddress: w.Address(), Challenge: "never-issued", Purpose: model.PurposeLogin})
	assert.ErrorIs(t, err, apperr.ErrChallengeNotFound)

	other, err := client.NewWallet()
	require.NoError(t, err)
	_, err = challenges.Consume(ctx, repo.ConsumeParams{WalletAddress: other.Address(), Challenge: "stale-challenge", Purpose: model.PurposeLogin})
	assert.ErrorIs(t, err, apperr.ErrChallengeNotFound, "wallet must match")

	_, err = challenges.Consume(ctx, repo.ConsumeParams{WalletAddress: w.Address(), Challenge: "stale-challenge", Purpose: model.PurposeLink})
	assert.ErrorIs(t, err, apperr.ErrChallengeNotFound, "purpose must match")
}

// TestPostgresConsumeUsesCallerClock: expiry follows the clock that stamped
// ExpiresAt, not the database server's.
func TestPostgresConsumeUsesCallerClock(t *testing.T) {
	ctx := context.Background()
	challenges := repo.NewChallengeRepo(openTestDB(t))
	w, err := client.NewWallet()
	require.NoError(t, err)

	appNow := time.Now().Add(-time.Hour)
	_, err = challenges.Create(ctx, model.AuthChallenge{
		WalletAddress: w.Address(),
		Challenge:     "behind",
		Purpose:       model.PurposeLogin,
		ExpiresAt:     appNow.Add(time.Minute),
	})
	require.NoError(t, err)
	c, err := challenges.Consume(ctx, repo.ConsumeParams{WalletAddress: w.Address(), Challenge: "behind", Purpose: model.PurposeLogin, Now: appNow})
	require.NoError(t, err)
	require.NotNil(t, c.UsedAt)
	assert.WithinDuration(t, appNow, *c.UsedAt, time.Second)

	appNow = time.Now().Add(time.Hour)
	_, err = challenges.Create(ctx, model.AuthChallenge{
		WalletAddress: w.Address(),
		Challenge:     "ahead",
		Purpose:       model.PurposeLogin,
		ExpiresAt:     time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	_, err = challenges.Consume(ctx, repo.ConsumeParams{WalletAddress: w.Address(), Challenge: "ahead", Purpose: model.PurposeLogin, Now: appNow})
	assert.ErrorIs(t, err, apperr.ErrChallengeExpired)
}

func TestPostgresKeyVersioning(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	users := repo.NewUserRepo(database)
	keyRepo := repo.NewKeyRepo(database)

	w, err := client.NewWallet()
	require.NoError(t, err)
	u, created, err := users.GetOrCreateByWallet(ctx, w.Address())
	require.NoError(t, err)
	require.True(t, created)

	k1 := make([]byte, 32)
	k1[0] = 1
	k2 := make([]byte, 32)
	k2[0] = 2

	rec, changed, err := keyRepo.Upsert(ctx, u.ID, k1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, rec.KeyVersion)

	rec, changed, err = keyRepo.Upsert(ctx, u.ID, k1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, rec.KeyVersion)

	rec, changed, err = keyRepo.Upsert(ctx, u.ID, k2)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, rec.KeyVersion)

	old, err := keyRepo.GetVersion(ctx, u.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, k1, old.PublicKey)

	_, err = keyRepo.GetVersion(ctx, u.ID, 3)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
