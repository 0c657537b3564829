package memrepo

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeConsume_singleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Challenges().Create(ctx, model.AuthChallenge{
		WalletAddress: "W1", Challenge: "c1", Purpose: model.PurposeLogin, ExpiresAt: time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	var wins, alreadyUsed int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Challenges().Consume(ctx, repo.ConsumeParams{WalletAddress: "W1", Challenge: "c1", Purpose: model.PurposeLogin})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if assert.ErrorIs(t, err, apperr.ErrChallengeAlreadyUsed) {
				atomic.AddInt32(&alreadyUsed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(49), alreadyUsed)
}

func TestChallengeConsume_classification(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	_, err := s.Challenges().Create(ctx, model.AuthChallenge{WalletAddress: "W1", Challenge: "old", Purpose: model.PurposeLogin, ExpiresAt: now.Add(-time.Second)})
	require.NoError(t, err)

	_, err = s.Challenges().Consume(ctx, repo.ConsumeParams{WalletAddress: "W1", Challenge: "old", Purpose: model.PurposeLogin})
	assert.ErrorIs(t, err, apperr.ErrChallengeExpired)

	_, err = s.Challenges().Consume(ctx, repo.ConsumeParams{WalletAddress: "W2", Challenge: "old", Purpose: model.PurposeLogin})
	assert.ErrorIs(t, err, apperr.ErrChallengeNotFound, "wallet must match")

	_, err = s.Challenges().Consume(ctx, repo.ConsumeParams{WalletAddress: "W1", Challenge: "old", Purpose: model.PurposeLink})
	assert.ErrorIs(t, err, apperr.ErrChallengeNotFound, "purpose must match")

	n, err := s.Challenges().DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUsers_walletBinding(t *testing.T) {
	ctx := context.Background()
	s := New()
	users := s.Users()

	x, created, err := users.GetOrCreateByWallet(ctx, "WX")
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := users.GetOrCreateByWallet(ctx, "WX")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, x.ID, again.ID)

	y, err := users.CreateWithPassword(ctx, "y@example.com", "hash")
	require.NoError(t, err)

	assert.ErrorIs(t, users.SetWallet(ctx, y.ID, "WX"), apperr.ErrWalletAlreadyLinked)
	require.NoError(t, users.SetWallet(ctx, y.ID, "WY"))
	require.NoError(t, users.SetWallet(ctx, y.ID, "WY"))
	assert.ErrorIs(t, users.SetWallet(ctx, y.ID, "WZ"), apperr.ErrAccountAlreadyHasWallet)

	assert.ErrorIs(t, users.ClearWallet(ctx, x.ID), apperr.ErrCannotRemoveOnlyAuthMethod)
	require.NoError(t, users.ClearWallet(ctx, y.ID))
	require.NoError(t, users.ClearWallet(ctx, y.ID))
}

func TestKeys_versioning(t *testing.T) {
	ctx := context.Background()
	keys := New().Keys()
	uid := uuid.New()

	rec, changed, err := keys.Upsert(ctx, uid, []byte("k1"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, rec.KeyVersion)

	rec, changed, err = keys.Upsert(ctx, uid, []byte("k1"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, rec.KeyVersion)

	rec, _, err = keys.Upsert(ctx, uid, []byte("k2"))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.KeyVersion)

	old, err := keys.GetVersion(ctx, uid, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), old.PublicKey)
}
