package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/codec"
	"github.com/memechat/server/internal/keys"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/notify"
	"github.com/memechat/server/internal/repo/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type party struct {
	id   uuid.UUID
	ring *codec.Keyring
}

type env struct {
	store    *memrepo.Store
	keys     *keys.Directory
	svc      *Service
	recorder *notify.Recorder
}

func newEnv(t *testing.T, friends FriendshipChecker) *env {
	t.Helper()
	store := memrepo.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := keys.NewDirectory(store.Keys(), log)
	rec := &notify.Recorder{}
	convs := NewConversationStore(store.Conversations(), store.Users(), friends)
	return &env{
		store:    store,
		keys:     dir,
		svc:      NewService(convs, store.Messages(), dir, rec, log),
		recorder: rec,
	}
}

func (e *env) newUser(t *testing.T, wallet string, publish bool) party {
	t.Helper()
	u, _, err := e.store.Users().GetOrCreateByWallet(context.Background(), wallet)
	require.NoError(t, err)
	p := party{id: u.ID, ring: codec.NewKeyring()}
	if publish {
		e.rotate(t, p)
	}
	return p
}

func (e *env) rotate(t *testing.T, p party) {
	t.Helper()
	kp, err := codec.GenerateKeyPair()
	require.NoError(t, err)
	rec, err := e.keys.Publish(context.Background(), p.id, kp.Public[:])
	require.NoError(t, err)
	p.ring.Add(rec.KeyVersion, kp)
}

// seal encrypts as the sender's client would, against the recipient's current key
func (e *env) seal(t *testing.T, from party, to uuid.UUID, plaintext string) SendParams {
	t.Helper()
	ctx := context.Background()
	own, ownVersion, ok := from.ring.Current()
	require.True(t, ok)
	peer, err := e.keys.Lookup(ctx, to)
	require.NoError(t, err)
	peerPub, err := codec.PublicKeyFromBytes(peer.PublicKey)
	require.NoError(t, err)
	secret := codec.DeriveSharedSecret(own.Private, peerPub)
	ct, nonce, err := codec.Encrypt([]byte(plaintext), &secret)
	require.NoError(t, err)
	return SendParams{
		SenderID:            from.id,
		EncryptedContent:    ct,
		Nonce:               nonce[:],
		SenderKeyVersion:    ownVersion,
		RecipientKeyVersion: peer.KeyVersion,
	}
}

type dirResolver struct{ d *keys.Directory }

func (r dirResolver) PublicKey(ctx context.Context, userID uuid.UUID, version int) ([]byte, error) {
	rec, err := r.d.LookupVersion(ctx, userID, version)
	if err != nil {
		return nil, err
	}
	return rec.PublicKey, nil
}

func (e *env) open(t *testing.T, reader party, m model.Message) (string, error) {
	t.Helper()
	o := &codec.Opener{Self: reader.id, Keyring: reader.ring, Resolver: dirResolver{e.keys}}
	pt, err := o.Open(context.Background(), codec.Envelope{
		SenderID: m.SenderID, RecipientID: m.RecipientID,
		SenderKeyVersion: m.SenderKeyVersion, RecipientKeyVersion: m.RecipientKeyVersion,
	}, m.IsDeleted, m.EncryptedContent, m.Nonce)
	return string(pt), err
}

func TestHelloScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a := e.newUser(t, "WA1", true)
	b := e.newUser(t, "WB1", true)

	conv, err := e.svc.GetOrCreateConversation(ctx, a.id, b.id)
	require.NoError(t, err)

	p := e.seal(t, a, b.id, "hello")
	p.ConversationID = conv.ID
	sent, err := e.svc.Send(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, p.EncryptedContent, sent.EncryptedContent)
	assert.Equal(t, p.Nonce, sent.Nonce)
	assert.Equal(t, b.id, sent.RecipientID)

	msgs, err := e.svc.ListMessages(ctx, conv.ID, b.id, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	aKey, _, _ := a.ring.Current()
	bKey, _, _ := b.ring.Current()
	assert.Equal(t, codec.DeriveSharedSecret(aKey.Private, bKey.Public), codec.DeriveSharedSecret(bKey.Private, aKey.Public))

	got, err := e.open(t, b, msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = e.open(t, a, msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", got, "sender reads own history")

	events := e.recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, b.id, events[0].RecipientID)
	assert.Equal(t, sent.ID, events[0].MessageID)
}

func TestConversationCanonicalPair(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a := e.newUser(t, "WA", false)
	b := e.newUser(t, "WB", false)

	ab, err := e.svc.GetOrCreateConversation(ctx, a.id, b.id)
	require.NoError(t, err)
	ba, err := e.svc.GetOrCreateConversation(ctx, b.id, a.id)
	require.NoError(t, err)
	assert.Equal(t, ab.ID, ba.ID)

	p1, p2 := CanonicalPair(b.id, a.id)
	assert.Equal(t, ab.Participant1ID, p1)
	assert.Equal(t, ab.Participant2ID, p2)

	_, err = e.svc.GetOrCreateConversation(ctx, a.id, a.id)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = e.svc.GetOrCreateConversation(ctx, a.id, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type denyFriends struct{}

func (denyFriends) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) { return false, nil }

func TestConversationRequiresFriendship(t *testing.T) {
	e := newEnv(t, denyFriends{})
	a := e.newUser(t, "WA", false)
	b := e.newUser(t, "WB", false)
	_, err := e.svc.GetOrCreateConversation(context.Background(), a.id, b.id)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("A_RecipientKeyUnavailable", func(t *testing.T) {
		e := newEnv(t, nil)
		a := e.newUser(t, "WA", true)
		b := e.newUser(t, "WB", false)
		conv, err := e.svc.GetOrCreateConversation(ctx, a.id, b.id)
		require.NoError(t, err)

		_, err = e.svc.Send(ctx, SendParams{
			ConversationID: conv.ID, SenderID: a.id,
			EncryptedContent: make([]byte, 32), Nonce: make([]byte, codec.NonceSize),
		})
		assert.ErrorIs(t, err, apperr.ErrRecipientKeyUnavailable)
	})

	t.Run("B_NonParticipantForbidden", func(t *testing.T) {
		e := newEnv(t, nil)
		a := e.newUser(t, "WA", true)
		b := e.newUser(t, "WB", true)
		m := e.newUser(t, "WM", true)
		conv, err := e.svc.GetOrCreateConversation(ctx, a.id, b.id)
		require.NoError(t, err)

		p := e.seal(t, m, b.id, "hi")
		p.ConversationID = conv.ID
		_, err = e.svc.Send(ctx, p)
		assert.ErrorIs(t, err, apperr.ErrForbidden)

		_, err = e.svc.ListMessages(ctx, conv.ID, m.id, 0, 0)
		assert.ErrorIs(t, err, apperr.ErrForbidden)
		_, err = e.svc.MarkRead(ctx, conv.ID, m.id)
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("C_RejectsMalformedCiphertext", func(t *testing.T) {
		e := newEnv(t, nil)
		a := e.newUser(t, "WA", true)
		b := e.newUser(t, "WB", true)
		conv, err := e.svc.GetOrCreateConversation(ctx, a.id, b.id)
		require.NoError(t, err)

		p := e.seal(t, a, b.id, "hi")
		p.ConversationID = conv.ID
		p.Nonce = p.Nonce[:12]
		_, err = e.svc.Send(ctx, p)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

		p = e.seal(t, a, b.id, "hi")
		p.ConversationID = conv.ID
		p.EncryptedContent = p.EncryptedContent[:codec.Overhead-1]
		_, err = e.svc.Send(ctx, p)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

		p = e.seal(t, a, b.id, "hi")
		p.ConversationID = conv.ID
		p.RecipientKeyVersion = 9
		_, err = e.svc.Send(ctx, p)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})

	t.Run("D_NotifyFailureDoesNotFailSend", func(t *testing.T) {
		e := newEnv(t, nil)
		e.recorder.Err = errors.New("redis down")
		a := e.newUser(t, "WA", true)
		b := e.newUser(t, "WB", true)
		conv, err := e.svc.GetOrCreateConversation(ctx, a.id, b.id)
		require.NoError(t, err)

		p := e.seal(t, a, b.id, "still delivered")
		p.ConversationID = conv.ID
		_, err = e.svc.Send(ctx, p)
		require.NoError(t, err)
	})
}

func TestListMarkReadDelete(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a := e.newUser(t, "WA", true)
	b := e.newUser(t, "WB", true)
	conv, err := e.svc.GetOrCreateConversation(ctx, a.id, b.id)
	require.NoError(t, err)

	var sent []model.Message
	for i, tc := range []struct {
		from, to party
		text     string
	}{{a, b, "one"}, {b, a, "two"}, {a, b, "three"}} {
		p := e.seal(t, tc.from, tc.to.id, tc.text)
		p.ConversationID = conv.ID
		m, err := e.svc.Send(ctx, p)
		require.NoError(t, err, "message %d", i)
		sent = append(sent, m)
	}

	msgs, err := e.svc.ListMessages(ctx, conv.ID, a.id, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i := range msgs {
		assert.Equal(t, sent[i].ID, msgs[i].ID, "creation order")
		text, err := e.open(t, a, msgs[i])
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two", "three"}[i], text)
	}

	page, err := e.svc.ListMessages(ctx, conv.ID, a.id, msgs[0].Seq, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, msgs[1].ID, page[0].ID)

	summaries, err := e.svc.ListConversations(ctx, b.id)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].UnreadCount)
	assert.Equal(t, a.id, summaries[0].PeerID)

	n, err := e.svc.MarkRead(ctx, conv.ID, b.id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = e.svc.MarkRead(ctx, conv.ID, b.id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "idempotent")

	msgs, err = e.svc.ListMessages(ctx, conv.ID, b.id, 0, 0)
	require.NoError(t, err)
	assert.True(t, msgs[0].IsRead)
	assert.False(t, msgs[1].IsRead, "b's own message is untouched")

	assert.ErrorIs(t, e.svc.SoftDelete(ctx, sent[0].ID, b.id), apperr.ErrForbidden)
	assert.ErrorIs(t, e.svc.SoftDelete(ctx, uuid.New(), a.id), apperr.ErrNotFound)
	require.NoError(t, e.svc.SoftDelete(ctx, sent[0].ID, a.id))

	msgs, err = e.svc.ListMessages(ctx, conv.ID, b.id, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "deleted rows keep their place")
	assert.True(t, msgs[0].IsDeleted)
	assert.Empty(t, msgs[0].EncryptedContent)
	_, err = e.open(t, b, msgs[0])
	assert.ErrorIs(t, err, codec.ErrMessageDeleted)
}

func TestKeyRotationKeepsHistoryReadable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	a := e.newUser(t, "WA", true)
	b := e.newUser(t, "WB", true)
	conv, err := e.svc.GetOrCreateConversation(ctx, a.id, b.id)
	require.NoError(t, err)

	p := e.seal(t, a, b.id, "before")
	p.ConversationID = conv.ID
	_, err = e.svc.Send(ctx, p)
	require.NoError(t, err)

	e.rotate(t, b)

	p = e.seal(t, a, b.id, "after")
	p.ConversationID = conv.ID
	_, err = e.svc.Send(ctx, p)
	require.NoError(t, err)

	msgs, err := e.svc.ListMessages(ctx, conv.ID, b.id, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].RecipientKeyVersion)
	assert.Equal(t, 2, msgs[1].RecipientKeyVersion)

	for i, want := range []string{"before", "after"} {
		got, err := e.open(t, b, msgs[i])
		require.NoError(t, err)
		assert.Equal(t, want, got)
		got, err = e.open(t, a, msgs[i])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
