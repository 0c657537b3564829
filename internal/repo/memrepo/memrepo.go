// Package memrepo holds in-memory implementations of the repo interfaces.
// Every mutation happens under one mutex, which gives the same single-winner
// guarantees the Postgres statements provide.
package memrepo

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/model"
	"github.com/memechat/server/internal/repo"
)

// Store is a shared in-memory database
type Store struct {
	mu sync.Mutex

	now func() time.Time

	users      map[uuid.UUID]*model.User
	challenges map[string]*model.AuthChallenge
	sessions   map[uuid.UUID]*model.Session
	keys       map[uuid.UUID]*model.EncryptionKeyRecord
	keyHistory map[uuid.UUID]map[int][]byte
	convs      map[uuid.UUID]*model.Conversation
	convByPair map[[2]uuid.UUID]uuid.UUID
	messages   map[uuid.UUID]*model.Message
	msgOrder   map[uuid.UUID][]uuid.UUID
	seq        int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		now:        time.Now,
		users:      make(map[uuid.UUID]*model.User),
		challenges: make(map[string]*model.AuthChallenge),
		sessions:   make(map[uuid.UUID]*model.Session),
		keys:       make(map[uuid.UUID]*model.EncryptionKeyRecord),
		keyHistory: make(map[uuid.UUID]map[int][]byte),
		convs:      make(map[uuid.UUID]*model.Conversation),
		convByPair: make(map[[2]uuid.UUID]uuid.UUID),
		messages:   make(map[uuid.UUID]*model.Message),
		msgOrder:   make(map[uuid.UUID][]uuid.UUID),
	}
}

// SetClock overrides the store's notion of now
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Users() repo.UserRepo                 { return &userRepo{s} }
func (s *Store) Challenges() repo.ChallengeRepo       { return &challengeRepo{s} }
func (s *Store) Sessions() repo.SessionRepo           { return &sessionRepo{s} }
func (s *Store) Keys() repo.KeyRepo                   { return &keyRepo{s} }
func (s *Store) Conversations() repo.ConversationRepo { return &conversationRepo{s} }
func (s *Store) Messages() repo.MessageRepo           { return &messageRepo{s} }

func strPtr(v string) *string {
	return &v
}

// users

type userRepo struct{ s *Store }

func (r *userRepo) find(pred func(*model.User) bool) (model.User, error) {
	for _, u := range r.s.users {
		if pred(u) {
			return *u, nil
		}
	}
	return model.User{}, apperr.ErrNotFound.Withf("user not found")
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return model.User{}, apperr.ErrNotFound.Withf("user not found")
	}
	return *u, nil
}

func (r *userRepo) GetByWallet(ctx context.Context, walletAddress string) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(func(u *model.User) bool { return u.WalletAddress != nil && *u.WalletAddress == walletAddress })
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(func(u *model.User) bool { return u.Email != nil && *u.Email == email })
}

func (r *userRepo) GetOrCreateByWallet(ctx context.Context, walletAddress string) (model.User, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, err := r.find(func(u *model.User) bool { return u.WalletAddress != nil && *u.WalletAddress == walletAddress }); err == nil {
		return u, false, nil
	}
	u := &model.User{ID: uuid.New(), WalletAddress: strPtr(walletAddress), Role: "user", CreatedAt: r.s.now()}
	r.s.users[u.ID] = u
	return *u, true, nil
}

func (r *userRepo) CreateWithPassword(ctx context.Context, email, passwordHash string) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, err := r.find(func(u *model.User) bool { return u.Email != nil && *u.Email == email }); err == nil {
		return model.User{}, apperr.ErrEmailTaken
	}
	u := &model.User{ID: uuid.New(), Email: strPtr(email), PasswordHash: strPtr(passwordHash), Role: "user", CreatedAt: r.s.now()}
	r.s.users[u.ID] = u
	return *u, nil
}

func (r *userRepo) SetWallet(ctx context.Context, userID uuid.UUID, walletAddress string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return apperr.ErrNotFound.Withf("user not found")
	}
	if u.WalletAddress != nil && *u.WalletAddress == walletAddress {
		return nil
	}
	if owner, err := r.find(func(o *model.User) bool { return o.WalletAddress != nil && *o.WalletAddress == walletAddress }); err == nil && owner.ID != userID {
		return apperr.ErrWalletAlreadyLinked
	}
	if u.HasWallet() {
		return apperr.ErrAccountAlreadyHasWallet
	}
	u.WalletAddress = strPtr(walletAddress)
	return nil
}

func (r *userRepo) ClearWallet(ctx context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return apperr.ErrNotFound.Withf("user not found")
	}
	if !u.HasWallet() {
		return nil
	}
	if !u.HasPasswordLogin() {
		return apperr.ErrCannotRemoveOnlyAuthMethod
	}
	u.WalletAddress = nil
	return nil
}

// challenges

type challengeRepo struct{ s *Store }

func (r *challengeRepo) Create(ctx context.Context, c model.AuthChallenge) (model.AuthChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.challenges[c.Challenge]; exists {
		return model.AuthChallenge{}, apperr.ErrInvalidArgument.Withf("duplicate challenge")
	}
	c.ID = uuid.New()
	c.CreatedAt = r.s.now()
	c.Used = false
	stored := c
	r.s.challenges[c.Challenge] = &stored
	return c, nil
}

func (r *challengeRepo) Consume(ctx context.Context, p repo.ConsumeParams) (model.AuthChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.challenges[p.Challenge]
	if !ok || c.WalletAddress != p.WalletAddress || c.Purpose != p.Purpose {
		return model.AuthChallenge{}, apperr.ErrChallengeNotFound
	}
	if p.UserID != nil && (c.UserID == nil || *c.UserID != *p.UserID) {
		return model.AuthChallenge{}, apperr.ErrChallengeNotFound
	}
	if c.Used {
		return model.AuthChallenge{}, apperr.ErrChallengeAlreadyUsed
	}
	now := p.Now
	if now.IsZero() {
		now = r.s.now()
	}
	if !now.Before(c.ExpiresAt) {
		return model.AuthChallenge{}, apperr.ErrChallengeExpired
	}
	c.Used = true
	c.UsedAt = &now
	return *c, nil
}

func (r *challengeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, c := range r.s.challenges {
		if c.ExpiresAt.Before(before) {
			delete(r.s.challenges, k)
			n++
		}
	}
	return n, nil
}

// sessions

type sessionRepo struct{ s *Store }

func (r *sessionRepo) Create(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess := &model.Session{ID: uuid.New(), UserID: userID, ExpiresAt: expiresAt, CreatedAt: r.s.now()}
	r.s.sessions[sess.ID] = sess
	return *sess, nil
}

func (r *sessionRepo) Get(ctx context.Context, id uuid.UUID) (model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return model.Session{}, apperr.ErrNotFound.Withf("session not found")
	}
	return *sess, nil
}

func (r *sessionRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess, ok := r.s.sessions[id]; ok && sess.RevokedAt == nil {
		now := r.s.now()
		sess.RevokedAt = &now
	}
	return nil
}

func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	now := r.s.now()
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			sess.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// keys

type keyRepo struct{ s *Store }

func (r *keyRepo) Upsert(ctx context.Context, userID uuid.UUID, publicKey []byte) (model.EncryptionKeyRecord, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.keys[userID]
	if ok && bytes.Equal(cur.PublicKey, publicKey) {
		return *cur, false, nil
	}
	version := 1
	if ok {
		version = cur.KeyVersion + 1
	}
	pk := append([]byte(nil), publicKey...)
	rec := &model.EncryptionKeyRecord{UserID: userID, PublicKey: pk, KeyVersion: version, UpdatedAt: r.s.now()}
	r.s.keys[userID] = rec
	if r.s.keyHistory[userID] == nil {
		r.s.keyHistory[userID] = make(map[int][]byte)
	}
	r.s.keyHistory[userID][version] = pk
	return *rec, true, nil
}

func (r *keyRepo) GetCurrent(ctx context.Context, userID uuid.UUID) (model.EncryptionKeyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.keys[userID]
	if !ok {
		return model.EncryptionKeyRecord{}, apperr.ErrNotFound.Withf("encryption key not found")
	}
	return *rec, nil
}

func (r *keyRepo) GetVersion(ctx context.Context, userID uuid.UUID, version int) (model.EncryptionKeyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pk, ok := r.s.keyHistory[userID][version]
	if !ok {
		return model.EncryptionKeyRecord{}, apperr.ErrNotFound.Withf("encryption key version not found")
	}
	return model.EncryptionKeyRecord{UserID: userID, PublicKey: pk, KeyVersion: version}, nil
}

// conversations

type conversationRepo struct{ s *Store }

func (r *conversationRepo) GetOrCreate(ctx context.Context, p1, p2 uuid.UUID) (model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pair := [2]uuid.UUID{p1, p2}
	if id, ok := r.s.convByPair[pair]; ok {
		return *r.s.convs[id], nil
	}
	c := &model.Conversation{ID: uuid.New(), Participant1ID: p1, Participant2ID: p2, CreatedAt: r.s.now()}
	r.s.convs[c.ID] = c
	r.s.convByPair[pair] = c.ID
	return *c, nil
}

func (r *conversationRepo) Get(ctx context.Context, id uuid.UUID) (model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.convs[id]
	if !ok {
		return model.Conversation{}, apperr.ErrNotFound.Withf("conversation not found")
	}
	return *c, nil
}

func (r *conversationRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ConversationSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ConversationSummary
	for _, c := range r.s.convs {
		if !c.Has(userID) {
			continue
		}
		sum := model.ConversationSummary{Conversation: *c, PeerID: c.Peer(userID)}
		for _, mid := range r.s.msgOrder[c.ID] {
			m := r.s.messages[mid]
			if m.SenderID != userID && !m.IsRead && !m.IsDeleted {
				sum.UnreadCount++
			}
		}
		out = append(out, sum)
	}
	activity := func(c model.ConversationSummary) time.Time {
		if c.LastMessageAt != nil {
			return *c.LastMessageAt
		}
		return c.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool { return activity(out[i]).After(activity(out[j])) })
	return out, nil
}

// messages

type messageRepo struct{ s *Store }

func (r *messageRepo) Create(ctx context.Context, m model.Message) (model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.convs[m.ConversationID]
	if !ok {
		return model.Message{}, apperr.ErrNotFound.Withf("conversation not found")
	}
	r.s.seq++
	m.ID = uuid.New()
	m.Seq = r.s.seq
	m.CreatedAt = r.s.now()
	m.IsRead = false
	m.IsDeleted = false
	stored := m
	r.s.messages[m.ID] = &stored
	r.s.msgOrder[m.ConversationID] = append(r.s.msgOrder[m.ConversationID], m.ID)
	created := m.CreatedAt
	c.LastMessageAt = &created
	return m, nil
}

func (r *messageRepo) Get(ctx context.Context, id uuid.UUID) (model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return model.Message{}, apperr.ErrNotFound.Withf("message not found")
	}
	return *m, nil
}

func (r *messageRepo) List(ctx context.Context, conversationID uuid.UUID, afterSeq int64, limit int) ([]model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.Message, 0)
	for _, id := range r.s.msgOrder[conversationID] {
		m := r.s.messages[id]
		if m.Seq <= afterSeq {
			continue
		}
		out = append(out, *m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *messageRepo) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range r.s.msgOrder[conversationID] {
		m := r.s.messages[id]
		if m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (r *messageRepo) SoftDelete(ctx context.Context, id, senderID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return apperr.ErrNotFound.Withf("message not found")
	}
	if m.SenderID != senderID {
		return apperr.ErrForbidden.Withf("only the sender can delete a message")
	}
	m.IsDeleted = true
	m.EncryptedContent = nil
	m.Nonce = nil
	return nil
}
