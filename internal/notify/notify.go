// Package notify dispatches new-message events to whatever delivers pushes.
// Events never carry message content.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewMessageEvent announces that a message was stored
type NewMessageEvent struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	SenderID       uuid.UUID `json:"senderId"`
	RecipientID    uuid.UUID `json:"recipientId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Dispatcher receives new-message events
type Dispatcher interface {
	NewMessage(ctx context.Context, ev NewMessageEvent) error
}

// UserChannel is the pub/sub channel a user's push worker subscribes to
func UserChannel(userID uuid.UUID) string {
	return "memechat:notify:user:" + userID.String()
}

// RedisDispatcher publishes events on per-recipient Redis channels
type RedisDispatcher struct {
	client *redis.Client
}

// NewRedisDispatcher connects to redisURL and pings it
func NewRedisDispatcher(ctx context.Context, redisURL string) (*RedisDispatcher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisDispatcher{client: client}, nil
}

// NewMessage publishes ev to the recipient's channel
func (d *RedisDispatcher) NewMessage(ctx context.Context, ev NewMessageEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := d.client.Publish(ctx, UserChannel(ev.RecipientID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns a subscription to a user's channel
func (d *RedisDispatcher) Subscribe(ctx context.Context, userID uuid.UUID) *redis.PubSub {
	return d.client.Subscribe(ctx, UserChannel(userID))
}

// Close closes the Redis connection
func (d *RedisDispatcher) Close() error {
	return d.client.Close()
}

// LogDispatcher only logs events; used when no Redis is configured
type LogDispatcher struct {
	Log *slog.Logger
}

func (d LogDispatcher) NewMessage(ctx context.Context, ev NewMessageEvent) error {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("new message", "conversation_id", ev.ConversationID, "message_id", ev.MessageID, "recipient_id", ev.RecipientID)
	return nil
}

// Recorder keeps events in memory
type Recorder struct {
	mu     sync.Mutex
	events []NewMessageEvent
	Err    error
}

func (r *Recorder) NewMessage(ctx context.Context, ev NewMessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []NewMessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NewMessageEvent(nil), r.events...)
}
