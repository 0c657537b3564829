package notify

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserChannel(t *testing.T) {
	id := uuid.MustParse("6f1c1b0e-8a6e-4c2e-9d0b-0c9f3f1a2b3c")
	assert.Equal(t, "memechat:notify:user:6f1c1b0e-8a6e-4c2e-9d0b-0c9f3f1a2b3c", UserChannel(id))
}

func TestEventPayloadHasNoContent(t *testing.T) {
	b, err := json.Marshal(NewMessageEvent{ConversationID: uuid.New(), MessageID: uuid.New(), SenderID: uuid.New(), RecipientID: uuid.New(), CreatedAt: time.Now()})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.ElementsMatch(t, []string{"conversationId", "messageId", "senderId", "recipientId", "createdAt"}, keys(m))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestRedisDispatcher_publishesToRecipient(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set; skipping redis test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := NewRedisDispatcher(ctx, redisURL)
	require.NoError(t, err)
	defer d.Close()

	recipient := uuid.New()
	sub := d.Subscribe(ctx, recipient)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	ev := NewMessageEvent{ConversationID: uuid.New(), MessageID: uuid.New(), SenderID: uuid.New(), RecipientID: recipient, CreatedAt: time.Now().UTC()}
	require.NoError(t, d.NewMessage(ctx, ev))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got NewMessageEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, ev.MessageID, got.MessageID)
}
