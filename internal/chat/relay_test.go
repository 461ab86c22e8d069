package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRelay_Deliver(t *testing.T) {
	t.Run("should hand the relayed event bytes to the local hub unchanged", func(t *testing.T) {
		req := require.New(t)
		h := NewHub(nil, nil, 8)
		c := registered(t, h, 1)
		req.NoError(h.Join(Group(4), c))
		relay := NewRedisRelay(nil, "chat", h, nil)

		event := json.RawMessage(`{"type":"new_message","conversation":{"kind":"group","id":4}}`)
		payload, err := json.Marshal(relayEnvelope{Conversation: Group(4), Event: event})
		req.NoError(err)

		relay.deliver(payload)

		req.Equal([][]byte{[]byte(event)}, drain(c))
	})

	t.Run("should discard malformed payloads", func(t *testing.T) {
		req := require.New(t)
		h := NewHub(nil, nil, 8)
		c := registered(t, h, 1)
		req.NoError(h.Join(Group(4), c))
		relay := NewRedisRelay(nil, "chat", h, nil)

		relay.deliver([]byte("not json"))
		relay.deliver([]byte(`{"conversation":{"kind":"channel","id":4},"event":{}}`))

		req.Empty(drain(c))
	})
}

func TestRedisRelay_Publish(t *testing.T) {
	t.Run("should report an unreachable broker", func(t *testing.T) {
		req := require.New(t)
		client := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 200 * time.Millisecond,
			MaxRetries:  -1,
		})
		defer client.Close()
		relay := NewRedisRelay(client, "chat", NewHub(nil, nil, 8), nil)

		err := relay.Publish(context.Background(), Group(1), &Message{ID: 1, Conversation: Group(1)})

		req.ErrorContains(err, "redis publish")
	})
}
