package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func registered(t *testing.T, h *Hub, userID int64) *Client {
	t.Helper()
	c := h.NewClient(nil, auth.Identity{UserID: userID, Username: "user"})
	require.NoError(t, h.Register(c))
	return c
}

func TestHub_Publish(t *testing.T) {
	t.Run("should reach only the connections subscribed to the conversation", func(t *testing.T) {
		req := require.New(t)
		h := NewHub(nil, nil, 8)
		joined := registered(t, h, 1)
		idle := registered(t, h, 1)
		req.NoError(h.Join(Private(7), joined))

		msg := &Message{ID: 1, Conversation: Private(7), SenderID: 2, Body: "hi", CreatedAt: time.Unix(0, 0).UTC()}
		req.NoError(h.Publish(context.Background(), Private(7), msg))

		out := drain(joined)
		req.Len(out, 1)
		req.Empty(drain(idle))

		var ev Event
		req.NoError(json.Unmarshal(out[0], &ev))
		req.Equal(EventNewMessage, ev.Type)
		req.Equal(Private(7), *ev.Conversation)
		req.Equal("hi", ev.Message.Body)
	})

	t.Run("should keep private and group ids apart", func(t *testing.T) {
		req := require.New(t)
		h := NewHub(nil, nil, 8)
		inChat := registered(t, h, 1)
		inGroup := registered(t, h, 2)
		req.NoError(h.Join(Private(1), inChat))
		req.NoError(h.Join(Group(1), inGroup))

		req.Equal(1, h.Deliver(Group(1), []byte("g")))

		req.Empty(drain(inChat))
		req.Equal([][]byte{[]byte("g")}, drain(inGroup))
	})

	t.Run("should disconnect a subscriber whose queue is full", func(t *testing.T) {
		req := require.New(t)
		m := metrics.NewCollector("test")
		h := NewHub(nil, m, 1)
		slow := registered(t, h, 1)
		fast := registered(t, h, 2)
		req.NoError(h.Join(Group(5), slow))
		req.NoError(h.Join(Group(5), fast))

		req.Equal(2, h.Deliver(Group(5), []byte("1")))
		<-fast.Outbox()
		req.Equal(1, h.Deliver(Group(5), []byte("2")))

		req.True(slow.Closed())
		req.Empty(h.ConnectionsFor(1))
		req.Equal([]*Client{fast}, h.Subscribers(Group(5)))
		req.Equal(float64(1), testutil.ToFloat64(m.Dropped.WithLabelValues("buffer_full")))
	})
}

func TestHub_Join(t *testing.T) {
	t.Run("should refuse connections that are not registered", func(t *testing.T) {
		req := require.New(t)
		h := NewHub(nil, nil, 8)
		c := h.NewClient(nil, auth.Identity{UserID: 1})

		req.ErrorIs(h.Join(Group(1), c), ErrConnectionClosed)
		req.Empty(h.Subscribers(Group(1)))
	})

	t.Run("should stop delivery after leave", func(t *testing.T) {
		req := require.New(t)
		h := NewHub(nil, nil, 8)
		c := registered(t, h, 1)
		req.NoError(h.Join(Group(1), c))
		h.Leave(Group(1), c)

		req.Zero(h.Deliver(Group(1), []byte("x")))
	})
}

func TestHub_Unregister(t *testing.T) {
	t.Run("should leave every channel and close the queue", func(t *testing.T) {
		req := require.New(t)
		m := metrics.NewCollector("test")
		h := NewHub(nil, m, 8)
		c := registered(t, h, 1)
		req.NoError(h.Join(Private(7), c))
		req.NoError(h.Join(Group(3), c))
		req.Equal(float64(1), testutil.ToFloat64(m.ActiveConnections))

		h.Unregister(c)
		h.Unregister(c)

		req.Empty(h.ConnectionsFor(1))
		req.Empty(h.Subscribers(Private(7)))
		req.Empty(h.Subscribers(Group(3)))
		req.Zero(h.Deliver(Private(7), []byte("x")))
		req.Equal(float64(0), testutil.ToFloat64(m.ActiveConnections))

		_, open := <-c.Outbox()
		req.False(open)
	})

	t.Run("should not register a closed connection again", func(t *testing.T) {
		req := require.New(t)
		h := NewHub(nil, nil, 8)
		c := registered(t, h, 1)
		h.Unregister(c)

		req.ErrorIs(h.Register(c), ErrConnectionClosed)
		req.ErrorIs(h.Join(Group(1), c), ErrConnectionClosed)
	})
}
