package chat

import (
	"context"

	"chat-relay/internal/auth"
	"chat-relay/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub ties the session registry to the channel manager. Removing a
// connection from the registry always removes it from every channel first.
type Hub struct {
	registry *Registry
	channels *Channels
	log      *zap.Logger
	metrics  *metrics.Collector
	buffer   int
}

func NewHub(log *zap.Logger, m *metrics.Collector, sendBuffer int) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		registry: NewRegistry(),
		channels: NewChannels(),
		log:      log,
		metrics:  m,
		buffer:   sendBuffer,
	}
}

func (h *Hub) NewClient(conn *websocket.Conn, identity auth.Identity) *Client {
	return NewClient(h, conn, identity, h.buffer)
}

// Register makes c visible to presence lookups. A connection that has
// already been unregistered cannot come back.
func (h *Hub) Register(c *Client) error {
	if c.Closed() {
		return ErrConnectionClosed
	}
	if h.registry.Register(c) {
		h.metrics.ConnectionOpened()
		h.log.Info("connection registered",
			zap.String("connection_id", c.ID),
			zap.Int64("user_id", c.Identity.UserID))
	}
	return nil
}

// Unregister is idempotent. It leaves every channel, drops the registry
// entry and closes the outbound queue.
func (h *Hub) Unregister(c *Client) {
	left := h.channels.LeaveAll(c)
	removed := h.registry.Unregister(c)
	c.shutdown()
	if removed {
		h.metrics.ConnectionClosed()
		h.log.Info("connection unregistered",
			zap.String("connection_id", c.ID),
			zap.Int64("user_id", c.Identity.UserID),
			zap.Int("channels_left", len(left)))
	}
}

// Join subscribes a registered connection. Authorization is the caller's job.
func (h *Hub) Join(ref ConversationRef, c *Client) error {
	if !h.registry.Has(c) {
		return ErrConnectionClosed
	}
	if err := h.channels.Join(ref, c); err != nil {
		return err
	}
	h.metrics.Joined()
	return nil
}

func (h *Hub) Leave(ref ConversationRef, c *Client) {
	h.channels.Leave(ref, c)
}

func (h *Hub) ConnectionsFor(userID int64) []*Client {
	return h.registry.ConnectionsFor(userID)
}

func (h *Hub) Subscribers(ref ConversationRef) []*Client {
	return h.channels.Subscribers(ref)
}

// Publish fans msg out to the current subscribers of ref. Delivery is best
// effort per connection and never fails the caller because of a subscriber.
func (h *Hub) Publish(_ context.Context, ref ConversationRef, msg *Message) error {
	payload, err := encodeEvent(Event{Type: EventNewMessage, Conversation: &ref, Message: msg})
	if err != nil {
		return err
	}
	h.Deliver(ref, payload)
	return nil
}

// Deliver fans an already encoded event out to ref. Connections that cannot
// keep up are disconnected, the same way a dead peer would be.
func (h *Hub) Deliver(ref ConversationRef, payload []byte) int {
	delivered, slow := h.channels.Publish(ref, payload)
	h.metrics.Fanout(delivered)
	for _, c := range slow {
		h.metrics.Drop("buffer_full")
		h.log.Warn("dropping slow connection",
			zap.String("conversation", ref.String()),
			zap.String("connection_id", c.ID),
			zap.Int64("user_id", c.Identity.UserID))
		h.Unregister(c)
	}
	return delivered
}
