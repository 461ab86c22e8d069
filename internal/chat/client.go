package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chat-relay/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum frame size allowed from peer.
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	bufferFull
	clientClosed
)

// FrameHandler is invoked by ReadPump for every decoded client frame.
type FrameHandler func(ctx context.Context, c *Client, f Frame)

// Client is one authenticated push connection. Its identity is fixed at
// handshake time and inherited by every frame it sends.
type Client struct {
	ID       string
	Identity auth.Identity

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards closed, sendClosed and rooms. Channel membership changes are
	// made while holding it so that a join can never land after leaveAll.
	mu         sync.Mutex
	closed     bool
	sendClosed bool
	rooms      map[ConversationRef]struct{}
}

// NewClient builds a connection for identity. conn may be nil for
// connections that are driven without a socket.
func NewClient(hub *Hub, conn *websocket.Conn, identity auth.Identity, buffer int) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:       uuid.NewString(),
		Identity: identity,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, buffer),
		ctx:      ctx,
		cancel:   cancel,
		rooms:    make(map[ConversationRef]struct{}),
	}
}

// Outbox exposes the buffered outbound queue.
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

// Rooms returns the conversations the connection currently belongs to.
func (c *Client) Rooms() []ConversationRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]ConversationRef, 0, len(c.rooms))
	for ref := range c.rooms {
		rooms = append(rooms, ref)
	}
	return rooms
}

// Closed reports whether the connection has been removed from the hub.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) enqueue(payload []byte) enqueueResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return clientClosed
	}
	select {
	case c.send <- payload:
		return enqueued
	default:
		return bufferFull
	}
}

func (c *Client) reply(ev Event) {
	payload, err := encodeEvent(ev)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *Client) replyError(ref *ConversationRef, err error) {
	c.reply(Event{
		Type:         EventError,
		Conversation: ref,
		Error:        &ErrorBody{Code: Code(err), Message: PublicMessage(err)},
	})
}

// shutdown closes the outbound queue once; WritePump then sends a close frame.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
	c.cancel()
}

// ReadPump pumps frames from the websocket connection to handle. It owns the
// connection lifecycle: when it returns the client is unregistered.
func (c *Client) ReadPump(handle FrameHandler) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read failed", zap.String("connection_id", c.ID), zap.Error(err))
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.replyError(nil, newError(ErrInvalidInput, "malformed frame", err))
			continue
		}
		handle(c.ctx, c, f)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
