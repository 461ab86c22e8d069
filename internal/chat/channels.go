package chat

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"
)

const channelShards = 64

// Channels maps a conversation to the connections subscribed to it. It is a
// pure fan-out structure: callers authorize before Join.
//
// Lock order is Client.mu then shard.mu. Publish only ever takes a shard read
// lock to copy the subscriber set and delivers after releasing it.
type Channels struct {
	shards [channelShards]channelShard
}

type channelShard struct {
	mu   sync.RWMutex
	subs map[ConversationRef]map[string]*Client
}

func NewChannels() *Channels {
	m := &Channels{}
	for i := range m.shards {
		m.shards[i].subs = make(map[ConversationRef]map[string]*Client)
	}
	return m
}

func (m *Channels) shard(ref ConversationRef) *channelShard {
	return &m.shards[xxhash.Sum64String(ref.String())%channelShards]
}

// Join subscribes c to ref. It fails with ErrConnectionClosed once c has
// been through LeaveAll.
func (m *Channels) Join(ref ConversationRef, c *Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}

	s := m.shard(ref)
	s.mu.Lock()
	subs, ok := s.subs[ref]
	if !ok {
		subs = make(map[string]*Client)
		s.subs[ref] = subs
	}
	subs[c.ID] = c
	s.mu.Unlock()

	c.rooms[ref] = struct{}{}
	return nil
}

func (m *Channels) Leave(ref ConversationRef, c *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, ref)
	m.remove(ref, c.ID)
}

// LeaveAll removes c from every channel it joined and marks it closed so no
// later Join can resubscribe it. It returns the conversations it left.
func (m *Channels) LeaveAll(c *Client) []ConversationRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	left := lo.Keys(c.rooms)
	for _, ref := range left {
		m.remove(ref, c.ID)
	}
	c.rooms = make(map[ConversationRef]struct{})
	return left
}

func (m *Channels) remove(ref ConversationRef, connID string) {
	s := m.shard(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.subs[ref]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(s.subs, ref)
	}
}

// Subscribers returns a snapshot of the connections subscribed to ref.
func (m *Channels) Subscribers(ref ConversationRef) []*Client {
	s := m.shard(ref)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Values(s.subs[ref])
}

// Publish enqueues payload on every connection in the snapshot of ref's
// subscribers. Each connection appears once in the snapshot, so it receives
// the payload at most once per call. Connections whose queue is full are
// returned to the caller.
func (m *Channels) Publish(ref ConversationRef, payload []byte) (delivered int, slow []*Client) {
	for _, c := range m.Subscribers(ref) {
		switch c.enqueue(payload) {
		case enqueued:
			delivered++
		case bufferFull:
			slow = append(slow, c)
		}
	}
	return delivered, slow
}

// Len returns the number of non-empty channels.
func (m *Channels) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.subs)
		s.mu.RUnlock()
	}
	return n
}
