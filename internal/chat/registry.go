package chat

import (
	"sync"
)

const registryShards = 32

// Registry maps a user to the set of its live push connections. Users are
// spread over independently locked shards. The connection index answers Has
// and Len without visiting every shard.
type Registry struct {
	shards [registryShards]registryShard

	indexMu sync.RWMutex
	byConn  map[string]int64
}

type registryShard struct {
	mu    sync.RWMutex
	users map[int64]map[string]*Client
}

func NewRegistry() *Registry {
	r := &Registry{byConn: make(map[string]int64)}
	for i := range r.shards {
		r.shards[i].users = make(map[int64]map[string]*Client)
	}
	return r
}

func (r *Registry) shard(userID int64) *registryShard {
	return &r.shards[uint64(userID)%registryShards]
}

// Register adds c under its identity. Registering the same connection again
// is a no-op; the result reports whether c was added.
func (r *Registry) Register(c *Client) bool {
	userID := c.Identity.UserID
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	r.indexMu.Lock()
	_, known := r.byConn[c.ID]
	r.byConn[c.ID] = userID
	r.indexMu.Unlock()
	if known {
		return false
	}

	conns, ok := s.users[userID]
	if !ok {
		conns = make(map[string]*Client)
		s.users[userID] = conns
	}
	conns[c.ID] = c
	return true
}

// Unregister removes c from whichever identity holds it and prunes empty
// entries. It reports whether c was registered.
func (r *Registry) Unregister(c *Client) bool {
	// The shard lock is taken before the index lock on both paths.
	s := r.shard(c.Identity.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	r.indexMu.Lock()
	userID, ok := r.byConn[c.ID]
	delete(r.byConn, c.ID)
	r.indexMu.Unlock()
	if !ok {
		return false
	}

	conns := s.users[userID]
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(s.users, userID)
	}
	return true
}

// ConnectionsFor returns a snapshot of the live connections of userID.
func (r *Registry) ConnectionsFor(userID int64) []*Client {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.users[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Has reports whether the connection is currently registered.
func (r *Registry) Has(c *Client) bool {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	_, ok := r.byConn[c.ID]
	return ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	return len(r.byConn)
}

// Users returns the number of users with at least one connection.
func (r *Registry) Users() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.users)
		s.mu.RUnlock()
	}
	return n
}
