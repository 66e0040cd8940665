package relay

import "sync"

// Registry is the set of live connections. Snapshot returns a copy, so
// callers iterate without holding the lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Connection]struct{})}
}

func (r *Registry) Add(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c]; exists {
		return ErrDuplicateConnection
	}
	r.conns[c] = struct{}{}
	ConnectedClients.Set(float64(len(r.conns)))
	return nil
}

// Remove is a no-op for connections that are not registered; disconnect
// detection can race with broadcast failures.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c]; !ok {
		return
	}
	delete(r.conns, c)
	ConnectedClients.Set(float64(len(r.conns)))
}

func (r *Registry) Contains(c *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[c]
	return ok
}

func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
