package streamer

import "sync"

// Registry tracks the live connection set. The transport layer adds a
// connection on handshake and removes it on close; handlers enumerate a
// snapshot so a connection closing mid-broadcast cannot invalidate the
// scan.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers conn as live.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.id] = conn
}

// Remove drops conn from the live set. Removing an absent connection is
// a no-op.
func (r *Registry) Remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn.id)
}

// Snapshot returns a copy of the live set at call time. The copy is the
// caller's to iterate; membership changes after the call do not affect it.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the live connection count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
