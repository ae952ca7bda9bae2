package chat

import (
	"log/slog"
	"sync"
)

// Registry tracks all live connections and their session state. The registry
// holds a non-owning lookup; each Session remains exclusively owned by its
// connection's handler.
type Registry struct {
	mu       sync.RWMutex
	nextID   int64
	sessions map[int64]*Session
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

// Connect registers a session and returns the connection handle used to
// release it on disconnect.
func (r *Registry) Connect(s *Session) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.sessions[id] = s
	slog.Info("Connection registered", "conn_id", id, "client_id", s.ClientID)
	return id
}

// Disconnect removes a connection entry. Removing an absent entry is a no-op
// so cleanup paths can run unconditionally.
func (r *Registry) Disconnect(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	slog.Info("Connection unregistered", "conn_id", id, "client_id", s.ClientID)
}

// Get returns the session for a live connection, or nil.
func (r *Registry) Get(id int64) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
