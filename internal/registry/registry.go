package registry

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrDuplicateID is returned by Add when the identity is already present.
// It should not happen given uuid identities.
var ErrDuplicateID = errors.New("connection id already registered")

// Registry is the single source of truth for live connections. All
// mutations are immediately visible to subsequent calls.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		conns:  make(map[string]*Conn),
	}
}

// Add inserts a connection. Fails only on a duplicate identity.
func (r *Registry) Add(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID()]; exists {
		return ErrDuplicateID
	}
	r.conns[c.ID()] = c

	r.logger.Debug("connection registered", "conn_id", c.ID(), "total", len(r.conns))
	return nil
}

// Remove deletes a connection by identity. Removing an unknown identity
// is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; !exists {
		return
	}
	delete(r.conns, id)

	r.logger.Debug("connection removed", "conn_id", id, "total", len(r.conns))
}

// Find returns the connection for an identity.
func (r *Registry) Find(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// ForEach visits a snapshot of the current connections. The visitor may
// call Remove without corrupting the iteration.
func (r *Registry) ForEach(visit func(c *Conn)) {
	r.mu.RLock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		visit(c)
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
