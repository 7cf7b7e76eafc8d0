package remote

import (
	"sync"

	"github.com/google/uuid"
)

// Connection is an established, confirmed SSH target kept around between
// POST /api/remote/connect and later calls (conda-envs, config, viewer
// start) that reuse it by connection_id rather than re-supplying
// credentials on every request.
type Connection struct {
	ID   string
	Opts ConnectOptions
}

// ConnectionRegistry tracks every confirmed connection for the local
// process's lifetime. Credentials live only in memory — never persisted —
// so a process restart requires the client to reconnect.
type ConnectionRegistry struct {
	mu    sync.Mutex
	byID  map[string]*Connection
}

// NewConnectionRegistry builds an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{byID: make(map[string]*Connection)}
}

// Add registers a newly confirmed connection and returns its ID.
func (r *ConnectionRegistry) Add(opts ConnectOptions) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Connection{ID: uuid.NewString(), Opts: opts}
	r.byID[c.ID] = c
	return c
}

// Get returns the connection for id, or ErrSessionNotFound.
func (r *ConnectionRegistry) Get(id string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// Remove forgets a connection. It does not close any pooled SSH client —
// Pool's own idle eviction handles that independently.
func (r *ConnectionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}
