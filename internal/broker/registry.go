package broker

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrOverloaded is returned by Registry.Admit when the global client cap is
// already reached.
var ErrOverloaded = errors.New("overloaded")

// Registry is the client registry (component B): assigns a unique id per
// accepted connection and enforces the global client cap. It is the only
// place that creates or destroys Client values; everything else reaches a
// Client through Lookup.
type Registry struct {
	mu         sync.Mutex
	clients    map[string]*Client
	maxClients int
}

// NewRegistry creates an empty registry capped at maxClients.
func NewRegistry(maxClients int) *Registry {
	return &Registry{
		clients:    make(map[string]*Client),
		maxClients: maxClients,
	}
}

// Admit generates a fresh id and inserts a new client record, or rejects
// with ErrOverloaded once the registry is at capacity.
func (r *Registry) Admit(queueSize int, bucket *TokenBucket) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxClients > 0 && len(r.clients) >= r.maxClients {
		return nil, ErrOverloaded
	}

	id := uuid.NewString()
	for _, exists := r.clients[id]; exists; _, exists = r.clients[id] {
		id = uuid.NewString()
	}

	c := newClient(id, queueSize, bucket)
	r.clients[id] = c
	return c, nil
}

// Lookup returns the client with the given id, if connected.
func (r *Registry) Lookup(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// Remove deletes a client from the registry. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Len reports the current number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Snapshot returns a point-in-time copy of all connected client ids.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}
