package hub

import (
	"fmt"
	"iter"
	"sync"

	"chat-hub/internal/models"
)

// ConnID identifies one live transport session.
type ConnID string

type connection struct {
	id       ConnID
	identity models.Identity
	sink     Sink
	rooms    map[models.ConversationID]struct{}
}

// Departure describes a connection removed from the registry.
type Departure struct {
	ID       ConnID
	Identity models.Identity
	Sink     Sink
	Rooms    []models.ConversationID
}

// Registry owns every live connection, the per-user index used for
// presence, and the room membership table. One lock guards all three so a
// membership change updates the room side and the connection side in the
// same critical section.
type Registry struct {
	mu     sync.RWMutex
	conns  map[ConnID]*connection
	byUser map[models.UserID]map[ConnID]struct{}
	rooms  map[models.ConversationID]map[ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[ConnID]*connection),
		byUser: make(map[models.UserID]map[ConnID]struct{}),
		rooms:  make(map[models.ConversationID]map[ConnID]struct{}),
	}
}

// Register adds a live connection for identity.
func (r *Registry) Register(id ConnID, identity models.Identity, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return fmt.Errorf("register %s: %w", id, ErrDuplicateConnection)
	}

	r.conns[id] = &connection{
		id:       id,
		identity: identity,
		sink:     sink,
		rooms:    make(map[models.ConversationID]struct{}),
	}
	set, ok := r.byUser[identity.UserID]
	if !ok {
		set = make(map[ConnID]struct{})
		r.byUser[identity.UserID] = set
	}
	set[id] = struct{}{}
	return nil
}

// Unregister removes a connection together with all of its room
// memberships.
func (r *Registry) Unregister(id ConnID) (Departure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return Departure{}, fmt.Errorf("unregister %s: %w", id, ErrNotFound)
	}

	rooms := r.leaveAllLocked(c)
	delete(r.conns, id)
	if set := r.byUser[c.identity.UserID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, c.identity.UserID)
		}
	}

	return Departure{ID: id, Identity: c.identity, Sink: c.sink, Rooms: rooms}, nil
}

// ConnectionsOf yields the live connections of a user. Each iteration
// starts from a fresh view of the registry.
func (r *Registry) ConnectionsOf(userID models.UserID) iter.Seq[ConnID] {
	return func(yield func(ConnID) bool) {
		r.mu.RLock()
		ids := make([]ConnID, 0, len(r.byUser[userID]))
		for id := range r.byUser[userID] {
			ids = append(ids, id)
		}
		r.mu.RUnlock()

		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// CountOf returns the number of live connections of a user.
func (r *Registry) CountOf(userID models.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Lookup returns the identity owning a connection.
func (r *Registry) Lookup(id ConnID) (models.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return models.Identity{}, false
	}
	return c.identity, true
}

func (r *Registry) sinkOf(id ConnID) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return c.sink, true
}

func (r *Registry) allSinks() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]Sink, 0, len(r.conns))
	for _, c := range r.conns {
		sinks = append(sinks, c.sink)
	}
	return sinks
}

func (r *Registry) ids() []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
