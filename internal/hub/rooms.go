package hub

import (
	"fmt"

	"chat-hub/internal/models"
)

// Join subscribes a connection to a conversation room. Joining a room the
// connection is already in is a no-op.
func (r *Registry) Join(id ConnID, conversationID models.ConversationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("join %d: %w", conversationID, ErrUnknownConnection)
	}
	r.joinLocked(c, conversationID)
	return nil
}

func (r *Registry) joinLocked(c *connection, conversationID models.ConversationID) {
	members, ok := r.rooms[conversationID]
	if !ok {
		members = make(map[ConnID]struct{})
		r.rooms[conversationID] = members
	}
	members[c.id] = struct{}{}
	c.rooms[conversationID] = struct{}{}
}

// Leave unsubscribes a connection from a room. Leaving a room the
// connection is not in is a no-op.
func (r *Registry) Leave(id ConnID, conversationID models.ConversationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("leave %d: %w", conversationID, ErrUnknownConnection)
	}
	r.leaveLocked(c, conversationID)
	return nil
}

func (r *Registry) leaveLocked(c *connection, conversationID models.ConversationID) {
	delete(c.rooms, conversationID)
	if members, ok := r.rooms[conversationID]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(r.rooms, conversationID)
		}
	}
}

// LeaveAll removes a connection from every room and returns the rooms it
// was in.
func (r *Registry) LeaveAll(id ConnID) ([]models.ConversationID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return nil, fmt.Errorf("leave all: %w", ErrUnknownConnection)
	}
	return r.leaveAllLocked(c), nil
}

func (r *Registry) leaveAllLocked(c *connection) []models.ConversationID {
	rooms := make([]models.ConversationID, 0, len(c.rooms))
	for conversationID := range c.rooms {
		rooms = append(rooms, conversationID)
	}
	for _, conversationID := range rooms {
		r.leaveLocked(c, conversationID)
	}
	return rooms
}

// JoinUser subscribes every live connection of a user to a room and
// returns how many connections were joined.
func (r *Registry) JoinUser(userID models.UserID, conversationID models.ConversationID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id := range r.byUser[userID] {
		if c, ok := r.conns[id]; ok {
			r.joinLocked(c, conversationID)
			n++
		}
	}
	return n
}

// MembersOf returns the connections currently subscribed to a room.
func (r *Registry) MembersOf(conversationID models.ConversationID) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[conversationID]
	ids := make([]ConnID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// RoomsOf returns the rooms a connection is subscribed to.
func (r *Registry) RoomsOf(id ConnID) []models.ConversationID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	rooms := make([]models.ConversationID, 0, len(c.rooms))
	for conversationID := range c.rooms {
		rooms = append(rooms, conversationID)
	}
	return rooms
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// roomSinks snapshots the sinks subscribed to a room, leaving out except.
func (r *Registry) roomSinks(conversationID models.ConversationID, except ConnID) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[conversationID]
	sinks := make([]Sink, 0, len(members))
	for id := range members {
		if id == except {
			continue
		}
		if c, ok := r.conns[id]; ok {
			sinks = append(sinks, c.sink)
		}
	}
	return sinks
}
