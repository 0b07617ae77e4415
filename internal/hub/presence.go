package hub

import (
	"sync"
	"time"

	"chat-hub/internal/models"
)

// Presence derives online state from the registry's per-user connection
// count. The transition hooks must run while the caller holds the user's
// lock and after the registry has been updated, so the count they observe
// is the one the mutation produced.
type Presence struct {
	registry *Registry
	now      func() time.Time

	mu       sync.RWMutex
	lastSeen map[models.UserID]time.Time
}

func NewPresence(registry *Registry, now func() time.Time) *Presence {
	if now == nil {
		now = time.Now
	}
	return &Presence{
		registry: registry,
		now:      now,
		lastSeen: make(map[models.UserID]time.Time),
	}
}

// OnConnectionAdded reports the online transition when the user's first
// connection has just been registered.
func (p *Presence) OnConnectionAdded(userID models.UserID) (models.UserStatus, bool) {
	if p.registry.CountOf(userID) != 1 {
		return models.UserStatus{}, false
	}
	return models.UserStatus{UserID: userID, IsOnline: true}, true
}

// OnConnectionRemoved reports the offline transition and records last-seen
// when the user's last connection has just been removed.
func (p *Presence) OnConnectionRemoved(userID models.UserID) (models.UserStatus, bool) {
	if p.registry.CountOf(userID) != 0 {
		return models.UserStatus{}, false
	}

	seen := p.now().UTC()
	p.mu.Lock()
	p.lastSeen[userID] = seen
	p.mu.Unlock()

	return models.UserStatus{UserID: userID, IsOnline: false, LastSeen: &seen}, true
}

func (p *Presence) IsOnline(userID models.UserID) bool {
	return p.registry.CountOf(userID) > 0
}

// Snapshot returns the live presence of a user. LastSeen is nil for users
// that have not gone offline since the process started.
func (p *Presence) Snapshot(userID models.UserID) models.Presence {
	out := models.Presence{UserID: userID, IsOnline: p.IsOnline(userID)}

	p.mu.RLock()
	seen, ok := p.lastSeen[userID]
	p.mu.RUnlock()
	if ok {
		out.LastSeen = &seen
	}
	return out
}
