package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-hub/internal/models"
)

type fakeStore struct {
	mu           sync.Mutex
	participants map[models.ConversationID]map[models.UserID]bool
	usernames    map[models.UserID]string
	messages     []*models.Message
	touched      map[models.ConversationID]time.Time
	presence     map[models.UserID]bool
	lastSeen     map[models.UserID]time.Time
	nextID       int64

	persistErr      error
	participantsErr error
	persistDelay    time.Duration
	// beforeParticipantsOf runs before the conversations of a user are read.
	beforeParticipantsOf func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants: make(map[models.ConversationID]map[models.UserID]bool),
		usernames:    make(map[models.UserID]string),
		touched:      make(map[models.ConversationID]time.Time),
		presence:     make(map[models.UserID]bool),
		lastSeen:     make(map[models.UserID]time.Time),
	}
}

func (s *fakeStore) addParticipants(conversationID models.ConversationID, users ...models.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participants[conversationID] == nil {
		s.participants[conversationID] = make(map[models.UserID]bool)
	}
	for _, u := range users {
		s.participants[conversationID][u] = true
	}
}

func (s *fakeStore) IsParticipant(_ context.Context, userID models.UserID, conversationID models.ConversationID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants[conversationID][userID], nil
}

func (s *fakeStore) ParticipantsOf(_ context.Context, userID models.UserID) ([]models.ConversationID, error) {
	if s.beforeParticipantsOf != nil {
		s.beforeParticipantsOf()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participantsErr != nil {
		return nil, s.participantsErr
	}
	var out []models.ConversationID
	for conversationID, users := range s.participants {
		if users[userID] {
			out = append(out, conversationID)
		}
	}
	return out, nil
}

func (s *fakeStore) PersistMessage(_ context.Context, msg models.NewMessage) (*models.Message, error) {
	if s.persistDelay > 0 {
		time.Sleep(s.persistDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return nil, s.persistErr
	}
	s.nextID++
	out := &models.Message{
		ID:             s.nextID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderUsername: s.usernames[msg.SenderID],
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		CreatedAt:      time.Now().UTC(),
	}
	if msg.File != nil {
		out.FileURL = &msg.File.URL
		out.FileName = &msg.File.Name
		out.FileSize = msg.File.Size
	}
	s.messages = append(s.messages, out)
	return out, nil
}

func (s *fakeStore) TouchConversation(_ context.Context, conversationID models.ConversationID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[conversationID] = at
	return nil
}

func (s *fakeStore) SetPresence(_ context.Context, userID models.UserID, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = online
	if !online {
		s.lastSeen[userID] = lastSeen
	}
	return nil
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type received struct {
	Event models.EventType `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *fakeSink) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSink) events(t *testing.T) []received {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]received, 0, len(s.frames))
	for _, f := range s.frames {
		var r received
		require.NoError(t, json.Unmarshal(f, &r))
		out = append(out, r)
	}
	return out
}

func (s *fakeSink) eventsOf(t *testing.T, event models.EventType) []received {
	t.Helper()
	var out []received
	for _, r := range s.events(t) {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

var errBoom = errors.New("boom")

func frame(t *testing.T, event models.EventType, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(models.InboundFrame{Event: event, Data: raw})
	require.NoError(t, err)
	return out
}

func convID(id int) *models.ConversationID {
	c := models.ConversationID(id)
	return &c
}

// assertConsistent checks the bidirectional membership invariant.
func assertConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	for conversationID, members := range r.rooms {
		require.NotEmpty(t, members, "empty room %d kept", conversationID)
		for id := range members {
			c, ok := r.conns[id]
			require.True(t, ok, "room %d holds dead connection %s", conversationID, id)
			_, in := c.rooms[conversationID]
			require.True(t, in, "connection %s missing room %d", id, conversationID)
		}
	}
	for id, c := range r.conns {
		for conversationID := range c.rooms {
			_, in := r.rooms[conversationID][id]
			require.True(t, in, "room %d missing connection %s", conversationID, id)
		}
		_, indexed := r.byUser[c.identity.UserID][id]
		require.True(t, indexed, "connection %s missing from user index", id)
	}
}
