package hub

import (
	"context"
	"time"

	"chat-hub/internal/models"
)

// ParticipantChecker answers whether a user belongs to a conversation.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, userID models.UserID, conversationID models.ConversationID) (bool, error)
}

// Storage is the persistence collaborator the hub delegates to.
type Storage interface {
	ParticipantChecker
	ParticipantsOf(ctx context.Context, userID models.UserID) ([]models.ConversationID, error)
	PersistMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	TouchConversation(ctx context.Context, conversationID models.ConversationID, at time.Time) error
	SetPresence(ctx context.Context, userID models.UserID, online bool, lastSeen time.Time) error
}

// Sink is the outbound half of a live transport session. Send must not
// block and must be safe to call after Close; it reports whether the frame
// was queued.
type Sink interface {
	Send(frame []byte) bool
	Close()
}
