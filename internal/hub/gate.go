package hub

import (
	"context"
	"fmt"

	"chat-hub/internal/models"
)

// Gate checks conversation membership against the participant records.
type Gate struct {
	participants ParticipantChecker
}

func NewGate(participants ParticipantChecker) *Gate {
	return &Gate{participants: participants}
}

func (g *Gate) IsParticipant(ctx context.Context, userID models.UserID, conversationID models.ConversationID) (bool, error) {
	return g.participants.IsParticipant(ctx, userID, conversationID)
}

// Authorize returns ErrUnauthorized for non-participants and
// ErrStorageFailure when the lookup itself fails.
func (g *Gate) Authorize(ctx context.Context, userID models.UserID, conversationID models.ConversationID) error {
	ok, err := g.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("%w: participant lookup: %v", ErrStorageFailure, err)
	}
	if !ok {
		return fmt.Errorf("user %d in conversation %d: %w", userID, conversationID, ErrUnauthorized)
	}
	return nil
}
