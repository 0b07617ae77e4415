package database

import (
	"context"
	"errors"
	"time"

	"chat-hub/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByID(ctx context.Context, id models.UserID) (*models.User, error)
	SearchUsers(ctx context.Context, query string, exclude models.UserID, limit int) ([]*models.User, error)
}

type ConversationRepository interface {
	ListConversations(ctx context.Context, userID models.UserID) ([]*models.ConversationSummary, error)
	GetConversationSummary(ctx context.Context, id models.ConversationID, viewer models.UserID) (*models.ConversationSummary, error)
	FindDirectConversation(ctx context.Context, a, b models.UserID) (models.ConversationID, bool, error)
	CreateConversation(ctx context.Context, name string, isGroup bool, participants []models.UserID) (models.ConversationID, error)
	TouchConversation(ctx context.Context, id models.ConversationID, at time.Time) error
}

type ParticipantRepository interface {
	IsParticipant(ctx context.Context, userID models.UserID, conversationID models.ConversationID) (bool, error)
	ParticipantsOf(ctx context.Context, userID models.UserID) ([]models.ConversationID, error)
}

type MessageRepository interface {
	PersistMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID models.ConversationID, page, perPage int) (*models.MessagePage, error)
	SearchMessages(ctx context.Context, viewer models.UserID, query string, limit int) ([]*models.Message, error)
}

type PresenceRepository interface {
	SetPresence(ctx context.Context, userID models.UserID, online bool, lastSeen time.Time) error
}

type Database interface {
	UserRepository
	ConversationRepository
	ParticipantRepository
	MessageRepository
	PresenceRepository
	Close() error
}
