package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"chat-hub/internal/database"
	"chat-hub/internal/models"
)

const (
	MessagesPerPage    = 50
	userSearchLimit    = 10
	messageSearchLimit = 20
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

type SearchType string

const (
	SearchAll      SearchType = "all"
	SearchUsers    SearchType = "users"
	SearchMessages SearchType = "messages"
)

// Store is the slice of the database the conversation service reads and
// writes.
type Store interface {
	database.ConversationRepository
	database.ParticipantRepository
	SearchUsers(ctx context.Context, query string, exclude models.UserID, limit int) ([]*models.User, error)
	ListMessages(ctx context.Context, conversationID models.ConversationID, page, perPage int) (*models.MessagePage, error)
	SearchMessages(ctx context.Context, viewer models.UserID, query string, limit int) ([]*models.Message, error)
}

// RoomJoiner subscribes a user's live connections to a conversation.
type RoomJoiner interface {
	JoinUser(userID models.UserID, conversationID models.ConversationID) int
}

type ConversationService struct {
	db    Store
	rooms RoomJoiner
}

func NewConversationService(db Store, rooms RoomJoiner) *ConversationService {
	return &ConversationService{db: db, rooms: rooms}
}

func (s *ConversationService) List(ctx context.Context, userID models.UserID) ([]*models.ConversationSummary, error) {
	return s.db.ListConversations(ctx, userID)
}

func (s *ConversationService) Messages(ctx context.Context, userID models.UserID, conversationID models.ConversationID, page int) (*models.MessagePage, error) {
	ok, err := s.db.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("participant lookup: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}
	return s.db.ListMessages(ctx, conversationID, page, MessagesPerPage)
}

// Create opens a conversation between the creator and the requested
// participants. A direct conversation that already exists between the two
// users is returned instead of creating a duplicate.
func (s *ConversationService) Create(ctx context.Context, creator models.UserID, req *models.CreateConversationRequest) (*models.ConversationSummary, error) {
	if len(req.ParticipantIDs) == 0 {
		return nil, fmt.Errorf("%w: At least one participant is required", ErrInvalidInput)
	}

	if !req.IsGroup && len(req.ParticipantIDs) == 1 {
		id, found, err := s.db.FindDirectConversation(ctx, creator, req.ParticipantIDs[0])
		if err != nil {
			return nil, fmt.Errorf("direct conversation lookup: %w", err)
		}
		if found {
			return s.db.GetConversationSummary(ctx, id, creator)
		}
	}

	participants := []models.UserID{creator}
	for _, userID := range req.ParticipantIDs {
		if !slices.Contains(participants, userID) {
			participants = append(participants, userID)
		}
	}

	name := ""
	if req.IsGroup {
		name = strings.TrimSpace(req.Name)
	}
	id, err := s.db.CreateConversation(ctx, name, req.IsGroup, participants)
	if err != nil {
		return nil, err
	}

	// Online participants receive events for the new conversation without
	// reconnecting.
	for _, userID := range participants {
		s.rooms.JoinUser(userID, id)
	}

	return s.db.GetConversationSummary(ctx, id, creator)
}

func (s *ConversationService) Search(ctx context.Context, userID models.UserID, query string, kind SearchType) (*models.SearchResults, error) {
	results := &models.SearchResults{Users: []*models.User{}, Messages: []*models.Message{}}

	query = strings.TrimSpace(query)
	if query == "" {
		return results, nil
	}
	if kind == "" {
		kind = SearchAll
	}

	if kind == SearchAll || kind == SearchUsers {
		users, err := s.db.SearchUsers(ctx, query, userID, userSearchLimit)
		if err != nil {
			return nil, fmt.Errorf("search users: %w", err)
		}
		results.Users = users
	}
	if kind == SearchAll || kind == SearchMessages {
		messages, err := s.db.SearchMessages(ctx, userID, query, messageSearchLimit)
		if err != nil {
			return nil, fmt.Errorf("search messages: %w", err)
		}
		results.Messages = messages
	}
	return results, nil
}
