package models

import "time"

type ConversationID int

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeVoice MessageType = "voice"
	MessageTypeFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeVoice, MessageTypeFile:
		return true
	}
	return false
}

type Conversation struct {
	ID        ConversationID `json:"id"`
	Name      string         `json:"name"`
	IsGroup   bool           `json:"is_group"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ConversationSummary is a conversation as seen by one participant: direct
// conversations take the other participant's name and avatar.
type ConversationSummary struct {
	ID               ConversationID `json:"id"`
	Name             string         `json:"name"`
	IsGroup          bool           `json:"is_group"`
	AvatarURL        string         `json:"avatar_url"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ParticipantCount int            `json:"participant_count"`
}

type CreateConversationRequest struct {
	ParticipantIDs []UserID `json:"participant_ids"`
	IsGroup        bool     `json:"is_group"`
	Name           string   `json:"name"`
}

type FileData struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size *int64 `json:"size"`
}

// NewMessage is a validated message ready to be persisted.
type NewMessage struct {
	ConversationID ConversationID
	SenderID       UserID
	Content        string
	MessageType    MessageType
	File           *FileData
}

type Message struct {
	ID             int64          `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	SenderID       UserID         `json:"sender_id"`
	SenderUsername string         `json:"sender_username"`
	SenderAvatar   string         `json:"sender_avatar"`
	Content        string         `json:"content"`
	MessageType    MessageType    `json:"message_type"`
	FileURL        *string        `json:"file_url"`
	FileName       *string        `json:"file_name"`
	FileSize       *int64         `json:"file_size"`
	CreatedAt      time.Time      `json:"created_at"`
	EditedAt       *time.Time     `json:"edited_at"`
	IsDeleted      bool           `json:"is_deleted"`
}

type MessagePage struct {
	Messages []*Message `json:"messages"`
	HasMore  bool       `json:"has_more"`
	Page     int        `json:"page"`
}

type SearchResults struct {
	Users    []*User    `json:"users"`
	Messages []*Message `json:"messages"`
}
