package models

import (
	"encoding/json"
	"time"
)

type EventType string

// Inbound events.
const (
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"
	EventTyping            EventType = "typing"
)

// Outbound events.
const (
	EventUserStatus         EventType = "user_status"
	EventJoinedConversation EventType = "joined_conversation"
	EventNewMessage         EventType = "new_message"
	EventUserTyping         EventType = "user_typing"
	EventError              EventType = "error"
)

type InboundFrame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type OutboundFrame struct {
	Event EventType `json:"event"`
	Data  any       `json:"data"`
}

type ConversationRef struct {
	ConversationID *ConversationID `json:"conversation_id"`
}

type SendMessageData struct {
	ConversationID *ConversationID `json:"conversation_id"`
	Content        string          `json:"content"`
	MessageType    MessageType     `json:"message_type"`
	FileData       *FileData       `json:"file_data"`
}

type TypingData struct {
	ConversationID *ConversationID `json:"conversation_id"`
	IsTyping       bool            `json:"is_typing"`
}

type UserStatus struct {
	UserID   UserID     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type JoinedConversation struct {
	ConversationID ConversationID `json:"conversation_id"`
}

type UserTyping struct {
	UserID         UserID         `json:"user_id"`
	Username       string         `json:"username"`
	ConversationID ConversationID `json:"conversation_id"`
	IsTyping       bool           `json:"is_typing"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
