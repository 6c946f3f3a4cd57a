package chat

import (
	"strings"
	"time"
)

// Counterpart is the other participant in a conversation, from the
// current user's perspective.
type Counterpart struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Online   bool   `json:"is_online"`
	Verified bool   `json:"is_verified"`
}

// Subject is the optional listing a conversation is about.
type Subject struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Image string `json:"image,omitempty"`
}

// Preview is the last-message snapshot shown on the conversation list.
// It may lag behind the authoritative message stream.
type Preview struct {
	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is one entry in the user's conversation list. Two
// conversations may share a counterpart (scoped to different subjects);
// their identities are never merged, only grouped for display.
type Conversation struct {
	ID          string      `json:"id"`
	Counterpart Counterpart `json:"counterpart"`
	Subject     *Subject    `json:"subject,omitempty"`
	LastMessage *Preview    `json:"last_message,omitempty"`
	UnreadCount int         `json:"unread_count"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Message is one message in a conversation. Server-confirmed messages
// carry the backend-assigned id; unconfirmed optimistic messages carry a
// local id (see IsLocalID).
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `json:"is_read"`
}

// LocalIDPrefix marks optimistic message ids assigned before the backend
// confirms the send.
const LocalIDPrefix = "local-"

// IsLocalID reports whether id was assigned locally (optimistic, not yet
// confirmed by the backend).
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Pending reports whether the message is an unconfirmed optimistic send.
func (m *Message) Pending() bool {
	return IsLocalID(m.ID)
}

// TypingSignal is an ephemeral typing notification for a conversation.
type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	ActorID        string `json:"actor_id"`
	ActorName      string `json:"actor_name"`
	IsTyping       bool   `json:"is_typing"`
}

// ReadReceipt reports that a participant has read a conversation.
type ReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
}
