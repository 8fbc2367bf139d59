package models

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an individual entry of a conversation. It contains the unique identifier used as
// the render key, the participant's role, the plain-text body and the display time captured when the
// message was created.
type Message struct {
	ID   string
	Role Role
	// Text is rendered as plain text only. It may come from the user or from the provider, and neither is
	// trusted to contain markup.
	Text string
	// Timestamp is the display time, formatted once at creation and never recomputed.
	Timestamp string
	CreatedAt time.Time
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the provider, or a synthetic message such as the
	// welcome text and the fallback shown on failure.
	RoleAssistant Role = "assistant"

	// WelcomeMessageID is the fixed identifier of the synthetic welcome message.
	WelcomeMessageID = "welcome"

	// WelcomeText is the body of the message every conversation starts with.
	WelcomeText = "Hello! I'm your AI assistant. I'm here to help you with any questions or tasks you might " +
		"have. Feel free to ask me anything!"

	// FallbackText replaces the reply whenever a turn fails, whatever the cause.
	FallbackText = "I apologize, but I'm experiencing some technical difficulties. Please check your API key " +
		"or try again later."

	timestampLayout = "03:04 PM"
)

// NewMessage creates a message with a fresh identifier and the display time of now.
func NewMessage(role Role, text string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: FormatTimestamp(now),
		CreatedAt: now,
	}
}

// NewWelcomeMessage creates the synthetic assistant message that opens every conversation.
func NewWelcomeMessage(now time.Time) Message {
	m := NewMessage(RoleAssistant, WelcomeText, now)
	m.ID = WelcomeMessageID
	return m
}

// FormatTimestamp formats t as a two-digit hour and minute clock time, e.g. "09:41 AM".
func FormatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// IsUser reports whether the message was typed by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}
