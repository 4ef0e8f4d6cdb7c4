package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxChatTextLen = 4000

type MessageID string

// ChatMessage is append-only. Receivers must dedupe by ID.
type ChatMessage struct {
	ID         MessageID   `json:"id"`
	SessionID  SessionID   `json:"sessionId"`
	SenderRole Participant `json:"senderRole"`
	Text       string      `json:"text"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// NewChatMessage stamps a fresh id and creation time.
func NewChatMessage(sid SessionID, sender Participant, text string) ChatMessage {
	return ChatMessage{
		ID:         MessageID(uuid.NewString()),
		SessionID:  sid,
		SenderRole: sender,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}
}

func (m ChatMessage) Validate() error {
	if m.SessionID == "" {
		return ErrSessionIDEmpty
	}
	if strings.TrimSpace(m.Text) == "" || len(m.Text) > MaxChatTextLen {
		return ErrInvalidMessage
	}
	switch m.SenderRole {
	case Practitioner, Client:
	default:
		return ErrInvalidMessage
	}
	return nil
}

// Before is the render order: creation time, then id for equal timestamps.
func (m ChatMessage) Before(o ChatMessage) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
