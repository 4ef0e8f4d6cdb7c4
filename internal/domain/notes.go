package domain

import "time"

// NotesDocument is owned by the practitioner; upserts are last-write-wins per session.
type NotesDocument struct {
	SessionID   SessionID `json:"sessionId"`
	TherapistID UserID    `json:"therapistId"`
	ClientID    UserID    `json:"clientId"`
	Text        string    `json:"text"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
