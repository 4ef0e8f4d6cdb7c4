package domain

import "time"

// MaxFileBytes is the size invariant of a FileRecord.
const MaxFileBytes int64 = 50 * 1024 * 1024

type FileID string

// FileRecord exists only after the underlying object is durably stored.
type FileRecord struct {
	ID         FileID    `json:"id"`
	SessionID  SessionID `json:"sessionId"`
	UploaderID UserID    `json:"uploaderId"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	CreatedAt  time.Time `json:"createdAt"`
}
