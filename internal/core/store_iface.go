package core

import (
	"context"
	"io"

	"github.com/dkeye/Telecare/internal/domain"
)

// ChatRepository is the persistent chat store.
type ChatRepository interface {
	// AppendMessage stores msg. inserted is false when the id already exists.
	AppendMessage(ctx context.Context, msg domain.ChatMessage) (inserted bool, err error)
	// MessagesBySession returns the history ordered by creation time.
	MessagesBySession(ctx context.Context, sid domain.SessionID) ([]domain.ChatMessage, error)
}

// NotesRepository is a single-row-per-session upsert target.
type NotesRepository interface {
	UpsertNotes(ctx context.Context, doc domain.NotesDocument) error
	GetNotes(ctx context.Context, sid domain.SessionID) (domain.NotesDocument, error)
}

// FileMetaRepository links stored blobs to sessions.
type FileMetaRepository interface {
	InsertFile(ctx context.Context, rec domain.FileRecord) error
	// FilesBySession returns records newest first.
	FilesBySession(ctx context.Context, sid domain.SessionID) ([]domain.FileRecord, error)
}

// BlobStore is the durable object store for uploaded artifacts.
type BlobStore interface {
	// Put writes at most maxBytes from r under key and returns its public URL
	// and the number of bytes written. It fails with domain.ErrFileTooLarge
	// (removing the partial object) if r holds more than maxBytes.
	Put(ctx context.Context, key string, r io.Reader, maxBytes int64) (url string, n int64, err error)
	Delete(ctx context.Context, key string) error
}

// AuditSink is the append-only audit log target.
type AuditSink interface {
	WriteAudit(ctx context.Context, ev domain.AuditEvent) error
}
