// Package files associates uploaded artifacts with a session.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sniffLen is how much of the body mimetype needs to detect most formats.
const sniffLen = 3072

// Upload is one file as received from the uploader. SizeBytes is the
// declared size; the body is still capped while storing.
type Upload struct {
	Name      string
	MimeType  string
	SizeBytes int64
	Body      io.Reader
}

// Auditor receives file events. It must not block.
type Auditor interface {
	Log(sid domain.SessionID, uid domain.UserID, typ domain.AuditType, metadata map[string]any)
}

type Registry struct {
	blobs    core.BlobStore
	meta     core.FileMetaRepository
	maxBytes int64
	audit    Auditor
	log      zerolog.Logger
}

func NewRegistry(blobs core.BlobStore, meta core.FileMetaRepository, maxBytes int64, audit Auditor) *Registry {
	if maxBytes <= 0 || maxBytes > domain.MaxFileBytes {
		maxBytes = domain.MaxFileBytes
	}
	return &Registry{
		blobs:    blobs,
		meta:     meta,
		maxBytes: maxBytes,
		audit:    audit,
		log:      log.With().Str("module", "app.files").Logger(),
	}
}

// MaxBytes is the upload size limit.
func (r *Registry) MaxBytes() int64 { return r.maxBytes }

// Upload stores the object, then its metadata record. The record is returned
// only after both steps succeed. If the metadata insert fails the stored
// object is left orphaned.
func (r *Registry) Upload(ctx context.Context, sid domain.SessionID, uploader domain.UserID, up Upload) (domain.FileRecord, error) {
	if up.SizeBytes > r.maxBytes {
		return domain.FileRecord{}, fmt.Errorf("upload %q (%d bytes): %w", up.Name, up.SizeBytes, domain.ErrFileTooLarge)
	}
	if sid == "" {
		return domain.FileRecord{}, domain.ErrSessionIDEmpty
	}
	if uploader == "" {
		return domain.FileRecord{}, domain.ErrUserIDEmpty
	}
	name := cleanName(up.Name)
	if name == "" || up.Body == nil {
		return domain.FileRecord{}, fmt.Errorf("upload: %w: missing name or body", domain.ErrInvalidMessage)
	}

	body, mimeType, err := sniff(up.Body, up.MimeType)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("upload %q: read: %w", name, err)
	}

	id := domain.FileID(uuid.NewString())
	key := path.Join(string(sid), string(id), name)
	url, n, err := r.blobs.Put(ctx, key, body, r.maxBytes)
	if err != nil {
		if !errors.Is(err, domain.ErrFileTooLarge) && !errors.Is(err, domain.ErrPersistence) {
			err = domain.Persistence(err)
		}
		return domain.FileRecord{}, fmt.Errorf("upload %q: store object: %w", name, err)
	}

	rec := domain.FileRecord{
		ID:         id,
		SessionID:  sid,
		UploaderID: uploader,
		Name:       name,
		URL:        url,
		MimeType:   mimeType,
		SizeBytes:  n,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.meta.InsertFile(ctx, rec); err != nil {
		r.log.Error().Err(err).Str("key", key).Str("session", string(sid)).Msg("file stored without metadata, object orphaned")
		if !errors.Is(err, domain.ErrPersistence) {
			err = domain.Persistence(err)
		}
		return domain.FileRecord{}, fmt.Errorf("upload %q: insert record: %w", name, err)
	}

	r.log.Info().Str("session", string(sid)).Str("file", string(id)).Int64("size", n).Msg("file uploaded")
	if r.audit != nil {
		r.audit.Log(sid, uploader, domain.AuditFileUploaded, map[string]any{
			"fileId": string(id), "name": name, "size": n, "mime": mimeType,
		})
	}
	return rec, nil
}

// List returns the session's files, newest first.
func (r *Registry) List(ctx context.Context, sid domain.SessionID) ([]domain.FileRecord, error) {
	recs, err := r.meta.FilesBySession(ctx, sid)
	if err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = domain.Persistence(err)
		}
		return nil, fmt.Errorf("list files: %w", err)
	}
	return recs, nil
}

// sniff detects the content type from the head of body when the declared
// type is missing or generic, and returns a reader over the whole body.
func sniff(body io.Reader, declared string) (io.Reader, string, error) {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return body, declared, nil
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	head = head[:n]
	return io.MultiReader(bytes.NewReader(head), body), mimetype.Detect(head).String(), nil
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(path.Clean("/" + name))
	if name == "/" || name == "." {
		return ""
	}
	return name
}
