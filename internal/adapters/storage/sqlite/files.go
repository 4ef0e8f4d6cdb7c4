package sqlite

import (
	"context"

	"github.com/dkeye/Telecare/internal/domain"
)

// FileRepository implements core.FileMetaRepository.
type FileRepository struct{ d *DB }

func (d *DB) Files() *FileRepository { return &FileRepository{d} }

func (r *FileRepository) InsertFile(ctx context.Context, rec domain.FileRecord) error {
	_, err := r.d.db.ExecContext(ctx, `
		INSERT INTO files (id, session_id, uploader_id, name, url, mime_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(rec.ID), string(rec.SessionID), string(rec.UploaderID), rec.Name, rec.URL,
		rec.MimeType, rec.SizeBytes, toUnix(rec.CreatedAt))
	if err != nil {
		return persistence("insert file", err)
	}
	return nil
}

// FilesBySession returns records newest first.
func (r *FileRepository) FilesBySession(ctx context.Context, sid domain.SessionID) ([]domain.FileRecord, error) {
	rows, err := r.d.db.QueryContext(ctx, `
		SELECT id, session_id, uploader_id, name, url, mime_type, size_bytes, created_at
		FROM files
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
	`, string(sid))
	if err != nil {
		return nil, persistence("query files", err)
	}
	defer rows.Close()

	var recs []domain.FileRecord
	for rows.Next() {
		var (
			rec             domain.FileRecord
			id, s, uploader string
			created         int64
		)
		if err := rows.Scan(&id, &s, &uploader, &rec.Name, &rec.URL, &rec.MimeType, &rec.SizeBytes, &created); err != nil {
			return nil, persistence("scan file", err)
		}
		rec.ID = domain.FileID(id)
		rec.SessionID = domain.SessionID(s)
		rec.UploaderID = domain.UserID(uploader)
		rec.CreatedAt = fromUnix(created)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("read files", err)
	}
	return recs, nil
}
