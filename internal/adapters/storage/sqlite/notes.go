package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkeye/Telecare/internal/domain"
)

// NotesRepository implements core.NotesRepository. A session's notes
// belong to the therapist that first stored them, and the write with the
// latest updated_at is the one retained.
type NotesRepository struct{ d *DB }

func (d *DB) Notes() *NotesRepository { return &NotesRepository{d} }

func (r *NotesRepository) UpsertNotes(ctx context.Context, doc domain.NotesDocument) error {
	res, err := r.d.db.ExecContext(ctx, `
		INSERT INTO notes (session_id, therapist_id, client_id, text, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			text = excluded.text,
			client_id = excluded.client_id,
			updated_at = excluded.updated_at
		WHERE notes.therapist_id = excluded.therapist_id
			AND excluded.updated_at >= notes.updated_at
	`, string(doc.SessionID), string(doc.TherapistID), string(doc.ClientID), doc.Text, toUnix(doc.UpdatedAt))
	if err != nil {
		return persistence("upsert notes", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("upsert notes", err)
	}
	if n > 0 {
		return nil
	}

	var owner string
	err = r.d.db.QueryRowContext(ctx, `SELECT therapist_id FROM notes WHERE session_id = ?`, string(doc.SessionID)).Scan(&owner)
	if err != nil {
		return persistence("upsert notes", err)
	}
	if owner != string(doc.TherapistID) {
		return fmt.Errorf("upsert notes for %s: %w", doc.SessionID, domain.ErrForbidden)
	}
	// A newer write is already stored; this one lost.
	return nil
}

func (r *NotesRepository) GetNotes(ctx context.Context, sid domain.SessionID) (domain.NotesDocument, error) {
	var (
		doc                  domain.NotesDocument
		s, therapist, client string
		updated              int64
	)
	err := r.d.db.QueryRowContext(ctx, `
		SELECT session_id, therapist_id, client_id, text, updated_at
		FROM notes
		WHERE session_id = ?
	`, string(sid)).Scan(&s, &therapist, &client, &doc.Text, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotesDocument{}, fmt.Errorf("notes for %s: %w", sid, domain.ErrNotFound)
	}
	if err != nil {
		return domain.NotesDocument{}, persistence("get notes", err)
	}
	doc.SessionID = domain.SessionID(s)
	doc.TherapistID = domain.UserID(therapist)
	doc.ClientID = domain.UserID(client)
	doc.UpdatedAt = fromUnix(updated)
	return doc, nil
}
