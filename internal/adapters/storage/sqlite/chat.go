package sqlite

import (
	"context"

	"github.com/dkeye/Telecare/internal/domain"
)

// ChatRepository implements core.ChatRepository.
type ChatRepository struct{ d *DB }

func (d *DB) Chat() *ChatRepository { return &ChatRepository{d} }

func (r *ChatRepository) AppendMessage(ctx context.Context, msg domain.ChatMessage) (bool, error) {
	res, err := r.d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_messages (id, session_id, sender_role, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(msg.ID), string(msg.SessionID), string(msg.SenderRole), msg.Text, toUnix(msg.CreatedAt))
	if err != nil {
		return false, persistence("insert chat message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistence("insert chat message", err)
	}
	return n == 1, nil
}

// MessagesBySession returns the history ordered by creation time, then id.
func (r *ChatRepository) MessagesBySession(ctx context.Context, sid domain.SessionID) ([]domain.ChatMessage, error) {
	rows, err := r.d.db.QueryContext(ctx, `
		SELECT id, session_id, sender_role, text, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(sid))
	if err != nil {
		return nil, persistence("query chat messages", err)
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var (
			m       domain.ChatMessage
			id, s   string
			role    string
			created int64
		)
		if err := rows.Scan(&id, &s, &role, &m.Text, &created); err != nil {
			return nil, persistence("scan chat message", err)
		}
		m.ID = domain.MessageID(id)
		m.SessionID = domain.SessionID(s)
		m.SenderRole = domain.Participant(role)
		m.CreatedAt = fromUnix(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("read chat messages", err)
	}
	return msgs, nil
}
