package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Telecare/internal/domain"
)

// AuditSink implements core.AuditSink. Rows are append-only.
type AuditSink struct{ d *DB }

func (d *DB) Audit() *AuditSink { return &AuditSink{d} }

func (s *AuditSink) WriteAudit(ctx context.Context, ev domain.AuditEvent) error {
	var meta any
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := s.d.db.ExecContext(ctx, `
		INSERT INTO audit_events (session_id, user_id, type, metadata, ts)
		VALUES (?, ?, ?, ?, ?)
	`, string(ev.SessionID), string(ev.UserID), string(ev.Type), meta, toUnix(ev.Timestamp))
	if err != nil {
		return persistence("insert audit event", err)
	}
	return nil
}

// CountAudit reports how many events of typ were stored for sid.
func (s *AuditSink) CountAudit(ctx context.Context, sid domain.SessionID, typ domain.AuditType) (int, error) {
	var n int
	err := s.d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE session_id = ? AND type = ?`,
		string(sid), string(typ)).Scan(&n)
	if err != nil {
		return 0, persistence("count audit events", err)
	}
	return n, nil
}
