package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

type auditEventsRepo struct {
	db dbtx
}

const (
	auditColumns      = `id, actor_id, type, category, success, ip, user_agent, metadata, created_at`
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

func (r *auditEventsRepo) InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		mapStringNull(e.ActorID),
		string(e.Type),
		string(e.Category),
		e.Success,
		e.IP,
		e.UserAgent,
		string(meta),
		toMillis(e.CreatedAt),
	)
	return mapWriteError(err)
}

func (r *auditEventsRepo) ListAuditEvents(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if !f.Before.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, toMillis(f.Before))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	limit = min(limit, maxAuditLimit)

	q := `SELECT ` + auditColumns + ` FROM audit_events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e             domain.AuditEvent
			actor         sql.NullString
			typ, category string
			meta          string
			createdAt     int64
		)
		if err := rows.Scan(&e.ID, &actor, &typ, &category, &e.Success, &e.IP, &e.UserAgent, &meta, &createdAt); err != nil {
			return nil, err
		}
		e.ActorID = mapNullString(actor)
		e.Type = domain.AuditEventType(typ)
		e.Category = domain.AuditCategory(category)
		e.CreatedAt = fromMillis(createdAt)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
