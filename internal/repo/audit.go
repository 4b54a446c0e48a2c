package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"siteline/internal/domain"
)

// ListEvents returns audit events, newest first, optionally for one entity.
func (r Repo) ListEvents(ctx context.Context, entityKind, entityID string, limit int) ([]domain.AuditEvent, error) {
	query := `SELECT id, ts, type, entity_kind, entity_id, actor_id, payload_json FROM events`
	var args []any
	if entityKind != "" {
		query += ` WHERE entity_kind=?`
		args = append(args, entityKind)
		if entityID != "" {
			query += ` AND entity_id=?`
			args = append(args, entityID)
		}
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("list events", err)
	}
	defer rows.Close()
	out := []domain.AuditEvent{}
	for rows.Next() {
		var (
			ev       domain.AuditEvent
			entityID sql.NullString
			payload  string
		)
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.EntityKind, &entityID, &ev.ActorID, &payload); err != nil {
			return nil, Wrap("list events", err)
		}
		ev.EntityID = entityID.String
		ev.Payload = map[string]any{}
		_ = json.Unmarshal([]byte(payload), &ev.Payload)
		out = append(out, ev)
	}
	return out, Wrap("list events", rows.Err())
}
