package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	WorkCreate         = "work.create"
	ReportAppend       = "report.append"
	ChatPost           = "chat.post"
	InspectionCreate   = "inspection.create"
	CheckpointSet      = "checkpoint.set"
	InspectionSubmit   = "inspection.submit"
	InspectionComplete = "inspection.complete"
	InspectionRework   = "inspection.rework"
	RemediationSubmit  = "remediation.submit"
	RemediationVerify  = "remediation.verify"
	RoleGrant          = "rbac.grant"
	RoleRevoke         = "rbac.revoke"
	APIKeyCreate       = "apikey.create"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an audit event inside tx so it commits or rolls back with
// the mutation it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
