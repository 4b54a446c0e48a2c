package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

func (r Repo) InsertWorkReport(ctx context.Context, tx *sql.Tx, rep domain.WorkReport) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_reports(id,work_id,author_id,author_name,author_role,created_at,
description,volume,unit,materials,photos,completion_pct,is_work_start,is_inspection_start,is_inspection_completed,
inspection_id,inspection_number,defects_count) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.WorkID, rep.AuthorID, nullable(rep.AuthorName), nullable(string(rep.AuthorRole)), rep.CreatedAt,
		nullable(rep.Description), nullableFloatPtr(rep.Volume), nullable(rep.Unit), nullable(rep.Materials), nullable(rep.Photos),
		nullableIntPtr(rep.CompletionPct), boolInt(rep.IsWorkStart), boolInt(rep.IsInspectionStart), boolInt(rep.IsInspectionCompleted),
		nullableStringPtr(rep.InspectionID), nullableIntPtr(rep.InspectionNumber), nullableIntPtr(rep.DefectsCount))
	return Wrap("insert work report", err)
}

// ListWorkReports returns a work's reports in insertion order.
func (r Repo) ListWorkReports(ctx context.Context, workID string) ([]domain.WorkReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,work_id,author_id,COALESCE(author_name,''),COALESCE(author_role,''),created_at,
COALESCE(description,''),volume,COALESCE(unit,''),COALESCE(materials,''),COALESCE(photos,''),completion_pct,
is_work_start,is_inspection_start,is_inspection_completed,inspection_id,inspection_number,defects_count
FROM work_reports WHERE work_id=? ORDER BY seq`, workID)
	if err != nil {
		return nil, Wrap("list work reports", err)
	}
	defer rows.Close()
	out := []domain.WorkReport{}
	for rows.Next() {
		var (
			rep          domain.WorkReport
			role         string
			volume       sql.NullFloat64
			pct, num, dc sql.NullInt64
			inspID       sql.NullString
			ws, is, ic   int
		)
		if err := rows.Scan(&rep.ID, &rep.WorkID, &rep.AuthorID, &rep.AuthorName, &role, &rep.CreatedAt,
			&rep.Description, &volume, &rep.Unit, &rep.Materials, &rep.Photos, &pct,
			&ws, &is, &ic, &inspID, &num, &dc); err != nil {
			return nil, Wrap("list work reports", err)
		}
		rep.AuthorRole = domain.Role(role)
		rep.Volume = floatPtr(volume)
		rep.CompletionPct = intPtr(pct)
		rep.IsWorkStart, rep.IsInspectionStart, rep.IsInspectionCompleted = ws != 0, is != 0, ic != 0
		rep.InspectionID = strPtr(inspID)
		rep.InspectionNumber = intPtr(num)
		rep.DefectsCount = intPtr(dc)
		out = append(out, rep)
	}
	return out, Wrap("list work reports", rows.Err())
}

func (r Repo) InsertChatMessage(ctx context.Context, tx *sql.Tx, m domain.ChatMessage) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO chat_messages(id,work_id,author_id,author_name,author_role,created_at,message)
VALUES (?,?,?,?,?,?,?)`, m.ID, m.WorkID, m.AuthorID, nullable(m.AuthorName), nullable(string(m.AuthorRole)), m.CreatedAt, m.Message)
	return Wrap("insert chat message", err)
}

// ListChatMessages returns a work's messages in insertion order.
func (r Repo) ListChatMessages(ctx context.Context, workID string) ([]domain.ChatMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,work_id,author_id,COALESCE(author_name,''),COALESCE(author_role,''),created_at,message
FROM chat_messages WHERE work_id=? ORDER BY seq`, workID)
	if err != nil {
		return nil, Wrap("list chat messages", err)
	}
	defer rows.Close()
	out := []domain.ChatMessage{}
	for rows.Next() {
		var m domain.ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &m.WorkID, &m.AuthorID, &m.AuthorName, &role, &m.CreatedAt, &m.Message); err != nil {
			return nil, Wrap("list chat messages", err)
		}
		m.AuthorRole = domain.Role(role)
		out = append(out, m)
	}
	return out, Wrap("list chat messages", rows.Err())
}
