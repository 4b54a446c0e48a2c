package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"siteline/internal/domain"
)

const inspectionColumns = `id,work_id,status,number,scheduled_date,author_id,COALESCE(author_name,''),COALESCE(author_role,''),
COALESCE(title,''),COALESCE(description,''),COALESCE(defects_json,''),defects_count,COALESCE(photos,''),created_at,updated_at`

func scanInspection(row rowScanner) (domain.Inspection, error) {
	var (
		in        domain.Inspection
		status    string
		role      string
		scheduled sql.NullString
	)
	err := row.Scan(&in.ID, &in.WorkID, &status, &in.Number, &scheduled, &in.AuthorID, &in.AuthorName, &role,
		&in.Title, &in.Description, &in.DefectsJSON, &in.DefectsCount, &in.Photos, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return in, err
	}
	in.Status = domain.InspectionStatus(status)
	in.AuthorRole = domain.Role(role)
	in.ScheduledDate = strPtr(scheduled)
	return in, nil
}

func (r Repo) InsertInspection(ctx context.Context, tx *sql.Tx, in domain.Inspection) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO inspections(id,work_id,status,number,scheduled_date,author_id,author_name,author_role,
title,description,defects_json,defects_count,photos,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.WorkID, string(in.Status), in.Number, nullableStringPtr(in.ScheduledDate), in.AuthorID, nullable(in.AuthorName),
		nullable(string(in.AuthorRole)), nullable(in.Title), nullable(in.Description), nullable(in.DefectsJSON), in.DefectsCount,
		nullable(in.Photos), in.CreatedAt, in.UpdatedAt)
	return Wrap("insert inspection", err)
}

// NextInspectionNumber returns the next per-work sequence number.
func (r Repo) NextInspectionNumber(ctx context.Context, tx *sql.Tx, workID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(number),0)+1 FROM inspections WHERE work_id=?`, workID).Scan(&n)
	return n, Wrap("next inspection number", err)
}

// GetInspection loads an inspection with its checkpoints.
func (r Repo) GetInspection(ctx context.Context, tx *sql.Tx, id string) (domain.Inspection, error) {
	in, err := scanInspection(r.q(tx).QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id=?`, id))
	if err != nil {
		return in, Wrap("get inspection", err)
	}
	in.Checkpoints, err = r.ListCheckpoints(ctx, tx, id)
	return in, err
}

// ListInspections returns a work's inspections by number, without checkpoints.
func (r Repo) ListInspections(ctx context.Context, workID string) ([]domain.Inspection, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE work_id=? ORDER BY number`, workID)
	if err != nil {
		return nil, Wrap("list inspections", err)
	}
	defer rows.Close()
	out := []domain.Inspection{}
	for rows.Next() {
		in, err := scanInspection(rows)
		if err != nil {
			return nil, Wrap("list inspections", err)
		}
		out = append(out, in)
	}
	return out, Wrap("list inspections", rows.Err())
}

// UpdateInspection writes the mutable fields, guarded by the expected status.
// It returns ErrStale when the stored status is no longer from.
func (r Repo) UpdateInspection(ctx context.Context, tx *sql.Tx, in domain.Inspection, from domain.InspectionStatus) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE inspections SET status=?, scheduled_date=?, title=?, description=?,
defects_json=?, defects_count=?, photos=?, updated_at=? WHERE id=? AND status=?`,
		string(in.Status), nullableStringPtr(in.ScheduledDate), nullable(in.Title), nullable(in.Description),
		nullable(in.DefectsJSON), in.DefectsCount, nullable(in.Photos), in.UpdatedAt, in.ID, string(from))
	if err != nil {
		return Wrap("update inspection", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) InsertCheckpoint(ctx context.Context, tx *sql.Tx, cp domain.Checkpoint) error {
	draft, err := encodeDraft(cp.Draft)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO checkpoints(id,inspection_id,template_id,title,standard_reference,status,draft_json,position)
VALUES (?,?,?,?,?,?,?,?)`, cp.ID, cp.InspectionID, cp.TemplateID, cp.Title, nullable(cp.StandardReference),
		string(cp.Status), draft, cp.Position)
	return Wrap("insert checkpoint", err)
}

func (r Repo) UpdateCheckpoint(ctx context.Context, tx *sql.Tx, cp domain.Checkpoint) error {
	draft, err := encodeDraft(cp.Draft)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE checkpoints SET status=?, draft_json=? WHERE id=? AND inspection_id=?`,
		string(cp.Status), draft, cp.ID, cp.InspectionID)
	if err != nil {
		return Wrap("update checkpoint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListCheckpoints(ctx context.Context, tx *sql.Tx, inspectionID string) ([]domain.Checkpoint, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,inspection_id,template_id,title,COALESCE(standard_reference,''),status,
COALESCE(draft_json,''),position FROM checkpoints WHERE inspection_id=? ORDER BY position`, inspectionID)
	if err != nil {
		return nil, Wrap("list checkpoints", err)
	}
	defer rows.Close()
	out := []domain.Checkpoint{}
	for rows.Next() {
		var cp domain.Checkpoint
		var status, draft string
		if err := rows.Scan(&cp.ID, &cp.InspectionID, &cp.TemplateID, &cp.Title, &cp.StandardReference, &status, &draft, &cp.Position); err != nil {
			return nil, Wrap("list checkpoints", err)
		}
		cp.Status = domain.CheckpointStatus(status)
		if draft != "" {
			var d domain.DraftDefect
			if err := json.Unmarshal([]byte(draft), &d); err == nil {
				cp.Draft = &d
			}
		}
		out = append(out, cp)
	}
	return out, Wrap("list checkpoints", rows.Err())
}

func encodeDraft(d *domain.DraftDefect) (any, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func encodePhotos(photos []string) (any, error) {
	if len(photos) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(photos)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodePhotos(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	if out == nil {
		out = []string{}
	}
	return out
}
