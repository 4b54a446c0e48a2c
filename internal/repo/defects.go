package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

const defectColumns = `d.id,d.inspection_id,COALESCE(d.checkpoint_id,''),d.description,COALESCE(d.standard_reference,''),
COALESCE(d.location,''),d.severity,COALESCE(d.responsible_party,''),d.deadline,COALESCE(d.photos,'')`

func scanDefect(row rowScanner, extra ...any) (domain.Defect, error) {
	var (
		d        domain.Defect
		severity string
		deadline sql.NullString
		photos   string
	)
	dest := append([]any{&d.ID, &d.InspectionID, &d.CheckpointID, &d.Description, &d.StandardReference,
		&d.Location, &severity, &d.ResponsibleParty, &deadline, &photos}, extra...)
	if err := row.Scan(dest...); err != nil {
		return d, err
	}
	d.Severity = domain.Severity(severity)
	d.Deadline = strPtr(deadline)
	d.Photos = decodePhotos(photos)
	return d, nil
}

func (r Repo) InsertDefect(ctx context.Context, tx *sql.Tx, d domain.Defect, createdAt string) error {
	photos, err := encodePhotos(d.Photos)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO defects(id,inspection_id,checkpoint_id,description,standard_reference,location,
severity,responsible_party,deadline,photos,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.InspectionID, nullable(d.CheckpointID), d.Description, nullable(d.StandardReference), nullable(d.Location),
		string(d.Severity), nullable(d.ResponsibleParty), nullableStringPtr(d.Deadline), photos, createdAt)
	return Wrap("insert defect", err)
}

func (r Repo) UpdateDefect(ctx context.Context, tx *sql.Tx, d domain.Defect) error {
	photos, err := encodePhotos(d.Photos)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `UPDATE defects SET description=?, standard_reference=?, location=?, severity=?,
responsible_party=?, deadline=?, photos=? WHERE id=?`,
		d.Description, nullable(d.StandardReference), nullable(d.Location), string(d.Severity),
		nullable(d.ResponsibleParty), nullableStringPtr(d.Deadline), photos, d.ID)
	return Wrap("update defect", err)
}

// DeleteDefect removes a defect together with its remediations.
func (r Repo) DeleteDefect(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM defects WHERE id=?`, id)
	return Wrap("delete defect", err)
}

func (r Repo) GetDefect(ctx context.Context, tx *sql.Tx, id string) (domain.Defect, error) {
	d, err := scanDefect(r.q(tx).QueryRowContext(ctx, `SELECT `+defectColumns+` FROM defects d WHERE d.id=?`, id))
	return d, Wrap("get defect", err)
}

// ListDefects returns the defects of one inspection in creation order.
func (r Repo) ListDefects(ctx context.Context, tx *sql.Tx, inspectionID string) ([]domain.Defect, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+defectColumns+` FROM defects d WHERE d.inspection_id=? ORDER BY d.created_at, d.rowid`, inspectionID)
	if err != nil {
		return nil, Wrap("list defects", err)
	}
	defer rows.Close()
	out := []domain.Defect{}
	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return nil, Wrap("list defects", err)
		}
		out = append(out, d)
	}
	return out, Wrap("list defects", rows.Err())
}

// ListWorkDefects returns every defect of a work paired with its most
// recent remediation.
func (r Repo) ListWorkDefects(ctx context.Context, workID string) ([]domain.DefectWithRemediation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+defectColumns+`, COALESCE(
  (SELECT rm.id FROM remediations rm WHERE rm.defect_id=d.id ORDER BY rm.created_at DESC, rm.rowid DESC LIMIT 1), '')
FROM defects d JOIN inspections i ON i.id=d.inspection_id
WHERE i.work_id=? ORDER BY i.number, d.created_at, d.rowid`, workID)
	if err != nil {
		return nil, Wrap("list work defects", err)
	}
	type pair struct {
		defect domain.Defect
		remID  string
	}
	var pairs []pair
	for rows.Next() {
		var remID string
		d, err := scanDefect(rows, &remID)
		if err != nil {
			rows.Close()
			return nil, Wrap("list work defects", err)
		}
		pairs = append(pairs, pair{d, remID})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, Wrap("list work defects", err)
	}
	out := make([]domain.DefectWithRemediation, 0, len(pairs))
	for _, p := range pairs {
		item := domain.DefectWithRemediation{Defect: p.defect}
		if p.remID != "" {
			rem, err := r.GetRemediation(ctx, nil, p.remID)
			if err != nil {
				return nil, err
			}
			item.Remediation = &rem
		}
		out = append(out, item)
	}
	return out, nil
}
