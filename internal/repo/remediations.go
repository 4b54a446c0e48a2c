package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

const remediationColumns = `id,defect_id,inspection_id,work_id,COALESCE(contractor_id,''),status,COALESCE(description,''),
COALESCE(photos,''),completed_at,verified_at,verified_by,COALESCE(verification_notes,''),created_at,updated_at`

func scanRemediation(row rowScanner) (domain.Remediation, error) {
	var (
		rm                       domain.Remediation
		status, photos           string
		completed, verified, vby sql.NullString
	)
	err := row.Scan(&rm.ID, &rm.DefectID, &rm.InspectionID, &rm.WorkID, &rm.ContractorID, &status, &rm.Description,
		&photos, &completed, &verified, &vby, &rm.VerificationNotes, &rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		return rm, err
	}
	rm.Status = domain.RemediationStatus(status)
	rm.Photos = decodePhotos(photos)
	rm.CompletedAt, rm.VerifiedAt, rm.VerifiedBy = strPtr(completed), strPtr(verified), strPtr(vby)
	return rm, nil
}

func (r Repo) InsertRemediation(ctx context.Context, tx *sql.Tx, rm domain.Remediation) error {
	photos, err := encodePhotos(rm.Photos)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO remediations(id,defect_id,inspection_id,work_id,contractor_id,status,description,
photos,completed_at,verified_at,verified_by,verification_notes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rm.ID, rm.DefectID, rm.InspectionID, rm.WorkID, nullable(rm.ContractorID), string(rm.Status), nullable(rm.Description),
		photos, nullableStringPtr(rm.CompletedAt), nullableStringPtr(rm.VerifiedAt), nullableStringPtr(rm.VerifiedBy),
		nullable(rm.VerificationNotes), rm.CreatedAt, rm.UpdatedAt)
	return Wrap("insert remediation", err)
}

func (r Repo) GetRemediation(ctx context.Context, tx *sql.Tx, id string) (domain.Remediation, error) {
	rm, err := scanRemediation(r.q(tx).QueryRowContext(ctx, `SELECT `+remediationColumns+` FROM remediations WHERE id=?`, id))
	return rm, Wrap("get remediation", err)
}

// LiveRemediation returns the pending or completed remediation of a defect.
func (r Repo) LiveRemediation(ctx context.Context, tx *sql.Tx, defectID string) (domain.Remediation, error) {
	rm, err := scanRemediation(r.q(tx).QueryRowContext(ctx, `SELECT `+remediationColumns+` FROM remediations
WHERE defect_id=? AND status IN ('pending','completed') LIMIT 1`, defectID))
	return rm, Wrap("live remediation", err)
}

// LatestRemediation returns the most recent remediation of a defect in any status.
func (r Repo) LatestRemediation(ctx context.Context, tx *sql.Tx, defectID string) (domain.Remediation, error) {
	rm, err := scanRemediation(r.q(tx).QueryRowContext(ctx, `SELECT `+remediationColumns+` FROM remediations
WHERE defect_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, defectID))
	return rm, Wrap("latest remediation", err)
}

// TransitionRemediation writes rm only if the stored status is still from.
func (r Repo) TransitionRemediation(ctx context.Context, tx *sql.Tx, rm domain.Remediation, from domain.RemediationStatus) error {
	photos, err := encodePhotos(rm.Photos)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE remediations SET status=?, description=?, photos=?, completed_at=?,
verified_at=?, verified_by=?, verification_notes=?, updated_at=? WHERE id=? AND status=?`,
		string(rm.Status), nullable(rm.Description), photos, nullableStringPtr(rm.CompletedAt),
		nullableStringPtr(rm.VerifiedAt), nullableStringPtr(rm.VerifiedBy), nullable(rm.VerificationNotes),
		rm.UpdatedAt, rm.ID, string(from))
	if err != nil {
		return Wrap("update remediation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// ListRemediations lists a work's remediations, optionally by status.
func (r Repo) ListRemediations(ctx context.Context, workID string, status domain.RemediationStatus) ([]domain.Remediation, error) {
	query := `SELECT ` + remediationColumns + ` FROM remediations WHERE work_id=?`
	args := []any{workID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, Wrap("list remediations", err)
	}
	defer rows.Close()
	out := []domain.Remediation{}
	for rows.Next() {
		rm, err := scanRemediation(rows)
		if err != nil {
			return nil, Wrap("list remediations", err)
		}
		out = append(out, rm)
	}
	return out, Wrap("list remediations", rows.Err())
}
