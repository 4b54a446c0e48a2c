package repo

import (
	"context"
	"database/sql"
	"strings"

	"siteline/internal/domain"
)

const workColumns = `id,object_id,COALESCE(object_name,''),title,status,COALESCE(contractor_id,''),COALESCE(contractor_name,''),
completion_pct,planned_start,planned_end,actual_start,actual_end,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWork(row rowScanner) (domain.Work, error) {
	var w domain.Work
	var ps, pe, as, ae sql.NullString
	err := row.Scan(&w.ID, &w.ObjectID, &w.ObjectName, &w.Title, &w.Status, &w.ContractorID, &w.ContractorName,
		&w.CompletionPct, &ps, &pe, &as, &ae, &w.CreatedAt)
	if err != nil {
		return w, err
	}
	w.PlannedStart, w.PlannedEnd, w.ActualStart, w.ActualEnd = strPtr(ps), strPtr(pe), strPtr(as), strPtr(ae)
	return w, nil
}

func (r Repo) InsertWork(ctx context.Context, tx *sql.Tx, w domain.Work) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO works(id,object_id,object_name,title,status,contractor_id,contractor_name,
completion_pct,planned_start,planned_end,actual_start,actual_end,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.ObjectID, nullable(w.ObjectName), w.Title, w.Status, nullable(w.ContractorID), nullable(w.ContractorName),
		w.CompletionPct, nullableStringPtr(w.PlannedStart), nullableStringPtr(w.PlannedEnd),
		nullableStringPtr(w.ActualStart), nullableStringPtr(w.ActualEnd), w.CreatedAt)
	return Wrap("insert work", err)
}

func (r Repo) GetWork(ctx context.Context, id string) (domain.Work, error) {
	return r.GetWorkTx(ctx, nil, id)
}

func (r Repo) GetWorkTx(ctx context.Context, tx *sql.Tx, id string) (domain.Work, error) {
	w, err := scanWork(r.q(tx).QueryRowContext(ctx, `SELECT `+workColumns+` FROM works WHERE id=?`, id))
	return w, Wrap("get work", err)
}

// WorkFilter narrows ListWorks; empty fields do not filter.
type WorkFilter struct {
	ObjectID     string
	ContractorID string
	Status       string
}

func (r Repo) ListWorks(ctx context.Context, f WorkFilter) ([]domain.Work, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ObjectID != "" {
		clauses = append(clauses, "object_id=?")
		args = append(args, f.ObjectID)
	}
	if f.ContractorID != "" {
		clauses = append(clauses, "contractor_id=?")
		args = append(args, f.ContractorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + workColumns + ` FROM works`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("list works", err)
	}
	defer rows.Close()
	res := []domain.Work{}
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, Wrap("list works", err)
		}
		res = append(res, w)
	}
	return res, Wrap("list works", rows.Err())
}

// UpdateWorkProgress writes the fields a contractor report can move.
func (r Repo) UpdateWorkProgress(ctx context.Context, tx *sql.Tx, w domain.Work) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE works SET status=?, completion_pct=?, actual_start=?, actual_end=? WHERE id=?`,
		w.Status, w.CompletionPct, nullableStringPtr(w.ActualStart), nullableStringPtr(w.ActualEnd), w.ID)
	if err != nil {
		return Wrap("update work", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
