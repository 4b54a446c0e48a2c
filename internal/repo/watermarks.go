package repo

import (
	"context"
	"database/sql"
	"errors"
)

// RaiseWatermark stores us for (actorID, workID) unless a later mark is
// already there, and reports whether the row changed.
func (r Repo) RaiseWatermark(ctx context.Context, actorID, workID string, us int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO seen_watermarks(actor_id,work_id,seen_us) VALUES (?,?,?)
ON CONFLICT(actor_id,work_id) DO UPDATE SET seen_us=excluded.seen_us WHERE excluded.seen_us > seen_watermarks.seen_us`,
		actorID, workID, us)
	if err != nil {
		return false, Wrap("raise watermark", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, Wrap("raise watermark", err)
	}
	return n > 0, nil
}

// Watermark returns the stored mark in unix microseconds; ok is false when
// the actor has not seen the work yet.
func (r Repo) Watermark(ctx context.Context, actorID, workID string) (us int64, ok bool, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT seen_us FROM seen_watermarks WHERE actor_id=? AND work_id=?`, actorID, workID).Scan(&us)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, Wrap("read watermark", err)
	}
	return us, true, nil
}
