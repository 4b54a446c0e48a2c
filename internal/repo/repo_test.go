package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteline/internal/domain"
)

func setupMockRepo(t *testing.T) (Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Repo{DB: db}, mock
}

func TestWrapClassifiesErrors(t *testing.T) {
	assert.NoError(t, Wrap("op", nil))
	assert.ErrorIs(t, Wrap("op", sql.ErrNoRows), ErrNotFound)

	locked := Wrap("insert work", errors.New("database is locked (5) (SQLITE_BUSY)"))
	var te TransientIOError
	require.ErrorAs(t, locked, &te)
	assert.Equal(t, "insert work", te.Op)
	assert.True(t, IsTransient(locked))

	// already classified errors keep their original op
	again := Wrap("outer", locked)
	require.ErrorAs(t, again, &te)
	assert.Equal(t, "insert work", te.Op)

	assert.True(t, IsTransient(Wrap("op", driver.ErrBadConn)))
	assert.True(t, IsTransient(Wrap("op", context.DeadlineExceeded)))

	other := Wrap("op", errors.New("UNIQUE constraint failed: works.id"))
	assert.False(t, IsTransient(other))
	assert.Contains(t, other.Error(), "op: UNIQUE constraint failed")
}

func TestInTxRollsBackOnTransientFailure(t *testing.T) {
	r, mock := setupMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO works(")).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err := r.InTx(context.Background(), "create work", func(tx *sql.Tx) error {
		return r.InsertWork(context.Background(), tx, domain.Work{ID: "w-1", ObjectID: "obj-1", Title: "Slab", Status: domain.WorkPlanned})
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxCommitFailureIsClassified(t *testing.T) {
	r, mock := setupMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM actor_roles WHERE actor_id=? AND role_id=?")).
		WithArgs("builder-1", "contractor").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(driver.ErrBadConn)

	err := r.InTx(context.Background(), "revoke role", func(tx *sql.Tx) error {
		return r.RevokeRole(context.Background(), tx, "builder-1", "contractor")
	})
	var te TransientIOError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "revoke role", te.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWorkNotFound(t *testing.T) {
	r, mock := setupMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM works WHERE id=?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := r.GetWork(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEventsFiltersByEntity(t *testing.T) {
	r, mock := setupMockRepo(t)
	rows := sqlmock.NewRows([]string{"id", "ts", "type", "entity_kind", "entity_id", "actor_id", "payload_json"}).
		AddRow(7, "2024-03-01T09:00:00Z", "work.create", "work", "w-1", "admin-1", `{"title":"Slab"}`).
		AddRow(6, "2024-03-01T08:00:00Z", "rbac.grant", "work", nil, "admin-1", `not json`)
	mock.ExpectQuery(regexp.QuoteMeta("FROM events WHERE entity_kind=? AND entity_id=? ORDER BY id DESC LIMIT ?")).
		WithArgs("work", "w-1", 5).
		WillReturnRows(rows)

	items, err := r.ListEvents(context.Background(), "work", "w-1", 5)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(7), items[0].ID)
	assert.Equal(t, "Slab", items[0].Payload["title"])
	assert.Empty(t, items[1].EntityID)
	assert.NotNil(t, items[1].Payload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRoleBindings(t *testing.T) {
	r, mock := setupMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM actor_roles")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))

	n, err := r.CountRoleBindings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRolePermissionsSorted(t *testing.T) {
	r, mock := setupMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role_id, permission_id FROM role_permissions")).
		WillReturnRows(sqlmock.NewRows([]string{"role_id", "permission_id"}).
			AddRow("client", "work.read").
			AddRow("client", "feed.read").
			AddRow("contractor", "report.create"))

	perms, err := r.RolePermissions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"feed.read", "work.read"}, perms["client"])
	assert.Equal(t, []string{"report.create"}, perms["contractor"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRaiseWatermarkReportsMove(t *testing.T) {
	r, mock := setupMockRepo(t)
	upsert := regexp.QuoteMeta("INSERT INTO seen_watermarks(actor_id,work_id,seen_us)")
	mock.ExpectExec(upsert).WithArgs("client-1", "w1", int64(200)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsert).WithArgs("client-1", "w1", int64(100)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(upsert).WillReturnError(errors.New("database is locked"))

	moved, err := r.RaiseWatermark(context.Background(), "client-1", "w1", 200)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = r.RaiseWatermark(context.Background(), "client-1", "w1", 100)
	require.NoError(t, err)
	assert.False(t, moved)
	_, err = r.RaiseWatermark(context.Background(), "client-1", "w1", 300)
	assert.True(t, IsTransient(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatermarkMissingIsZero(t *testing.T) {
	r, mock := setupMockRepo(t)
	q := regexp.QuoteMeta("SELECT seen_us FROM seen_watermarks")
	mock.ExpectQuery(q).WithArgs("client-1", "w1").WillReturnRows(sqlmock.NewRows([]string{"seen_us"}))
	mock.ExpectQuery(q).WithArgs("client-1", "w2").WillReturnRows(sqlmock.NewRows([]string{"seen_us"}).AddRow(int64(42)))

	us, ok, err := r.Watermark(context.Background(), "client-1", "w1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, us)
	us, ok, err = r.Watermark(context.Background(), "client-1", "w2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), us)
	require.NoError(t, mock.ExpectationsWereMet())
}
