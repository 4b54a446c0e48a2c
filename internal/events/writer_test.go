package events

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

const insertEvent = "INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)"

func TestAppendWritesInsideTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	w := Writer{Now: func() time.Time { return at }}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertEvent)).
		WithArgs("2024-03-01T09:00:00Z", RemediationVerify, "remediation", "rm-1", "client-1", `{"approved":false}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertEvent)).
		WithArgs("2024-03-01T09:00:00Z", RoleGrant, "actor", nil, "admin-1", `{}`).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Append(ctx, tx, RemediationVerify, "remediation", "rm-1", "client-1", EventPayload{"approved": false}))
	require.NoError(t, w.Append(ctx, tx, RoleGrant, "actor", "", "admin-1", nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendReportsFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertEvent)).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	err = Writer{}.Append(context.Background(), tx, WorkCreate, "work", "w-1", "admin-1", nil)
	require.ErrorContains(t, err, "append work.create event")
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}
