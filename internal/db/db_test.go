package db

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSNCarriesBusyTimeout(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "busy_timeout(5000)",
		1500 * time.Millisecond: "busy_timeout(1500)",
	}
	for timeout, want := range cases {
		dsn := Config{Workspace: "/srv/site", BusyTimeout: timeout}.DSN()
		require.True(t, strings.HasPrefix(dsn, "file:/srv/site/.siteline/siteline.db?"), dsn)
		q, err := url.ParseQuery(dsn[strings.Index(dsn, "?")+1:])
		require.NoError(t, err)
		assert.Equal(t, []string{"foreign_keys(1)", want, "journal_mode(WAL)"}, q["_pragma"])
	}
}

func TestOpenCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir, BusyTimeout: time.Second})
	require.NoError(t, err)
	defer conn.Close()

	var timeout int
	require.NoError(t, conn.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout))
	assert.Equal(t, 1000, timeout)
	assert.FileExists(t, filepath.Join(dir, ".siteline", "siteline.db"))
	assert.Equal(t, filepath.Join(".", ".siteline", "siteline.db"), Path(""))
}
