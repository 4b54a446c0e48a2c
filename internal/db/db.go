package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	stateDir = ".siteline"
	fileName = "siteline.db"

	defaultBusyTimeout = 5 * time.Second
)

// Config locates the workspace database.
type Config struct {
	Workspace string
	// BusyTimeout is how long a writer waits on a locked database before
	// SQLite reports SQLITE_BUSY. Set it from store.timeout so a blocked
	// write surfaces as a transient error within the operation deadline.
	BusyTimeout time.Duration
}

func (c Config) busyTimeout() time.Duration {
	if c.BusyTimeout <= 0 {
		return defaultBusyTimeout
	}
	return c.BusyTimeout
}

// DSN returns the modernc connection string for the workspace database.
func (c Config) DSN() string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.busyTimeout().Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + Path(c.Workspace) + "?" + q.Encode()
}

// EnsureWorkspace creates the state directory under workspace and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(orCurrent(workspace), stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return dir, nil
}

// Open opens the workspace database, creating its directory if needed.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", Path(cfg.Workspace), err)
	}
	return conn, nil
}

// Path returns the database file of workspace.
func Path(workspace string) string {
	return filepath.Join(orCurrent(workspace), stateDir, fileName)
}

func orCurrent(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}
