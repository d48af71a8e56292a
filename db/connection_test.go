package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pulseflow/errors"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "/var/lib/pulseflow/runtime.db?_txlock=immediate", dsn("/var/lib/pulseflow/runtime.db"))
	assert.Equal(t, "file:runtime.db?mode=ro", dsn("file:runtime.db?mode=ro"), "an explicit query string is left alone")
}

func TestOpen(t *testing.T) {
	t.Run("applies connection pragmas", func(t *testing.T) {
		conn, err := Open(filepath.Join(t.TempDir(), "runtime.db"), zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer conn.Close()

		var journalMode string
		require.NoError(t, conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys, busyTimeout int
		require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		require.NoError(t, conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, 1, foreignKeys)
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("transactions take the write lock at begin", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "runtime.db")
		conn, err := Open(path, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.SetMaxOpenConns(2)

		first, err := conn.BeginTx(context.Background(), nil)
		require.NoError(t, err)
		defer first.Rollback()

		// A deferred BEGIN would succeed here and only fail on the first
		// write; this one waits out the busy timeout
		second, err := conn.BeginTx(context.Background(), nil)
		if err == nil {
			second.Rollback()
		}
		require.Error(t, err)
		assert.True(t, IsBusy(err), "got %v", err)
	})

	t.Run("unreachable path fails with a stack", func(t *testing.T) {
		conn, err := Open("/nonexistent/pulseflow/runtime.db", nil)
		if err == nil {
			err = conn.Ping()
			conn.Close()
		}
		require.Error(t, err)
		assert.NotNil(t, errors.GetReportableStackTrace(err))
	})
}

func TestOpenWithMigrations(t *testing.T) {
	conn, err := OpenWithMigrations(filepath.Join(t.TempDir(), "runtime.db"), nil)
	require.NoError(t, err)
	defer conn.Close()

	for _, table := range []string{"executions", "jobs", "incidents"} {
		var n int
		require.NoError(t, conn.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestOpenWithMigrations_WrapsMigrationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.db")

	// A jobs table from some other tool blocks the runtime schema
	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = conn.Exec("CREATE TABLE jobs (name TEXT)")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = OpenWithMigrations(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate "+path)
	assert.Contains(t, err.Error(), "001_create_runtime_tables")
}
