package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulseflow/errors"
)

func openMigrated(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "tx.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertIncident(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO incidents (id, incident_type, created_at) VALUES (?, 'failedJob', CURRENT_TIMESTAMP)`, id)
	return err
}

func countIncidents(t *testing.T, q Querier) int {
	t.Helper()
	var n int
	require.NoError(t, q.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM incidents").Scan(&n))
	return n
}

func TestWithTx_Commits(t *testing.T) {
	db := openMigrated(t)
	ctx := context.Background()

	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		return insertIncident(ctx, tx, "inc-1")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countIncidents(t, db))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := openMigrated(t)
	ctx := context.Background()
	boom := errors.New("behavior failed")

	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		require.NoError(t, insertIncident(ctx, tx, "inc-1"))
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, countIncidents(t, db), "nothing from a failed command is persisted")
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := openMigrated(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = WithTx(ctx, db, func(tx *sql.Tx) error {
			require.NoError(t, insertIncident(ctx, tx, "inc-1"))
			panic("handler bug")
		})
	})
	assert.Equal(t, 0, countIncidents(t, db))
}

func TestStats(t *testing.T) {
	db := openMigrated(t)
	ctx := context.Background()
	require.NoError(t, insertIncident(ctx, db, "inc-1"))

	counts, err := Stats(ctx, db)
	require.NoError(t, err)
	require.Len(t, counts, len(Tables))

	byTable := map[string]int64{}
	for _, c := range counts {
		byTable[c.Table] = c.Rows
	}
	assert.Equal(t, int64(1), byTable["incidents"])
	assert.Equal(t, int64(0), byTable["jobs"])
}
