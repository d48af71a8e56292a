package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_CreatesRuntimeTables(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "runtime.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range Tables {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist", table)
	}

	var versions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 2, versions)
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "runtime.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	ran, err := Migrate(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ran)

	ran, err = Migrate(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, ran, "a migrated database has nothing pending")
}

func TestMigrate_ClosedDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runtime.db"), nil)
	require.NoError(t, err)
	db.Close()

	_, err = Migrate(context.Background(), db, nil)
	require.Error(t, err)
	assert.True(t, IsDatabaseClosed(err))
}

func TestMigrationStatus(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "runtime.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	status, err := MigrationStatus(ctx, db)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, "000", status[0].Version)
	assert.Equal(t, "create_runtime_tables", status[1].Name)
	for _, m := range status {
		assert.Nil(t, m.AppliedAt, "fresh database: %s pending", m.Version)
	}

	_, err = Migrate(ctx, db, nil)
	require.NoError(t, err)

	status, err = MigrationStatus(ctx, db)
	require.NoError(t, err)
	for _, m := range status {
		assert.NotNil(t, m.AppliedAt, "%s applied", m.Version)
	}
}

func TestMigrate_ExecutionParentMustExist(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "fk.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO executions (id, parent_id, process_instance_id, process_definition_id, created_at, updated_at)
		VALUES ('child', 'ghost', 'pi', 'def', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	assert.Error(t, err, "foreign key on parent_id should reject a missing parent")
	assert.True(t, IsConstraintViolation(err))
}
