package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "occupancy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n))
	return n > 0
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)
	for _, table := range []string{"crossings", "count_overrides", "state_transitions", "schema_migrations"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	fsys, err := MigrationsFS()
	require.NoError(t, err)
	version, dirty, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	latest, err := LatestMigrationVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)
}

func TestNewDB_ReopenIsNoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupancy.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, tableExists(t, db, "crossings"))
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var synchronous int
	require.NoError(t, db.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous) // NORMAL

	var tempStore int
	require.NoError(t, db.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 2, tempStore) // MEMORY
}

func TestMigrateDownAndTo(t *testing.T) {
	db := newTestDB(t)
	fsys, err := MigrationsFS()
	require.NoError(t, err)

	require.NoError(t, db.MigrateDown(fsys))
	version, _, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists(t, db, "state_transitions"))
	assert.True(t, tableExists(t, db, "crossings"))

	require.NoError(t, db.MigrateTo(fsys, 2))
	assert.True(t, tableExists(t, db, "state_transitions"))

	require.NoError(t, db.MigrateUp(fsys), "already at latest")
}

func TestOpenDB_DoesNotMigrate(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	require.NoError(t, err)
	defer db.Close()
	assert.False(t, tableExists(t, db, "crossings"))

	fsys, err := MigrationsFS()
	require.NoError(t, err)
	version, dirty, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestOpenDB_BadPath(t *testing.T) {
	_, err := OpenDB(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	assert.Error(t, err)
}
