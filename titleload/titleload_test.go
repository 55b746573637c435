package titleload

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createImportLog creates a minimal stand-in for the gz_import_log sidecar
// that load.InitLogTable creates in production (same filename/data_type
// uniqueness, without the id column); titleload only ever reads and writes
// to it, so the test creates it directly.
func createImportLog(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS gz_import_log (
		filename TEXT NOT NULL,
		data_type TEXT NOT NULL,
		imported_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (filename, data_type)
	)`)
	require.NoError(t, err)
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("S2ORC_PIPELINE_TEST_DSN")
	if dsn == "" {
		t.Skip("S2ORC_PIPELINE_TEST_DSN not set; skipping Postgres-backed test")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())
	return db
}

func TestCreateUnloggedThenFinalizeDedupsByMinCtid(t *testing.T) {
	db := testDB(t)
	_, err := db.Exec(`DROP TABLE IF EXISTS ` + table + `, ` + table + `_new`)
	require.NoError(t, err)
	defer db.Exec(`DROP TABLE IF EXISTS ` + table + `, ` + table + `_new`)

	require.NoError(t, CreateUnlogged(db))

	_, err = db.Exec(`INSERT INTO `+table+` (corpusid, title) VALUES (1, 'first'), (1, 'second'), (2, 'only')`)
	require.NoError(t, err)

	require.NoError(t, Finalize(db))

	rows, err := db.Query(`SELECT corpusid, title FROM ` + table + ` ORDER BY corpusid`)
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		id    int64
		title string
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.id, &r.title))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 2, "exactly one row per distinct corpusid survives finalisation")
	assert.Equal(t, "first", got[0].title, "the physically first row for a corpusid wins the MIN(ctid) dedup")
	assert.Equal(t, "only", got[1].title)
}

// TestRecordImportLogThenLoadImportLogRoundTrips verifies the cross-run
// resume bookkeeping Run relies on: a shard recorded once shows up in a
// subsequent loadImportLog call, and re-recording the same shard updates
// its timestamp rather than erroring on the (filename, data_type) conflict.
func TestRecordImportLogThenLoadImportLogRoundTrips(t *testing.T) {
	db := testDB(t)
	_, err := db.Exec(`DROP TABLE IF EXISTS gz_import_log`)
	require.NoError(t, err)
	defer db.Exec(`DROP TABLE IF EXISTS gz_import_log`)
	createImportLog(t, db)

	require.NoError(t, recordImportLog(db, "shard1.gz"))
	require.NoError(t, recordImportLog(db, "shard2.gz"))

	imported, err := loadImportLog(db)
	require.NoError(t, err)
	assert.Len(t, imported, 2)
	assert.Contains(t, imported, "shard1.gz")
	assert.Contains(t, imported, "shard2.gz")

	first := imported["shard1.gz"]
	require.NoError(t, recordImportLog(db, "shard1.gz"))
	imported, err = loadImportLog(db)
	require.NoError(t, err)
	assert.True(t, !imported["shard1.gz"].Before(first), "re-recording the same shard must not fail or go backwards in time")
}

// TestLoadImportLogFiltersByDataType ensures a row recorded under a
// different data_type (e.g. the full papers dataset) never leaks into
// titleload's view of what has already been imported.
func TestLoadImportLogFiltersByDataType(t *testing.T) {
	db := testDB(t)
	_, err := db.Exec(`DROP TABLE IF EXISTS gz_import_log`)
	require.NoError(t, err)
	defer db.Exec(`DROP TABLE IF EXISTS gz_import_log`)
	createImportLog(t, db)

	_, err = db.Exec(`INSERT INTO gz_import_log (filename, data_type) VALUES ($1, $2)`, "shard1.gz", "papers")
	require.NoError(t, err)
	require.NoError(t, recordImportLog(db, "shard2.gz"))

	imported, err := loadImportLog(db)
	require.NoError(t, err)
	assert.Len(t, imported, 1)
	assert.Contains(t, imported, "shard2.gz")
	assert.NotContains(t, imported, "shard1.gz")
}
