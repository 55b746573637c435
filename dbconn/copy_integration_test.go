package dbconn

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

// TestWithSessionAppliesTuningAndCopyWriterStreamsRows exercises the
// combination every bulk loader actually uses: SET LOCAL session tuning
// plus a COPY FROM STDIN stream, both scoped to the same transaction.
func TestWithSessionAppliesTuningAndCopyWriterStreamsRows(t *testing.T) {
	db := testDB(t)
	_, err := db.Exec(`DROP TABLE IF EXISTS dbconn_copy_test`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE dbconn_copy_test (corpusid BIGINT, title TEXT)`)
	require.NoError(t, err)
	defer db.Exec(`DROP TABLE IF EXISTS dbconn_copy_test`)

	err = WithSession(db, TuningDefault, func(tx *sql.Tx) error {
		var syncCommit string
		if err := tx.QueryRow(`SHOW synchronous_commit`).Scan(&syncCommit); err != nil {
			return err
		}
		assert.Equal(t, "off", syncCommit)

		w, err := NewCopyWriter(tx, "dbconn_copy_test", []string{"corpusid", "title"})
		if err != nil {
			return err
		}
		if err := w.Row(int64(1), "first"); err != nil {
			return err
		}
		if err := w.Row(int64(2), "second"); err != nil {
			return err
		}
		return w.Close()
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM dbconn_copy_test`).Scan(&count))
	assert.Equal(t, 2, count)
}

// TestWithSessionRollsBackOnError confirms a failing fn leaves no partial
// COPY rows committed, since WithSession routes any returned error through
// tx.Rollback rather than tx.Commit.
func TestWithSessionRollsBackOnError(t *testing.T) {
	db := testDB(t)
	_, err := db.Exec(`DROP TABLE IF EXISTS dbconn_rollback_test`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE dbconn_rollback_test (corpusid BIGINT)`)
	require.NoError(t, err)
	defer db.Exec(`DROP TABLE IF EXISTS dbconn_rollback_test`)

	boom := assert.AnError
	err = WithSession(db, TuningDefault, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO dbconn_rollback_test VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM dbconn_rollback_test`).Scan(&count))
	assert.Equal(t, 0, count)
}
