package merge

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticscholar/s2orc-pipeline/config"
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

// TestMergeOneWithEmptyTarget reproduces spec §8 scenario 4: an empty target
// content column gets filled from the database, while citation fields are
// copied unconditionally from SRC.
func TestMergeOneWithEmptyTarget(t *testing.T) {
	db := testDB(t)
	_, err := db.Exec(`DROP TABLE IF EXISTS temp_import`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE temp_import (corpusid BIGINT PRIMARY KEY, content TEXT)`)
	require.NoError(t, err)
	defer db.Exec(`DROP TABLE IF EXISTS temp_import`)

	_, err = db.Exec(`INSERT INTO temp_import VALUES (10, '{"body":"b"}')`)
	require.NoError(t, err)

	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "shard_part2.jsonl")
	targetPath := filepath.Join(dir, "shard.jsonl")
	require.NoError(t, os.WriteFile(sourcePath, []byte(
		`{"corpusid":10,"citations":[{"corpusid":1,"title":"T"}],"references":[]}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(targetPath, []byte(
		`{"corpusid":10,"content":null,"citations":[],"references":[]}`+"\n"), 0o644))

	ledgerPath := filepath.Join(dir, "merge_progress.db")
	m, err := New(db, ledgerPath, config.MergeConfig{DBFields: []string{"content"}})
	require.NoError(t, err)
	defer m.Ledger.Close()

	require.NoError(t, m.MergeOne(context.Background(), Pair{SourceDir: dir, TargetDir: dir, Name: "shard"}))

	data, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"corpusid":10,"content":{"body":"b"},"citations":[{"corpusid":1,"title":"T"}],"references":[]}`, string(data))
}

// TestMergeOneDoesNotClobberNonEmptyTarget reproduces spec §8 scenario 5.
func TestMergeOneDoesNotClobberNonEmptyTarget(t *testing.T) {
	db := testDB(t)
	_, err := db.Exec(`DROP TABLE IF EXISTS temp_import`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE temp_import (corpusid BIGINT PRIMARY KEY, content TEXT)`)
	require.NoError(t, err)
	defer db.Exec(`DROP TABLE IF EXISTS temp_import`)

	_, err = db.Exec(`INSERT INTO temp_import VALUES (10, '{"body":"b"}')`)
	require.NoError(t, err)

	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "shard_part2.jsonl")
	targetPath := filepath.Join(dir, "shard.jsonl")
	require.NoError(t, os.WriteFile(sourcePath, []byte(
		`{"corpusid":10,"citations":[{"corpusid":1,"title":"T"}],"references":[]}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(targetPath, []byte(
		`{"corpusid":10,"content":{"body":"old"},"citations":[],"references":[]}`+"\n"), 0o644))

	ledgerPath := filepath.Join(dir, "merge_progress.db")
	m, err := New(db, ledgerPath, config.MergeConfig{DBFields: []string{"content"}})
	require.NoError(t, err)
	defer m.Ledger.Close()

	require.NoError(t, m.MergeOne(context.Background(), Pair{SourceDir: dir, TargetDir: dir, Name: "shard"}))

	data, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"corpusid":10,"content":{"body":"old"},"citations":[{"corpusid":1,"title":"T"}],"references":[]}`, string(data))
}
