package load

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticscholar/s2orc-pipeline/catalog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/dbconn"
	"github.com/semanticscholar/s2orc-pipeline/decode"
	"github.com/semanticscholar/s2orc-pipeline/source"
)

// TestResumeAfterCrash reproduces spec §8 scenario 6: of ten shards, the
// first four are already recorded done before a (simulated) crash; a fresh
// Loader.Run over the same directory must skip those four and load the
// remaining six. The first four are only marked done here, never loaded, so
// the table holds the six resumed shards' rows and the done ledger all ten.
func TestResumeAfterCrash(t *testing.T) {
	db := testDB(t)
	table := "resume_test"
	_, err := db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table))
	require.NoError(t, err)
	_, err = db.Exec(fmt.Sprintf(`CREATE TABLE %s (corpusid BIGINT, content TEXT)`, table))
	require.NoError(t, err)
	defer db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table))

	wd, err := os.Getwd()
	require.NoError(t, err)
	tmp := t.TempDir()
	require.NoError(t, os.Chdir(tmp))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	data := make(map[string][]byte, 10)
	shards := make([]source.ShardInfo, 0, 10)
	for i := 1; i <= 10; i++ {
		name := "shard" + strconv.Itoa(i) + ".gz"
		content := `{"corpusid":` + strconv.Itoa(i) + `,"content":{"x":` + strconv.Itoa(i) + `}}` + "\n"
		gz := gzipBytesForTest(t, content)
		data[name] = gz
		shards = append(shards, source.ShardInfo{Name: name, Size: int64(len(gz))})
	}
	dir := "/shards"
	cat := catalog.New(dir, config.S2ORC, listingSource{fakeShardSource{data: data}, shards})
	for i := 1; i <= 4; i++ {
		require.NoError(t, cat.MarkDone("shard"+strconv.Itoa(i)+".gz"))
	}

	l := &Loader{
		Dir:     dir,
		Dataset: config.S2ORC,
		Table:   table,
		Columns: Columns{"corpusid", "content"},
		Mode:    decode.ModePayload,
		DB:      db,
		Tuning:  dbconn.TuningDefault,
		Cat:     cat,
		Src:     listingSource{fakeShardSource{data: data}, shards},
		Cfg:     config.LoaderConfig{DecodeWorkers: 2, InsertWorkers: 1, BatchRows: 1000, CommitEveryBatches: 1},
	}
	stats, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Succeeded, "only the six not-yet-done shards should be processed")

	var count int
	require.NoError(t, db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count))
	assert.Equal(t, 6, count)

	done, err := cat.DoneSet()
	require.NoError(t, err)
	assert.Len(t, done, 10, "all ten shards end up recorded done after the resumed run")
}

// listingSource adds a fixed List() result on top of fakeShardSource, which
// otherwise only implements Open.
type listingSource struct {
	fakeShardSource
	shards []source.ShardInfo
}

func (l listingSource) List(context.Context, string) ([]source.ShardInfo, error) {
	return l.shards, nil
}
