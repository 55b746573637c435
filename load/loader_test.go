package load

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/decode"
	"github.com/semanticscholar/s2orc-pipeline/source"
)

func gzipBytesForTest(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestStatsRecordsPerSecZeroElapsed(t *testing.T) {
	s := Stats{TotalRecords: 500, Elapsed: 0}
	assert.Equal(t, float64(0), s.RecordsPerSec())
}

func TestStatsRecordsPerSecComputesRate(t *testing.T) {
	s := Stats{TotalRecords: 500, Elapsed: time.Second}
	assert.Equal(t, float64(500), s.RecordsPerSec())
}

// nopReadCloser wraps a bytes reader so fakeShardSource can satisfy
// io.ReadCloser without touching the filesystem.
type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

type fakeShardSource struct {
	data map[string][]byte
}

func (f fakeShardSource) List(context.Context, string) ([]source.ShardInfo, error) { return nil, nil }
func (f fakeShardSource) Open(_ context.Context, _ string, name string) (io.ReadCloser, error) {
	return nopReadCloser{bytes.NewReader(f.data[name])}, nil
}
func (fakeShardSource) Remove(context.Context, string, string) error      { return nil }
func (fakeShardSource) FreeBytes(context.Context, string) (uint64, error) { return source.Unbounded, nil }
func (fakeShardSource) Deletable() bool                                  { return true }

func TestDecodeShardCountsRowsAcrossBatches(t *testing.T) {
	content := ""
	for i := int64(1); i <= 5; i++ {
		content += `{"corpusid":` + strconv.FormatInt(i, 10) + `,"content":{"x":1}}` + "\n"
	}
	gz := gzipBytesForTest(t, content)

	src := fakeShardSource{data: map[string][]byte{"shard.gz": gz}}
	l := &Loader{Dir: "/shards", Dataset: config.S2ORC, Mode: decode.ModePayload, Src: src}

	dataCh := make(chan batch, 16)
	total, err := l.decodeShard(context.Background(), source.ShardInfo{Name: "shard.gz", Size: int64(len(gz))}, dataCh, 2)
	require.NoError(t, err)
	close(dataCh)

	assert.Equal(t, 5, total)

	var rowsSeen int
	for b := range dataCh {
		rowsSeen += len(b.rows)
	}
	assert.Equal(t, 5, rowsSeen)
}
