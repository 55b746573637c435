package source_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semanticscholar/s2orc-pipeline/source"
)

func TestLocalListFindsOnlyGzFilesAtTopLevel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.gz"), []byte("aa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.gz"), []byte("bbb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a shard"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "subdir", "c.gz"), []byte("ccc"), 0o644))

	var s source.Local
	shards, err := s.List(context.Background(), dir)
	require.NoError(t, err)

	names := map[string]int64{}
	for _, sh := range shards {
		names[sh.Name] = sh.Size
	}
	assert.Equal(t, map[string]int64{"a.gz": 2, "b.gz": 3}, names, "subdirectories are not descended into and non-.gz files are excluded")
}

func TestLocalOpenAndRemove(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard.gz"), []byte("payload"), 0o644))

	var s source.Local
	rc, err := s.Open(context.Background(), dir, "shard.gz")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))

	require.NoError(t, s.Remove(context.Background(), dir, "shard.gz"))
	_, err = os.Stat(filepath.Join(dir, "shard.gz"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalRemoveIsIdempotentOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	var s source.Local
	assert.NoError(t, s.Remove(context.Background(), dir, "never-existed.gz"))
}

func TestLocalFreeBytesReturnsPositiveValue(t *testing.T) {
	dir := t.TempDir()
	var s source.Local
	free, err := s.FreeBytes(context.Background(), dir)
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}

func TestLocalIsDeletable(t *testing.T) {
	var s source.Local
	assert.True(t, s.Deletable())
}
