package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestS3KeyJoinsDirAndName(t *testing.T) {
	s := &S3{bucket: "bucket"}
	assert.Equal(t, "papers/shard.gz", s.key("papers", "shard.gz"))
	assert.Equal(t, "papers/shard.gz", s.key("papers/", "shard.gz"))
	assert.Equal(t, "shard.gz", s.key("", "shard.gz"))
	assert.Equal(t, "shard.gz", s.key("/", "shard.gz"))
}

func TestS3RemoveIsNoopAndFreeBytesUnbounded(t *testing.T) {
	s := &S3{bucket: "bucket"}
	assert.NoError(t, s.Remove(context.Background(), "dir", "name"))
	free, err := s.FreeBytes(context.Background(), "dir")
	assert.NoError(t, err)
	assert.Equal(t, Unbounded, free)
	assert.False(t, s.Deletable())
}
