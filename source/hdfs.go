package source

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/colinmarc/hdfs/v2"
	"github.com/pkg/errors"
)

// HDFS mirrors Local but against a namenode-addressed cluster, for
// deployments that stage shards on Hadoop storage ahead of the database
// machines. Like S3, deletion and free-space tracking are left to HDFS's
// own operators; the custodian only ever reclaims local disk.
type HDFS struct {
	client *hdfs.Client
}

func NewHDFS(namenode string) (*HDFS, error) {
	client, err := hdfs.New(namenode)
	if err != nil {
		return nil, errors.Wrapf(err, "source: connect hdfs namenode %s", namenode)
	}
	return &HDFS{client: client}, nil
}

func (h *HDFS) List(_ context.Context, dir string) ([]ShardInfo, error) {
	entries, err := h.client.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "source: readdir %s", dir)
	}
	var out []ShardInfo
	for _, fi := range entries {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".gz") {
			continue
		}
		out = append(out, ShardInfo{Name: fi.Name(), Size: fi.Size()})
	}
	return out, nil
}

func (h *HDFS) Open(_ context.Context, dir, name string) (io.ReadCloser, error) {
	f, err := h.client.Open(path.Join(dir, name))
	if err != nil {
		return nil, errors.Wrapf(err, "source: open %s", path.Join(dir, name))
	}
	return f, nil
}

func (*HDFS) Remove(context.Context, string, string) error { return nil }

func (*HDFS) FreeBytes(context.Context, string) (uint64, error) { return Unbounded, nil }

func (*HDFS) Deletable() bool { return false }
