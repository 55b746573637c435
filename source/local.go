package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// Local is the default Source: shards live directly on a locally mounted
// filesystem. Directory enumeration uses godirwalk (teacher dep) for
// allocation-light, non-recursive scans of directories that can hold
// thousands of shard files.
type Local struct{}

func (Local) List(_ context.Context, dir string) ([]ShardInfo, error) {
	var out []ShardInfo
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == dir {
				return nil
			}
			if de.IsDir() {
				return filepath.SkipDir
			}
			if !strings.HasSuffix(path, ".gz") {
				return nil
			}
			fi, err := os.Stat(path)
			if err != nil {
				return nil // transient stat error: skip, caller will retry next run
			}
			out = append(out, ShardInfo{Name: filepath.Base(path), Size: fi.Size()})
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "source: list %s", dir)
	}
	return out, nil
}

func (Local) Open(_ context.Context, dir, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, errors.Wrapf(err, "source: open %s/%s", dir, name)
	}
	return f, nil
}

func (Local) Remove(_ context.Context, dir, name string) error {
	if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "source: remove %s/%s", dir, name)
	}
	return nil
}

func (Local) FreeBytes(_ context.Context, dir string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, errors.Wrapf(err, "source: statfs %s", dir)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func (Local) Deletable() bool { return true }
