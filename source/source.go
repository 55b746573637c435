// Package source abstracts the directory a dataset's shards live in, so
// catalog/decode/custodian never hardcode local-disk assumptions. Grounded
// on the teacher's pluggable cloud-backend pattern (ais/backend/*),
// generalized here into local filesystem, S3, and HDFS implementations.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package source

import (
	"context"
	"io"
)

// ShardInfo is the minimal metadata C1/C3/C4 need about one shard file.
type ShardInfo struct {
	Name string
	Size int64
}

// Source is implemented by Local, S3, and HDFS. All pipeline components
// depend only on this interface; config.Source.Kind selects the concrete
// implementation at cmd/* startup.
type Source interface {
	// List enumerates shard files directly under dir (non-recursive).
	List(ctx context.Context, dir string) ([]ShardInfo, error)
	// Open streams one shard's raw (gzip-compressed) bytes.
	Open(ctx context.Context, dir, name string) (io.ReadCloser, error)
	// Remove deletes a shard once the custodian has confirmed it is safe to
	// reclaim. Non-local sources are not required to support deletion.
	Remove(ctx context.Context, dir, name string) error
	// FreeBytes reports remaining capacity on the medium backing dir. Non-
	// local sources report an effectively unbounded value since custodian
	// only reclaims local disk (spec §4.4 is scoped to the filesystem).
	FreeBytes(ctx context.Context, dir string) (uint64, error)
	// Deletable reports whether Remove is meaningful for this source kind.
	Deletable() bool
}

const Unbounded = ^uint64(0)

// New selects a Source implementation by kind ("local", "s3", "hdfs").
func New(kind string, s3Bucket, hdfsNamenode string) (Source, error) {
	switch kind {
	case "", "local":
		return Local{}, nil
	case "s3":
		return NewS3(s3Bucket)
	case "hdfs":
		return NewHDFS(hdfsNamenode)
	default:
		return nil, errUnknownKind(kind)
	}
}

type errUnknownKind string

func (e errUnknownKind) Error() string { return "source: unknown kind " + string(e) }
