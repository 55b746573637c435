// Package catalog implements C1, the Shard Catalogue: per (dataset,
// directory) done/failed/pending sets backed by the text ledger form.
// Grounded on the teacher's housekeeper registration style (periodic,
// ledger-driven eligibility) generalized to shard bookkeeping.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package catalog

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/ledger"
	"github.com/semanticscholar/s2orc-pipeline/source"
)

// Order controls list_pending's sort (spec §4.1): lexicographic by default,
// or ascending by size so C3 can surface small shards first.
type Order int

const (
	OrderName Order = iota
	OrderSize
)

type Catalog struct {
	dir     string
	dataset config.Dataset
	src     source.Source
	done    *ledger.Text
	failed  *ledger.Text
}

// New opens (creating if absent) the done/failed text ledgers under
// logs/<dataset>/<dirbase>_{progress,failed}.txt, matching spec §6's
// "logs/<purpose>/<name>_progress.txt" / "_failed.txt" layout.
func New(dir string, dataset config.Dataset, src source.Source) *Catalog {
	base := filepath.Base(filepath.Clean(dir))
	logDir := filepath.Join("logs", string(dataset))
	return &Catalog{
		dir:     dir,
		dataset: dataset,
		src:     src,
		done:    ledger.NewText(filepath.Join(logDir, base+"_progress.txt")),
		failed:  ledger.NewText(filepath.Join(logDir, base+"_failed.txt")),
	}
}

// ListPending returns the shards in dir not yet in done or failed, in the
// requested order.
func (c *Catalog) ListPending(ctx context.Context, order Order) ([]source.ShardInfo, error) {
	all, err := c.src.List(ctx, c.dir)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: list shards")
	}
	done, err := c.done.Load()
	if err != nil {
		return nil, err
	}
	failed, err := c.failed.Load()
	if err != nil {
		return nil, err
	}

	pending := make([]source.ShardInfo, 0, len(all))
	for _, s := range all {
		if _, ok := done[s.Name]; ok {
			continue
		}
		if _, ok := failed[s.Name]; ok {
			continue
		}
		pending = append(pending, s)
	}

	switch order {
	case OrderSize:
		sort.Slice(pending, func(i, j int) bool { return pending[i].Size < pending[j].Size })
	default:
		sort.Slice(pending, func(i, j int) bool { return pending[i].Name < pending[j].Name })
	}
	return pending, nil
}

// MarkDone records basename as fully loaded. Must flush before returning
// (spec §4.1) — ledger.Text.Append fsyncs internally.
func (c *Catalog) MarkDone(basename string) error {
	return c.done.Append(basename, "")
}

// MarkFailed records basename as an unrecoverable failure with a free-text
// reason.
func (c *Catalog) MarkFailed(basename string, reason error) error {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	return c.failed.Append(basename, msg)
}

// Reset truncates both ledgers.
func (c *Catalog) Reset() error {
	if err := c.done.Reset(); err != nil {
		return err
	}
	return c.failed.Reset()
}

// ResetFailed truncates only the failed ledger, so a retry run (batch-process-
// machine --retry) re-attempts previously failed shards while leaving
// already-done ones alone.
func (c *Catalog) ResetFailed() error {
	return c.failed.Reset()
}

// DoneSet and FailedSet expose the raw ledgers for the custodian (C4) and
// for catalog.Prune (SPEC_FULL §5 item 1).
func (c *Catalog) DoneSet() (map[string]ledger.Entry, error)   { return c.done.Load() }
func (c *Catalog) FailedSet() (map[string]ledger.Entry, error) { return c.failed.Load() }

// Prune (SPEC_FULL §5 item 1, grounded on original_source/batch_update/cleanup_imported_gz.py)
// returns the basenames present on disk that are already recorded done or
// failed — i.e. safe to reclaim — without deleting anything. The custodian
// uses the same predicate when it actually deletes.
func (c *Catalog) Prune(ctx context.Context) ([]string, error) {
	all, err := c.src.List(ctx, c.dir)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: list shards")
	}
	done, err := c.done.Load()
	if err != nil {
		return nil, err
	}
	failed, err := c.failed.Load()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range all {
		_, d := done[s.Name]
		_, f := failed[s.Name]
		if d || f {
			out = append(out, s.Name)
		}
	}
	return out, nil
}
