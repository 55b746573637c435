// Package custodian implements C4, the Disk-Space Custodian: a background
// monitor that reclaims shard files once the catalog records them as done
// or failed, triggered by a periodic free-space poll. Grounded on the
// teacher's hk (housekeeper) package: a cooperatively cancellable periodic
// task driven by a ticker and a done-signal channel, generalized here from
// cluster-wide garbage collection to single-directory shard reclaim.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package custodian

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/semanticscholar/s2orc-pipeline/catalog"
	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/source"
)

// Report is one poll's outcome (spec §4.4 step 3: "report the number
// deleted and bytes freed").
type Report struct {
	Deleted   int
	BytesFreed int64
	Errors    []error
}

// Custodian polls src's free space on dir's volume every interval; once
// free space drops below minFree it deletes every shard in dir whose
// basename is recorded done or failed in cat.
type Custodian struct {
	Dir      string
	Cat      *catalog.Catalog
	Src      source.Source
	Interval time.Duration
	MinFree  int64

	// OnReport, if set, receives every poll's Report (even no-op polls where
	// free space was above threshold and nothing ran).
	OnReport func(Report)
}

// New builds a Custodian from config defaults (spec §4.4: 900s / 30 GiB),
// overridden by cfg when non-zero.
func New(dir string, cat *catalog.Catalog, src source.Source, cfg config.CustodianConfig) *Custodian {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	minFree := cfg.MinFreeBytes
	if minFree <= 0 {
		minFree = 30 << 30
	}
	return &Custodian{Dir: dir, Cat: cat, Src: src, Interval: interval, MinFree: minFree}
}

// Run blocks, polling every c.Interval, until ctx is cancelled. It never
// returns an error itself; transient filesystem errors during a single poll
// are warned and accumulated in that poll's Report, per spec §4.4 ("tolerates
// transient filesystem errors (warns, continues)").
func (c *Custodian) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.poll(ctx); err != nil {
				nlog.Errorf("custodian: poll failed: %v", err)
			}
		}
	}
}

func (c *Custodian) poll(ctx context.Context) error {
	free, err := c.Src.FreeBytes(ctx, c.Dir)
	if err != nil {
		return errors.Wrap(err, "custodian: free bytes")
	}
	if free >= uint64(c.MinFree) {
		if c.OnReport != nil {
			c.OnReport(Report{})
		}
		return nil
	}
	report := c.reclaim(ctx)
	if c.OnReport != nil {
		c.OnReport(report)
	}
	return nil
}

// Reclaim runs one reclaim pass immediately, regardless of the current free
// space, and returns its Report without going through OnReport. Exported for
// callers (e.g. a batch CLI's end-of-run cleanup) that want a one-shot
// reclaim rather than Run's ticker-driven polling loop.
func (c *Custodian) Reclaim(ctx context.Context) Report {
	return c.reclaim(ctx)
}

// reclaim deletes every shard present on disk whose basename is already
// recorded done or failed (spec §4.4 steps 1-2). It never deletes a pending
// shard: the done/failed check is read from the ledgers, not inferred.
func (c *Custodian) reclaim(ctx context.Context) Report {
	all, err := c.Src.List(ctx, c.Dir)
	if err != nil {
		return Report{Errors: []error{errors.Wrap(err, "custodian: list shards")}}
	}
	done, err := c.Cat.DoneSet()
	if err != nil {
		return Report{Errors: []error{errors.Wrap(err, "custodian: load done set")}}
	}
	failed, err := c.Cat.FailedSet()
	if err != nil {
		return Report{Errors: []error{errors.Wrap(err, "custodian: load failed set")}}
	}

	if !c.Src.Deletable() {
		return Report{}
	}

	var rep Report
	for _, s := range all {
		_, d := done[s.Name]
		_, f := failed[s.Name]
		if !d && !f {
			continue
		}
		if err := c.Src.Remove(ctx, c.Dir, s.Name); err != nil {
			nlog.Warnf("custodian: remove %s: %v", filepath.Join(c.Dir, s.Name), err)
			rep.Errors = append(rep.Errors, err)
			continue
		}
		rep.Deleted++
		rep.BytesFreed += s.Size
	}
	return rep
}

// ReportOnly (SPEC_FULL §5 item 2) is a non-destructive dry-run: same predicate
// as reclaim, without deleting, so an operator can preview what the next
// poll would remove. Grounded on original_source/batch_update/cleanup_imported_gz.py's
// separate "--dry-run" listing mode.
func (c *Custodian) ReportOnly(ctx context.Context) (Report, error) {
	names, err := c.Cat.Prune(ctx)
	if err != nil {
		return Report{}, err
	}
	all, err := c.Src.List(ctx, c.Dir)
	if err != nil {
		return Report{}, errors.Wrap(err, "custodian: list shards")
	}
	sizes := make(map[string]int64, len(all))
	for _, s := range all {
		sizes[s.Name] = s.Size
	}
	var rep Report
	for _, n := range names {
		rep.Deleted++
		rep.BytesFreed += sizes[n]
	}
	return rep, nil
}
