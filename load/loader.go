// Package load implements C3, the Bulk Loader: a staged decode/insert
// worker pipeline bulk-loading a directory of shards into one SQL table via
// native COPY. Grounded on the teacher's ext/dsort.go Phase 1/2/3 staged
// worker orchestration (extraction phase, distribution phase, final phase),
// generalized from distributed resharding to single-table bulk load.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package load

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/semanticscholar/s2orc-pipeline/catalog"
	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/dbconn"
	"github.com/semanticscholar/s2orc-pipeline/decode"
	"github.com/semanticscholar/s2orc-pipeline/source"
)

// Columns names the TSV/COPY column order for a dataset+mode pair; load
// callers (including titleload and graph) supply this explicitly rather
// than load re-deriving it, since graph's edge-mode ingest targets a table
// outside the dataset registry (citation_raw).
type Columns []string

// Batch is one unit of work on the bounded data_queue (spec §4.3): up to
// BatchRows records from exactly one shard.
type batch struct {
	shard string
	rows  []decode.Row
}

// Progress is one tuple on the progress_queue (spec §4.3).
type Progress struct {
	Kind  ProgressKind
	Name  string
	Rows  int
	Err   error
}

type ProgressKind int

const (
	ProgressDecoded ProgressKind = iota // shard decoder drained cleanly
	ProgressDecodeFailed
	ProgressInsertFailed // a batch failed to COPY; shard must also be marked failed
)

// Loader drives the full C3 pipeline for one (directory, dataset) pair.
type Loader struct {
	Dir       string
	Dataset   config.Dataset
	Table     string
	Columns   Columns
	Mode      decode.Mode
	DB        *sql.DB
	Tuning    dbconn.Tuning
	Cat       *catalog.Catalog
	Src       source.Source
	Cfg       config.LoaderConfig

	// OnProgress, if set, receives every progress tuple as it is produced
	// (e.g. for a live per-shard console line, spec §7 "one-line summary").
	OnProgress func(Progress)

	// RowFilter, if set, is consulted for every decoded row before it is
	// batched for COPY; returning false drops the row (e.g. graph's in-run
	// approximate edge dedup ahead of citation_raw, see graph.IngestEdges).
	RowFilter func(decode.Row) bool
}

// Stats is the per-run tally spec §7 requires at exit: (success, failed,
// total-records, elapsed, rate).
type Stats struct {
	Succeeded    int64
	Failed       int64
	TotalRecords int64
	Elapsed      time.Duration
}

func (s Stats) RecordsPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.TotalRecords) / s.Elapsed.Seconds()
}

// Run executes the full decode/insert pipeline over all pending shards in
// Dir, then returns once every shard has drained (decoded or failed) and
// every in-flight batch has been committed or abandoned.
func (l *Loader) Run(ctx context.Context) (Stats, error) {
	start := time.Now()

	shards, err := l.Cat.ListPending(ctx, catalog.OrderSize)
	if err != nil {
		return Stats{}, errors.Wrap(err, "load: list pending shards")
	}
	if len(shards) == 0 {
		return Stats{Elapsed: time.Since(start)}, nil
	}

	shardCh := make(chan source.ShardInfo, len(shards))
	for _, s := range shards {
		shardCh <- s
	}
	close(shardCh)

	dataCh := make(chan batch, 32) // data_queue: bounded, tens of entries
	progressCh := make(chan Progress, 256)

	var totalRecords int64
	var wgProgress sync.WaitGroup
	wgProgress.Add(1)
	var succeeded, failed int64
	go func() {
		defer wgProgress.Done()
		for p := range progressCh {
			if l.OnProgress != nil {
				l.OnProgress(p)
			}
			switch p.Kind {
			case ProgressDecoded:
				atomic.AddInt64(&succeeded, 1)
				atomic.AddInt64(&totalRecords, int64(p.Rows))
				if err := l.Cat.MarkDone(p.Name); err != nil {
					nlog.Errorf("load: mark done %s: %v", p.Name, err)
				}
			case ProgressDecodeFailed:
				atomic.AddInt64(&failed, 1)
				if err := l.Cat.MarkFailed(p.Name, p.Err); err != nil {
					nlog.Errorf("load: mark failed %s: %v", p.Name, err)
				}
			case ProgressInsertFailed:
				// spec §4.3 stage 3: insert errors are not retried; the
				// shard is "still marked failed later" even if its decode
				// already succeeded.
				if err := l.Cat.MarkFailed(p.Name, p.Err); err != nil {
					nlog.Errorf("load: mark failed (insert) %s: %v", p.Name, err)
				}
			}
		}
	}()

	decodeWorkers := l.Cfg.DecodeWorkers
	if decodeWorkers < 1 {
		decodeWorkers = 1
	}
	insertWorkers := l.Cfg.InsertWorkers
	if insertWorkers < 1 {
		insertWorkers = 1
	}
	batchRows := l.Cfg.BatchRows
	if batchRows < 1 {
		batchRows = 500_000
	}
	commitEvery := l.Cfg.CommitEveryBatches
	if commitEvery < 1 {
		commitEvery = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < decodeWorkers; i++ {
		g.Go(func() error {
			l.decodeWorker(gctx, shardCh, dataCh, progressCh, batchRows)
			return nil
		})
	}

	var insertWG sync.WaitGroup
	insertWG.Add(insertWorkers)
	for i := 0; i < insertWorkers; i++ {
		go func() {
			defer insertWG.Done()
			l.insertWorker(gctx, dataCh, progressCh, commitEvery)
		}()
	}

	_ = g.Wait() // decode workers never return non-nil; failures go through progressCh
	close(dataCh)
	insertWG.Wait()
	close(progressCh)
	wgProgress.Wait()

	return Stats{
		Succeeded:    atomic.LoadInt64(&succeeded),
		Failed:       atomic.LoadInt64(&failed),
		TotalRecords: atomic.LoadInt64(&totalRecords),
		Elapsed:      time.Since(start),
	}, nil
}

func (l *Loader) decodeWorker(ctx context.Context, shardCh <-chan source.ShardInfo, dataCh chan<- batch, progressCh chan<- Progress, batchRows int) {
	for s := range shardCh {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rows, err := l.decodeShard(ctx, s, dataCh, batchRows)
		if err != nil {
			progressCh <- Progress{Kind: ProgressDecodeFailed, Name: s.Name, Err: err}
			continue
		}
		progressCh <- Progress{Kind: ProgressDecoded, Name: s.Name, Rows: rows}
	}
}

func (l *Loader) decodeShard(ctx context.Context, s source.ShardInfo, dataCh chan<- batch, batchRows int) (int, error) {
	rc, err := l.Src.Open(ctx, l.Dir, s.Name)
	if err != nil {
		return 0, errors.Wrapf(err, "load: open shard %s", s.Name)
	}
	defer rc.Close()

	dec, err := decode.New(ctx, rc, s.Size, l.Dataset, l.Mode)
	if err != nil {
		return 0, errors.Wrapf(err, "load: decode shard %s", s.Name)
	}
	defer dec.Close()

	total := 0
	buf := make([]decode.Row, 0, batchRows)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		dataCh <- batch{shard: s.Name, rows: buf}
		buf = make([]decode.Row, 0, batchRows)
	}
	for {
		row, ok, err := dec.Next()
		if err != nil {
			return total, err
		}
		if !ok {
			break
		}
		if l.RowFilter != nil && !l.RowFilter(row) {
			continue
		}
		buf = append(buf, row)
		total++
		if len(buf) >= batchRows {
			flush()
		}
	}
	flush()
	if skipped := dec.Skipped(); skipped > 0 {
		nlog.Infof("load: shard %s skipped %d malformed lines", s.Name, skipped)
	}
	return total, nil
}

func (l *Loader) insertWorker(ctx context.Context, dataCh <-chan batch, progressCh chan<- Progress, commitEvery int) {
	var tx *sql.Tx
	var err error
	batchesInTx := 0

	beginTx := func() error {
		tx, err = l.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		sc := "ON"
		if !l.Tuning.SynchronousCommit {
			sc = "OFF"
		}
		if _, err = tx.Exec("SET LOCAL synchronous_commit = " + sc); err != nil {
			return err
		}
		if _, err = tx.Exec("SET LOCAL work_mem = '" + l.Tuning.WorkMem + "'"); err != nil {
			return err
		}
		batchesInTx = 0
		return nil
	}
	commitTx := func() error {
		if tx == nil {
			return nil
		}
		e := tx.Commit()
		tx = nil
		return e
	}
	rollbackTx := func() {
		if tx != nil {
			tx.Rollback()
			tx = nil
		}
	}

	for b := range dataCh {
		if tx == nil {
			if err := beginTx(); err != nil {
				nlog.Errorf("load: begin tx: %v", err)
				progressCh <- Progress{Kind: ProgressInsertFailed, Name: b.shard, Err: err}
				continue
			}
		}

		if err := l.copyBatch(tx, b); err != nil {
			nlog.Errorf("load: copy batch for %s: %v", b.shard, err)
			rollbackTx() // connection-level rollback; batch is abandoned, not retried
			progressCh <- Progress{Kind: ProgressInsertFailed, Name: b.shard, Err: err}
			continue
		}
		batchesInTx++
		if batchesInTx >= commitEvery {
			if err := commitTx(); err != nil {
				nlog.Errorf("load: commit tx: %v", err)
				progressCh <- Progress{Kind: ProgressInsertFailed, Name: b.shard, Err: err}
			}
		}
	}
	if err := commitTx(); err != nil {
		nlog.Errorf("load: final commit: %v", err)
	}
}

func (l *Loader) copyBatch(tx *sql.Tx, b batch) error {
	w, err := dbconn.NewCopyWriter(tx, l.Table, l.Columns)
	if err != nil {
		return err
	}
	for _, row := range b.rows {
		if err := w.Row(row...); err != nil {
			return err
		}
	}
	return w.Close()
}
