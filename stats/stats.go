// Package stats implements the per-run tally every cmd/* front end prints
// at exit (spec §7: "a one-line summary per shard and a final tally
// (success, failed, total-records, elapsed, rate)"), plus an optional
// Prometheus registry for components that run long enough to be scraped.
// Grounded on the teacher's stats package: named counters updated
// atomically, periodically flushed, here simplified to a single end-of-run
// snapshot since this is a batch CLI rather than a long-running daemon.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tally accumulates the spec §7 final-summary counters across a run.
type Tally struct {
	succeeded    int64
	failed       int64
	totalRecords int64
	start        time.Time
}

func NewTally() *Tally {
	return &Tally{start: time.Now()}
}

func (t *Tally) AddSucceeded(records int64) {
	atomic.AddInt64(&t.succeeded, 1)
	atomic.AddInt64(&t.totalRecords, records)
}

func (t *Tally) AddFailed() { atomic.AddInt64(&t.failed, 1) }

// Snapshot is the immutable summary printed at exit.
type Snapshot struct {
	Succeeded    int64
	Failed       int64
	TotalRecords int64
	Elapsed      time.Duration
}

func (t *Tally) Snapshot() Snapshot {
	return Snapshot{
		Succeeded:    atomic.LoadInt64(&t.succeeded),
		Failed:       atomic.LoadInt64(&t.failed),
		TotalRecords: atomic.LoadInt64(&t.totalRecords),
		Elapsed:      time.Since(t.start),
	}
}

func (s Snapshot) RecordsPerSec() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.TotalRecords) / s.Elapsed.Seconds()
}

// String renders the one-line final tally (spec §7).
func (s Snapshot) String() string {
	return fmt.Sprintf(
		"success=%d failed=%d records=%d elapsed=%s rate=%.0f rec/s",
		s.Succeeded, s.Failed, s.TotalRecords, s.Elapsed.Round(time.Second), s.RecordsPerSec(),
	)
}

// Registry is an optional Prometheus exposition surface (SPEC_FULL §3
// domain stack: prometheus/client_golang) for components run under a
// supervisor that scrapes metrics — the custodian's reclaim counters and
// the loader's per-shard throughput in particular.
type Registry struct {
	ShardsDone    prometheus.Counter
	ShardsFailed  prometheus.Counter
	RecordsLoaded prometheus.Counter
	BytesReclaimed prometheus.Counter
}

// NewRegistry registers all counters under the s2orc_pipeline namespace and
// returns them bundled for convenient increment calls from load/custodian.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ShardsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s2orc_pipeline", Name: "shards_done_total", Help: "Shards fully loaded.",
		}),
		ShardsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s2orc_pipeline", Name: "shards_failed_total", Help: "Shards marked failed.",
		}),
		RecordsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s2orc_pipeline", Name: "records_loaded_total", Help: "Records COPY-ed into the target table.",
		}),
		BytesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s2orc_pipeline", Name: "bytes_reclaimed_total", Help: "Bytes freed by the disk custodian.",
		}),
	}
	reg.MustRegister(r.ShardsDone, r.ShardsFailed, r.RecordsLoaded, r.BytesReclaimed)
	return r
}
