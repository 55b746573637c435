// Package assemble implements C7, the Output Assembler: streams final
// per-shard NDJSON files out of the database, SHA-addressed by a random
// 8-character hex tag, with a side-channel "_part2.jsonl" carrying only the
// citation fields. Grounded on the teacher's ext/dsort range-distribution
// manager/worker pattern: a manager hands out corpusid ranges over a work
// channel, worker goroutines query in parallel, and a single serialised
// writer goroutine owns the shared (often slow, e.g. USB-attached) output
// volume to avoid random-write contention.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package assemble

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"

	"github.com/semanticscholar/s2orc-pipeline/cmn/cos"
	"github.com/semanticscholar/s2orc-pipeline/cmn/debug"
	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
)

// SortedRange is one unit of work: the manager's corpusid partition
// (SPEC_FULL §5 item 4). Ranges are half-open [Start, End) and assigned to
// workers in ascending order so that, combined with each worker's own
// ascending query, every output file's records remain sorted ascending by
// corpusid within the file, honoring spec §6 ("sorted ascending by the
// natural key within a file").
type SortedRange struct {
	Start, End int64
}

// Plan partitions [minCorpusid, maxCorpusid] into chunks no larger than
// shardMaxRecords (SPEC_FULL §5 item 4), the manager's work list before any
// worker is spawned.
func Plan(minCorpusid, maxCorpusid int64, shardMaxRecords int) []SortedRange {
	if shardMaxRecords <= 0 {
		shardMaxRecords = 50_000
	}
	var ranges []SortedRange
	for start := minCorpusid; start <= maxCorpusid; start += int64(shardMaxRecords) {
		end := start + int64(shardMaxRecords)
		if end > maxCorpusid+1 {
			end = maxCorpusid + 1
		}
		debug.Assert(end > start, "assemble: generated empty range")
		ranges = append(ranges, SortedRange{Start: start, End: end})
	}
	return ranges
}

// Record is the SQL merge of the five fields named in spec §4.7.
type Record struct {
	CorpusID            int64  `json:"corpusid"`
	Citations           string `json:"citations,omitempty"`
	References          string `json:"references,omitempty"`
	DetailsOfCitations  string `json:"detailsOfCitations,omitempty"`
	DetailsOfReferences string `json:"detailsOfReference,omitempty"`
}

// writeBatch is what a query worker hands the serialised writer: one
// range's records.
type writeBatch struct {
	records []Record
}

// runIDAlphabet mirrors the teacher's practice of supplying its own
// shortid alphabet rather than relying on the package default.
const runIDAlphabet = "123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ-_"

// Assembler drives C7 end to end.
type Assembler struct {
	DB      *sql.DB
	OutDir  string
	Workers int
	runID   string // internal run-correlation id, not part of any filename
}

// New constructs an Assembler, minting an internal shortid-based
// run-correlation id for log lines (SPEC_FULL §5: shortid reserved for
// internal correlation, distinct from cos.RandHex8's output filenames).
func New(db *sql.DB, outDir string, cfg config.AssemblerConfig) (*Assembler, error) {
	sid, err := shortid.New(1, runIDAlphabet, 0)
	if err != nil {
		return nil, errors.Wrap(err, "assemble: init shortid")
	}
	runID, err := sid.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "assemble: generate run id")
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 4
	}
	return &Assembler{DB: db, OutDir: outDir, Workers: workers, runID: runID}, nil
}

// Run queries ranges in parallel and serialises all writes through one
// goroutine, splitting each range's output across a main shard and its
// "_part2.jsonl" citation-only sidecar, named by a random 8-hex tag unique
// within OutDir.
func (a *Assembler) Run(ctx context.Context, ranges []SortedRange) error {
	nlog.Infof("assemble[%s]: %d ranges, %d workers, out=%s", a.runID, len(ranges), a.Workers, a.OutDir)

	rangeCh := make(chan SortedRange, len(ranges))
	for _, r := range ranges {
		rangeCh <- r
	}
	close(rangeCh)

	batchCh := make(chan writeBatch, a.Workers*2)

	var wg sync.WaitGroup
	wg.Add(a.Workers)
	errs := make(chan error, a.Workers)
	for i := 0; i < a.Workers; i++ {
		go func() {
			defer wg.Done()
			for r := range rangeCh {
				recs, err := a.queryRange(ctx, r)
				if err != nil {
					errs <- errors.Wrapf(err, "assemble[%s]: query range [%d,%d)", a.runID, r.Start, r.End)
					return
				}
				if len(recs) == 0 {
					continue
				}
				batchCh <- writeBatch{records: recs}
			}
		}()
	}

	var writeErr error
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for b := range batchCh {
			if err := a.writeShard(b.records); err != nil {
				writeErr = err
				return
			}
		}
	}()

	wg.Wait()
	close(batchCh)
	<-writeDone

	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return writeErr
}

// queryRange fetches [corpusid, references, citations, detailsOfCitations,
// detailsOfReference) for one range, skipping a corpusid with neither
// citations nor references (spec §4.7: "A corpusid with neither citations
// nor references is skipped").
func (a *Assembler) queryRange(ctx context.Context, r SortedRange) ([]Record, error) {
	const q = `
		SELECT corpusid,
		       COALESCE(citations, '[]'),
		       COALESCE("references", '[]'),
		       COALESCE(detailsofcitations, ''),
		       COALESCE(detailsofreference, '')
		FROM temp_import
		WHERE corpusid >= $1 AND corpusid < $2
		  AND NOT (COALESCE(citations, '[]') = '[]' AND COALESCE("references", '[]') = '[]')
		ORDER BY corpusid
	`
	rows, err := a.DB.QueryContext(ctx, q, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.CorpusID, &rec.Citations, &rec.References, &rec.DetailsOfCitations, &rec.DetailsOfReferences); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// writeShard mints a collision-free random filename and writes the main
// shard plus its part2 sidecar, run serially (single writer owns the
// output volume, spec §4.7).
func (a *Assembler) writeShard(records []Record) error {
	name, err := a.freshName()
	if err != nil {
		return err
	}
	mainPath := filepath.Join(a.OutDir, name+".jsonl")
	part2Path := filepath.Join(a.OutDir, name+"_part2.jsonl")

	if err := writeJSONL(mainPath, records, false); err != nil {
		return err
	}
	if err := writeJSONL(part2Path, records, true); err != nil {
		return err
	}
	nlog.Infof("assemble: wrote %s (%d records)", mainPath, len(records))
	return nil
}

// freshName generates a random 8-hex name, retrying on collision
// (spec §4.7: "uniqueness enforced by rejecting collisions in the output
// directory").
func (a *Assembler) freshName() (string, error) {
	for attempt := 0; attempt < 16; attempt++ {
		name, err := cos.RandHex8()
		if err != nil {
			return "", errors.Wrap(err, "assemble: generate shard name")
		}
		if _, err := os.Stat(filepath.Join(a.OutDir, name+".jsonl")); os.IsNotExist(err) {
			return name, nil
		}
	}
	return "", errors.New("assemble: exhausted retries generating a unique shard name")
}

// writeJSONL writes records as one JSON object per line; when part2Only,
// only the CITATION_FIELDS (plus corpusid) are emitted (spec §6:
// "_part2.jsonl sidecar files written by C7 contain only the citation
// columns plus corpusid").
func writeJSONL(path string, records []Record, part2Only bool) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "assemble: create %s", path)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		var v any = rec
		if part2Only {
			v = struct {
				CorpusID            int64  `json:"corpusid"`
				Citations           string `json:"citations"`
				References          string `json:"references"`
				DetailsOfCitations  string `json:"detailsOfCitations,omitempty"`
				DetailsOfReferences string `json:"detailsOfReference,omitempty"`
			}{rec.CorpusID, rec.Citations, rec.References, rec.DetailsOfCitations, rec.DetailsOfReferences}
		}
		if err := enc.Encode(v); err != nil {
			return errors.Wrapf(err, "assemble: encode record %d", rec.CorpusID)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "assemble: flush %s", path)
	}
	return errors.Wrapf(f.Sync(), "assemble: fsync %s", path)
}
