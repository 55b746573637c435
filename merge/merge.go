// Package merge implements C8, the Merger: a three-way merge of a
// pre-existing target shard, a side-channel citation JSONL produced by C5,
// and the main payload column from the database, written back via atomic
// file replacement with a sidecar SQLite progress ledger. Grounded on the
// teacher's atomic-rename checkpoint style (write-temp-fsync-rename, used
// throughout the teacher for crash-safe metadata writes) generalized here
// to a full shard rewrite, and on ext/dsort's retry/backoff idiom for the
// batched DB reads.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package merge

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/semanticscholar/s2orc-pipeline/cmn/cos"
	"github.com/semanticscholar/s2orc-pipeline/cmn/debug"
	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/ledger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// citationFields is CITATION_FIELDS from the glossary: copied unconditionally
// from SRC when non-empty.
var citationFields = []string{"citations", "references", "detailsOfCitations", "detailsOfReference"}

// Pair names one unit of merge work: a source part2 file and its target
// shard, living in possibly different directories.
type Pair struct {
	SourceDir string
	TargetDir string
	Name      string // basename shared by <name>_part2.jsonl and <name>.jsonl
}

func (p Pair) sourcePath() string { return filepath.Join(p.SourceDir, p.Name+"_part2.jsonl") }
func (p Pair) targetPath() string { return filepath.Join(p.TargetDir, p.Name+".jsonl") }

// Merger drives C8 over a sequence of Pairs sharing one DB connection and
// one progress ledger.
type Merger struct {
	DB     *sql.DB
	Ledger *ledger.SQLite
	Cfg    config.MergeConfig
}

// New opens the SQLite progress ledger at ledgerPath and returns a ready
// Merger; callers must Close() the returned Merger's Ledger when done.
func New(db *sql.DB, ledgerPath string, cfg config.MergeConfig) (*Merger, error) {
	l, err := ledger.OpenSQLite(ledgerPath)
	if err != nil {
		return nil, err
	}
	if cfg.DBBatchSize <= 0 {
		cfg.DBBatchSize = 5000
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryBaseDelayMS <= 0 {
		cfg.RetryBaseDelayMS = 2000
	}
	if len(cfg.DBFields) == 0 {
		cfg.DBFields = []string{"content"}
	}
	return &Merger{DB: db, Ledger: l, Cfg: cfg}, nil
}

// RunAll merges every pair not already recorded done in the ledger
// (spec §4.9: "absence means never attempted"), one pair at a time — per
// spec §5, different output files are independent but the three reads
// within one file are serialised. A pair that fails is logged and skipped;
// after every pair has been tried, RunAll returns an error naming the failed
// ones.
func (m *Merger) RunAll(ctx context.Context, pairs []Pair) error {
	done, err := m.Ledger.LoadAll()
	if err != nil {
		return err
	}
	var failed []string
	for _, p := range pairs {
		if done[p.Name] {
			continue
		}
		if err := m.MergeOne(ctx, p); err != nil {
			nlog.Errorf("merge: %s: %v", p.Name, err)
			failed = append(failed, p.Name)
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("merge: %d pair(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// MergeOne performs the five steps of spec §4.8 for one pair.
func (m *Merger) MergeOne(ctx context.Context, p Pair) error {
	srcUpdates, ids, err := m.readSource(p.sourcePath())
	if err != nil {
		return err
	}

	dbValues, err := m.readDB(ctx, ids)
	if err != nil {
		return err
	}

	tmpPath, err := m.rewriteTarget(p.targetPath(), srcUpdates, dbValues)
	if err != nil {
		return err
	}

	if err := atomicReplace(tmpPath, p.targetPath()); err != nil {
		return err
	}

	return m.Ledger.MarkDone(p.Name)
}

// readSource streams SRC once, cleaning control characters before parsing
// (spec §4.8 step 2), and indexes CITATION_FIELDS by corpusid.
func (m *Merger) readSource(path string) (map[int64]map[string]jsoniter.RawMessage, []int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "merge: open source %s", path)
	}
	defer f.Close()

	updates := make(map[int64]map[string]jsoniter.RawMessage)
	var ids []int64

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	for sc.Scan() {
		line := cos.CleanControlChars(sc.Bytes())
		if len(trimSpaceBytes(line)) == 0 {
			continue
		}
		var m map[string]jsoniter.RawMessage
		if err := json.Unmarshal(line, &m); err != nil {
			nlog.Warnf("merge: skipping malformed source line in %s: %v", path, err)
			continue
		}
		idRaw, ok := m["corpusid"]
		if !ok {
			continue
		}
		var id int64
		if err := json.Unmarshal(idRaw, &id); err != nil {
			continue
		}
		fields := make(map[string]jsoniter.RawMessage)
		for _, k := range citationFields {
			if v, ok := m[k]; ok && !cos.IsEmptyValue(v) {
				fields[k] = v
			}
		}
		if len(fields) == 0 {
			continue
		}
		updates[id] = fields
		ids = append(ids, id)
	}
	return updates, ids, errors.Wrapf(sc.Err(), "merge: scan source %s", path)
}

func trimSpaceBytes(b []byte) []byte {
	return []byte(strings.TrimSpace(string(b)))
}

// readDB batch-fetches DB_FIELDS for ids in chunks of Cfg.DBBatchSize,
// retrying each batch on any query error with exponential backoff
// (spec §4.8 step 3, §5: "up to 5 attempts, 2-second base delay").
func (m *Merger) readDB(ctx context.Context, ids []int64) (map[int64]map[string]jsoniter.RawMessage, error) {
	out := make(map[int64]map[string]jsoniter.RawMessage)
	if len(ids) == 0 {
		return out, nil
	}
	debug.Assert(m.Cfg.DBBatchSize > 0, "merge: DBBatchSize must be positive, New should have defaulted it")

	cols := m.Cfg.DBFields
	colList := strings.Join(quoteCols(cols), ", ")

	for start := 0; start < len(ids); start += m.Cfg.DBBatchSize {
		end := start + m.Cfg.DBBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		rows, err := m.queryChunkWithRetry(ctx, colList, cols, chunk)
		if err != nil {
			return nil, err
		}
		for id, vals := range rows {
			out[id] = vals
		}
	}
	return out, nil
}

func (m *Merger) queryChunkWithRetry(ctx context.Context, colList string, cols []string, ids []int64) (map[int64]map[string]jsoniter.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < m.Cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(m.Cfg.RetryBaseDelayMS) * time.Millisecond * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		result, err := m.queryChunk(ctx, colList, cols, ids)
		if err == nil {
			return result, nil
		}
		lastErr = err
		nlog.Warnf("merge: DB batch query attempt %d/%d failed: %v", attempt+1, m.Cfg.RetryAttempts, err)
	}
	return nil, errors.Wrapf(lastErr, "merge: DB batch query exhausted %d attempts", m.Cfg.RetryAttempts)
}

func (m *Merger) queryChunk(ctx context.Context, colList string, cols []string, ids []int64) (map[int64]map[string]jsoniter.RawMessage, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	q := fmt.Sprintf(`SELECT corpusid, %s FROM temp_import WHERE corpusid IN (%s)`, colList, strings.Join(placeholders, ", "))

	rows, err := m.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]map[string]jsoniter.RawMessage)
	scanDest := make([]any, 1+len(cols))
	var id int64
	scanDest[0] = &id
	vals := make([]sql.NullString, len(cols))
	for i := range vals {
		scanDest[i+1] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return nil, err
		}
		fields := make(map[string]jsoniter.RawMessage, len(cols))
		for i, c := range cols {
			if vals[i].Valid {
				fields[c] = jsoniter.RawMessage(vals[i].String)
			}
		}
		out[id] = fields
	}
	return out, rows.Err()
}

func quoteCols(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = `"` + c + `"`
	}
	return out
}

// rewriteTarget streams TGT line by line, applying the per-field update
// rules (spec §4.8 step 4), writing into a fresh temp file in TGT's own
// directory so the later rename is atomic (same filesystem).
func (m *Merger) rewriteTarget(targetPath string, srcUpdates, dbValues map[int64]map[string]jsoniter.RawMessage) (string, error) {
	in, err := os.Open(targetPath)
	if err != nil {
		return "", errors.Wrapf(err, "merge: open target %s", targetPath)
	}
	defer in.Close()

	dir := filepath.Dir(targetPath)
	tmp, err := os.CreateTemp(dir, ".merge-*.tmp")
	if err != nil {
		return "", errors.Wrapf(err, "merge: create temp in %s", dir)
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriterSize(tmp, 1<<20)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	for sc.Scan() {
		line := cos.CleanControlChars(sc.Bytes())
		if len(trimSpaceBytes(line)) == 0 {
			continue
		}
		var rec map[string]jsoniter.RawMessage
		if err := json.Unmarshal(line, &rec); err != nil {
			nlog.Warnf("merge: skipping malformed target line in %s: %v", targetPath, err)
			continue
		}
		id, ok := recordID(rec)
		if ok {
			applyUpdates(rec, srcUpdates[id], dbValues[id])
		}
		out, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", errors.Wrapf(err, "merge: encode record %d", id)
		}
		if _, err := w.Write(out); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", errors.Wrapf(err, "merge: write temp %s", tmpPath)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", err
		}
	}
	if err := sc.Err(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", errors.Wrapf(err, "merge: scan target %s", targetPath)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", errors.Wrapf(err, "merge: fsync %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

func recordID(rec map[string]jsoniter.RawMessage) (int64, bool) {
	raw, ok := rec["corpusid"]
	if !ok {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}

// applyUpdates is the core per-field rule from spec §4.8 step 4: citation
// fields copy unconditionally from SRC when present (already filtered
// non-empty by readSource); DB fields copy from the database only when the
// target's existing value is empty.
func applyUpdates(rec map[string]jsoniter.RawMessage, src, db map[string]jsoniter.RawMessage) {
	for k, v := range src {
		rec[k] = v
	}
	for field, v := range db {
		existing, present := rec[field]
		if present && !cos.IsEmptyValue(existing) {
			continue
		}
		rec[field] = v
	}
}

// atomicReplace renames tmpPath over target; both must live on the same
// filesystem for rename to be atomic, which rewriteTarget guarantees by
// creating the temp file in target's own directory (spec §9: "write temp in
// same directory -> fsync -> rename-over; do not use copy+delete").
func atomicReplace(tmpPath, target string) error {
	return errors.Wrapf(os.Rename(tmpPath, target), "merge: rename %s -> %s", tmpPath, target)
}

// ParseCorpusID parses a decimal corpusid string. It is exported for
// callers building Pair lists; no cmd/* front end calls it.
func ParseCorpusID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
