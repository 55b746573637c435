// Package ledger implements the two progress-ledger forms named in spec §4.9:
// an append-only text form (used by catalog/C1) and a small SQLite form
// (used by merge/C8). Both guarantee: a unit appears at most once with final
// status, and absence means "never attempted or interrupted before commit".
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
)

// Entry is one line of a text ledger.
type Entry struct {
	Name      string
	Timestamp time.Time
	Error     string // non-empty only in the failed ledger
}

// Text is an append-only text ledger at a fixed path. Concurrent append from
// multiple processes is NOT supported (spec §4.1) — callers must serialise
// their own writes; Text only protects against concurrent writers within one
// process.
type Text struct {
	path string
	mu   sync.Mutex
}

func NewText(path string) *Text {
	return &Text{path: path}
}

// Load reads the full set of entries, skipping malformed lines with a
// warning (spec §4.1 failure semantics) rather than failing the read.
func (t *Text) Load() (map[string]Entry, error) {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "ledger: open %s", t.path)
	}
	defer f.Close()

	out := make(map[string]Entry)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, ok := parseLine(line)
		if !ok {
			nlog.Warnf("ledger: skipping malformed line in %s: %q", t.path, line)
			continue
		}
		out[e.Name] = e
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "ledger: scan %s", t.path)
	}
	return out, nil
}

// Append appends one entry and fsyncs before returning, so the write
// survives a crash immediately after (spec §4.1: "MUST flush to stable
// storage before returning").
func (t *Text) Append(name string, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return errors.Wrapf(err, "ledger: create dir for %s", t.path)
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "ledger: open %s for append", t.path)
	}
	defer f.Close()

	line := formatLine(name, time.Now(), errMsg)
	if _, err := f.WriteString(line); err != nil {
		return errors.Wrapf(err, "ledger: write %s", t.path)
	}
	return errors.Wrapf(f.Sync(), "ledger: fsync %s", t.path)
}

// Reset truncates the ledger file.
func (t *Text) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return errors.Wrapf(os.Truncate(t.path, 0), "ledger: truncate %s", t.path)
}

func formatLine(name string, ts time.Time, errMsg string) string {
	line := fmt.Sprintf("[%s] %s", ts.UTC().Format("2006-01-02 15:04:05"), name)
	if errMsg != "" {
		line += " | error=" + strings.ReplaceAll(errMsg, "\n", " ")
	}
	return line + "\n"
}

func parseLine(line string) (Entry, bool) {
	if !strings.HasPrefix(line, "[") {
		return Entry{}, false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 || end+2 > len(line) {
		return Entry{}, false
	}
	tsRaw := line[1:end]
	ts, err := time.Parse("2006-01-02 15:04:05", tsRaw)
	if err != nil {
		return Entry{}, false
	}
	rest := strings.TrimSpace(line[end+1:])
	name, errMsg := rest, ""
	if idx := strings.Index(rest, " | error="); idx >= 0 {
		name = rest[:idx]
		errMsg = rest[idx+len(" | error="):]
	}
	if name == "" {
		return Entry{}, false
	}
	return Entry{Name: name, Timestamp: ts.UTC(), Error: errMsg}, true
}
