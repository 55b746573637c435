package ledger

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo — see DESIGN.md survey note
)

// SQLite is the merge ledger (spec §4.8 step 6, §6 "merge_progress.db"): a
// two-column table (filename, updated_at) recording which part2 sources have
// already been merged into their target shard.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "ledger: open sqlite %s", path)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer avoids SQLITE_BUSY
	const ddl = `CREATE TABLE IF NOT EXISTS merge_progress (
		filename   TEXT PRIMARY KEY,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ledger: create merge_progress table")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Done reports whether filename already has a recorded merge.
func (s *SQLite) Done(filename string) (bool, error) {
	var x int
	err := s.db.QueryRow(`SELECT 1 FROM merge_progress WHERE filename = ?`, filename).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "ledger: query merge_progress")
	}
	return true, nil
}

// MarkDone records filename as merged. Invariant (spec §3, rule 5): callers
// must call this only after the target shard's atomic replacement has
// completed.
func (s *SQLite) MarkDone(filename string) error {
	_, err := s.db.Exec(
		`INSERT INTO merge_progress (filename, updated_at) VALUES (?, ?)
		 ON CONFLICT(filename) DO UPDATE SET updated_at = excluded.updated_at`,
		filename, time.Now().UTC().Format(time.RFC3339),
	)
	return errors.Wrap(err, "ledger: mark merge done")
}

// LoadAll returns the full set of merged filenames, read once at startup
// (spec §4.9 contract: "Readers load the full set at startup").
func (s *SQLite) LoadAll() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT filename FROM merge_progress`)
	if err != nil {
		return nil, errors.Wrap(err, "ledger: load merge_progress")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "ledger: scan merge_progress row")
		}
		out[name] = true
	}
	return out, errors.Wrap(rows.Err(), "ledger: iterate merge_progress")
}
