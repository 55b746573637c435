package dbconn

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// CopyWriter streams pre-formatted TSV rows into a COPY … FROM STDIN
// statement opened against cols in table. It is the pull-based reader design
// note (spec §9) made concrete on top of lib/pq's CopyIn, which itself wants
// already-split column values rather than raw COPY wire bytes — Row accepts
// the decoded column values directly so callers (load, graph, titleload)
// never have to hand-assemble the wire format themselves.
type CopyWriter struct {
	tx    *sql.Tx
	stmt  *sql.Stmt
	cols  []string
	table string
}

func NewCopyWriter(tx *sql.Tx, table string, cols []string) (*CopyWriter, error) {
	stmt, err := tx.Prepare(pq.CopyIn(table, cols...))
	if err != nil {
		return nil, errors.Wrapf(err, "dbconn: prepare COPY into %s", table)
	}
	return &CopyWriter{tx: tx, stmt: stmt, cols: cols, table: table}, nil
}

// Row streams one row's column values. vals must match the column order
// passed to NewCopyWriter. A nil entry encodes SQL NULL.
func (w *CopyWriter) Row(vals ...any) error {
	if _, err := w.stmt.Exec(vals...); err != nil {
		return errors.Wrapf(err, "dbconn: COPY row into %s", w.table)
	}
	return nil
}

// Close flushes the COPY stream. Must be called before the enclosing
// transaction commits.
func (w *CopyWriter) Close() error {
	if _, err := w.stmt.Exec(); err != nil {
		return errors.Wrapf(err, "dbconn: flush COPY into %s", w.table)
	}
	return errors.Wrapf(w.stmt.Close(), "dbconn: close COPY statement for %s", w.table)
}
