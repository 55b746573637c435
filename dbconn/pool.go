// Package dbconn manages pooled Postgres connections, per-connection session
// tuning, and the COPY-protocol writer every bulk-loading component streams
// rows through. Grounded on the teacher's ext/dsort connection/session
// lifecycle style; uses lib/pq for native COPY FROM STDIN support.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package dbconn

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/semanticscholar/s2orc-pipeline/config"
)

// Open returns a *sql.DB for the given machine's DSN. Each inserter (spec
// §4.3, §5 "Shared-resource policy") is expected to call Open once and own
// that *sql.DB exclusively — no connection is shared across goroutines that
// each need transactional isolation (COPY sessions in particular cannot
// interleave on one connection).
func Open(dsn config.MachineDSN) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "dbconn: open")
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "dbconn: ping")
	}
	return db, nil
}

// Tuning is a named session-tuning preset applied via SET LOCAL at the start
// of a bulk-load transaction (spec §4.3: "Session tuning applied by every
// connection before loading").
type Tuning struct {
	WorkMem            string
	MaintenanceWorkMem string
	SynchronousCommit  bool // false => OFF
}

// TuningDefault and TuningUSB are the two presets named in SPEC_FULL §5
// item 6: USB/spinning media gets a smaller work_mem to avoid swap thrash
// under the single decode worker the spec recommends for that medium.
var (
	TuningDefault = Tuning{WorkMem: "1GB", MaintenanceWorkMem: "2GB", SynchronousCommit: false}
	TuningUSB     = Tuning{WorkMem: "256MB", MaintenanceWorkMem: "512MB", SynchronousCommit: false}
)

func ForMedium(medium string) Tuning {
	if medium == "usb" || medium == "spinning" {
		return TuningUSB
	}
	return TuningDefault
}

// WithSession runs fn inside a transaction with the tuning applied via SET
// LOCAL, guaranteeing the settings are scoped to the transaction and never
// leak onto the pooled connection (design note, spec §9: "guaranteed RESET
// on all exit paths" — SET LOCAL inside a transaction gives that for free on
// COMMIT/ROLLBACK, which is why this wraps a *sql.Tx rather than issuing a
// bare SET + manual RESET).
func WithSession(db *sql.DB, t Tuning, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "dbconn: begin")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	sc := "ON"
	if !t.SynchronousCommit {
		sc = "OFF"
	}
	if _, err = tx.Exec("SET LOCAL synchronous_commit = " + sc); err != nil {
		return errors.Wrap(err, "dbconn: set synchronous_commit")
	}
	if _, err = tx.Exec("SET LOCAL work_mem = '" + t.WorkMem + "'"); err != nil {
		return errors.Wrap(err, "dbconn: set work_mem")
	}
	if t.MaintenanceWorkMem != "" {
		if _, err = tx.Exec("SET LOCAL maintenance_work_mem = '" + t.MaintenanceWorkMem + "'"); err != nil {
			return errors.Wrap(err, "dbconn: set maintenance_work_mem")
		}
	}
	err = fn(tx)
	return err
}
