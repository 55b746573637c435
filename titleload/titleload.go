// Package titleload implements C6, the Title Loader: a thin specialization
// of C3 that loads only the papers dataset's (corpusid, title) projection
// into corpusid_mapping_title, with cross-run resume tracked through the
// gz_import_log sidecar in addition to the text ledger pair. Grounded on the
// teacher's hk (housekeeper) registration-and-resume style, reusing load's
// worker pipeline rather than reimplementing it.
/*
 * Copyright (c) 2024, Semantic Scholar. All rights reserved.
 */
package titleload

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/semanticscholar/s2orc-pipeline/catalog"
	"github.com/semanticscholar/s2orc-pipeline/cmn/nlog"
	"github.com/semanticscholar/s2orc-pipeline/config"
	"github.com/semanticscholar/s2orc-pipeline/dbconn"
	"github.com/semanticscholar/s2orc-pipeline/decode"
	"github.com/semanticscholar/s2orc-pipeline/load"
	"github.com/semanticscholar/s2orc-pipeline/source"
)

const (
	table      = "corpusid_mapping_title"
	dataType   = "papers_title"
	primaryKey = "corpusid"
)

// Columns is the fixed (corpusid, title) COPY column order.
var Columns = load.Columns{"corpusid", "title"}

// CreateUnlogged creates corpusid_mapping_title without a primary key,
// mirroring C3's deferred-PK pattern (spec §4.6: "same staged load as C3,
// specialized to two columns").
func CreateUnlogged(db *sql.DB) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		corpusid BIGINT NOT NULL,
		title TEXT
	) WITH (autovacuum_enabled = off)`, table)
	if _, err := db.Exec(stmt); err != nil {
		return errors.Wrap(err, "titleload: create unlogged table")
	}
	_, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s SET UNLOGGED`, table))
	return errors.Wrap(err, "titleload: set unlogged")
}

// Finalize dedups on corpusid via MIN(ctid) (spec §4.6: "deferred PK with
// MIN(ctid) dedup", distinct from load.Finalize's SELECT DISTINCT ON because
// there is no natural ordering column to pick a survivor by other than
// physical row position).
func Finalize(db *sql.DB) error {
	newTable := table + "_new"
	create := fmt.Sprintf(`CREATE TABLE %s (
		corpusid BIGINT PRIMARY KEY,
		title TEXT
	)`, newTable)
	if _, err := db.Exec(create); err != nil {
		return errors.Wrapf(err, "titleload: create %s", newTable)
	}
	insert := fmt.Sprintf(
		`INSERT INTO %[1]s (corpusid, title)
		 SELECT t.corpusid, t.title FROM %[2]s t
		 WHERE t.ctid = (SELECT MIN(t2.ctid) FROM %[2]s t2 WHERE t2.corpusid = t.corpusid)`,
		newTable, table,
	)
	if _, err := db.Exec(insert); err != nil {
		return errors.Wrapf(err, "titleload: dedup-insert into %s", newTable)
	}
	if _, err := db.Exec(fmt.Sprintf(`DROP TABLE %s`, table)); err != nil {
		return errors.Wrapf(err, "titleload: drop %s", table)
	}
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, newTable, table)); err != nil {
		return errors.Wrapf(err, "titleload: rename %s", newTable)
	}
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s SET LOGGED`, table)); err != nil {
		return errors.Wrapf(err, "titleload: set %s logged", table)
	}
	_, err := db.Exec(fmt.Sprintf(`ANALYZE %s`, table))
	return errors.Wrapf(err, "titleload: analyze %s", table)
}

// Run loads dir's papers shards into corpusid_mapping_title. It consults
// gz_import_log before each shard (spec §4.6 "cross-run resume tracking")
// in addition to the usual catalog done/failed ledgers, since this loader
// can run repeatedly against the same directory as new shards arrive.
func Run(ctx context.Context, db *sql.DB, dir string, src source.Source, cfg config.LoaderConfig) (load.Stats, error) {
	cat := catalog.New(dir, config.Papers, src)

	imported, err := loadImportLog(db)
	if err != nil {
		return load.Stats{}, err
	}
	for name := range imported {
		// gz_import_log already records this shard from a prior run; treat
		// it as done so ListPending skips it without re-reading the ledger.
		if err := cat.MarkDone(name); err != nil {
			nlog.Warnf("titleload: mark done from import log %s: %v", name, err)
		}
	}

	l := &load.Loader{
		Dir:     dir,
		Dataset: config.Papers,
		Table:   table,
		Columns: Columns,
		Mode:    decode.ModeTitle,
		DB:      db,
		Tuning:  dbconn.TuningDefault,
		Cat:     cat,
		Src:     src,
		Cfg:     cfg,
		OnProgress: func(p load.Progress) {
			if p.Kind == load.ProgressDecoded {
				if err := recordImportLog(db, p.Name); err != nil {
					nlog.Errorf("titleload: record import log for %s: %v", p.Name, err)
				}
			}
		},
	}
	return l.Run(ctx)
}

func loadImportLog(db *sql.DB) (map[string]time.Time, error) {
	rows, err := db.Query(`SELECT filename, imported_at FROM gz_import_log WHERE data_type = $1`, dataType)
	if err != nil {
		return nil, errors.Wrap(err, "titleload: query gz_import_log")
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var name string
		var at time.Time
		if err := rows.Scan(&name, &at); err != nil {
			return nil, errors.Wrap(err, "titleload: scan gz_import_log row")
		}
		out[name] = at
	}
	return out, errors.Wrap(rows.Err(), "titleload: iterate gz_import_log")
}

func recordImportLog(db *sql.DB, name string) error {
	_, err := db.Exec(
		`INSERT INTO gz_import_log (filename, data_type) VALUES ($1, $2)
		 ON CONFLICT (filename, data_type) DO UPDATE SET imported_at = NOW()`,
		name, dataType,
	)
	return errors.Wrap(err, "titleload: insert gz_import_log")
}
