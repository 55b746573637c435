package load

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/semanticscholar/s2orc-pipeline/cmn/debug"
	"github.com/semanticscholar/s2orc-pipeline/config"
)

// FinalizeMode selects the duplicate policy (spec §4.3 "Duplicate policy").
type FinalizeMode int

const (
	FinalizeFirstWriteWins FinalizeMode = iota // ON CONFLICT DO NOTHING
	FinalizeUpsert                             // re-ingest: full replacement on conflict
)

// Finalize runs the post-load phase named in spec §4.3: create T_new with
// the primary-key constraint, dedup-insert via SELECT DISTINCT, drop T,
// rename T_new to T, ANALYZE. Performed once after the full directory is
// ingested, strictly after every decode/insert worker has drained (spec §5
// ordering guarantee).
func Finalize(db *sql.DB, info config.DatasetInfo, payloadType string, mode FinalizeMode) error {
	table := info.Table
	newTable := table + "_new"
	pk := info.PrimaryKey
	payloadCol := info.PayloadCol
	debug.Assert(table != "" && pk != "" && payloadCol != "", "load: finalize called with incomplete DatasetInfo")

	createNew := fmt.Sprintf(
		`CREATE TABLE %s (
			%s BIGINT PRIMARY KEY,
			%s %s
		)`,
		quoteIdent(newTable), quoteIdent(pk), quoteIdent(payloadCol), payloadType,
	)
	if _, err := db.Exec(createNew); err != nil {
		return errors.Wrapf(err, "load: finalize create %s", newTable)
	}

	var insert string
	switch mode {
	case FinalizeUpsert:
		insert = fmt.Sprintf(
			`INSERT INTO %[1]s SELECT DISTINCT ON (%[2]s) %[2]s, %[3]s FROM %[4]s ORDER BY %[2]s
			 ON CONFLICT (%[2]s) DO UPDATE SET %[3]s = EXCLUDED.%[3]s`,
			quoteIdent(newTable), quoteIdent(pk), quoteIdent(payloadCol), quoteIdent(table),
		)
	default:
		insert = fmt.Sprintf(
			`INSERT INTO %[1]s SELECT DISTINCT ON (%[2]s) %[2]s, %[3]s FROM %[4]s ORDER BY %[2]s, ctid
			 ON CONFLICT (%[2]s) DO NOTHING`,
			quoteIdent(newTable), quoteIdent(pk), quoteIdent(payloadCol), quoteIdent(table),
		)
	}
	if _, err := db.Exec(insert); err != nil {
		return errors.Wrapf(err, "load: finalize dedup-insert into %s", newTable)
	}

	if info.HasSecondary {
		idx := fmt.Sprintf(`CREATE INDEX %s ON %s (%s)`,
			quoteIdent(newTable+"_"+info.SecondaryCol+"_idx"), quoteIdent(newTable), quoteIdent(info.SecondaryCol))
		if _, err := db.Exec(idx); err != nil {
			return errors.Wrapf(err, "load: finalize secondary index on %s", newTable)
		}
	}

	if _, err := db.Exec(fmt.Sprintf(`DROP TABLE %s`, quoteIdent(table))); err != nil {
		return errors.Wrapf(err, "load: finalize drop %s", table)
	}
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quoteIdent(newTable), quoteIdent(table))); err != nil {
		return errors.Wrapf(err, "load: finalize rename %s", newTable)
	}
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s SET LOGGED`, quoteIdent(table))); err != nil {
		return errors.Wrapf(err, "load: finalize set %s logged", table)
	}
	if _, err := db.Exec(fmt.Sprintf(`ANALYZE %s`, quoteIdent(table))); err != nil {
		return errors.Wrapf(err, "load: finalize analyze %s", table)
	}
	return nil
}

// FinalizeCitations is the citations dataset's variant (spec §4.3 "Per-table
// primary keys: citations -> synthetic auto-id, duplicates allowed, with a
// secondary index"): no DISTINCT dedup, a SERIAL id instead of a natural PK.
func FinalizeCitations(db *sql.DB, table string) error {
	newTable := table + "_new"
	createNew := fmt.Sprintf(
		`CREATE TABLE %s (
			id SERIAL PRIMARY KEY,
			citingcorpusid BIGINT NOT NULL,
			citedcorpusid BIGINT NOT NULL
		)`,
		quoteIdent(newTable),
	)
	if _, err := db.Exec(createNew); err != nil {
		return errors.Wrapf(err, "load: finalize create %s", newTable)
	}
	insert := fmt.Sprintf(
		`INSERT INTO %[1]s (citingcorpusid, citedcorpusid) SELECT citingcorpusid, citedcorpusid FROM %[2]s`,
		quoteIdent(newTable), quoteIdent(table),
	)
	if _, err := db.Exec(insert); err != nil {
		return errors.Wrapf(err, "load: finalize insert into %s", newTable)
	}
	idx := fmt.Sprintf(`CREATE INDEX %s ON %s (citingcorpusid)`, quoteIdent(newTable+"_citing_idx"), quoteIdent(newTable))
	if _, err := db.Exec(idx); err != nil {
		return errors.Wrapf(err, "load: finalize index on %s", newTable)
	}
	if _, err := db.Exec(fmt.Sprintf(`DROP TABLE %s`, quoteIdent(table))); err != nil {
		return errors.Wrapf(err, "load: finalize drop %s", table)
	}
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quoteIdent(newTable), quoteIdent(table))); err != nil {
		return errors.Wrapf(err, "load: finalize rename %s", newTable)
	}
	_, err := db.Exec(fmt.Sprintf(`ANALYZE %s`, quoteIdent(table)))
	return errors.Wrapf(err, "load: finalize analyze %s", table)
}

// PostLoadDDL runs optional per-dataset statements after Finalize
// (SPEC_FULL §5 item 7: the paper_ids SERIAL convenience column).
func PostLoadDDL(db *sql.DB, stmts ...string) error {
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return errors.Wrapf(err, "load: post-finalize DDL %q", s)
		}
	}
	return nil
}

// PaperIDsSequenceDDL is the SPEC_FULL §5 item 7 convenience column: an
// auto-increment secondary column, documented as internal-only (DESIGN.md
// Open Question decision) — no component reads it back.
func PaperIDsSequenceDDL(table string) []string {
	return []string{
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS seq SERIAL`, quoteIdent(table)),
	}
}
