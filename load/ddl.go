package load

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/semanticscholar/s2orc-pipeline/config"
)

// quoteIdent double-quotes a SQL identifier. Always applied to "references"
// (DESIGN.md Open Question decision) and cheap enough to apply everywhere.
func quoteIdent(s string) string { return `"` + s + `"` }

// CreateUnlogged creates the target table UNLOGGED with autovacuum disabled
// and no secondary indexes (spec §4.3): fast to load, durability deferred to
// Finalize.
func CreateUnlogged(db *sql.DB, info config.DatasetInfo, payloadType string) error {
	pk := info.PrimaryKey
	payloadCol := info.PayloadCol
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			%s BIGINT NOT NULL,
			%s %s
		) WITH (autovacuum_enabled = off)`,
		quoteIdent(info.Table), quoteIdent(pk), quoteIdent(payloadCol), payloadType,
	)
	if _, err := db.Exec(stmt); err != nil {
		return errors.Wrapf(err, "load: create unlogged table %s", info.Table)
	}
	_, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s SET UNLOGGED`, quoteIdent(info.Table)))
	return errors.Wrapf(err, "load: set %s unlogged", info.Table)
}

// Drop, Truncate mirror init_temp_table's --drop/--truncate flags (spec §6).
func Drop(db *sql.DB, table string) error {
	_, err := db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(table)))
	return errors.Wrapf(err, "load: drop %s", table)
}

func Truncate(db *sql.DB, table string) error {
	_, err := db.Exec(fmt.Sprintf(`TRUNCATE %s`, quoteIdent(table)))
	return errors.Wrapf(err, "load: truncate %s", table)
}

// CreateIndexes adds any requested indexes after finalisation
// (init_temp_table --create-indexes, spec §6).
func CreateIndexes(db *sql.DB, table string, cols ...string) error {
	for _, col := range cols {
		name := table + "_" + col + "_idx"
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`, quoteIdent(name), quoteIdent(table), quoteIdent(col))
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "load: create index on %s.%s", table, col)
		}
	}
	return nil
}

// InitLogTable creates gz_import_log (spec §6), the sidecar used by the
// title loader's cross-run resume.
func InitLogTable(db *sql.DB) error {
	const ddl = `CREATE TABLE IF NOT EXISTS gz_import_log (
		id SERIAL PRIMARY KEY,
		filename VARCHAR(255),
		data_type VARCHAR(50),
		imported_at TIMESTAMP DEFAULT NOW(),
		UNIQUE(filename, data_type)
	)`
	_, err := db.Exec(ddl)
	return errors.Wrap(err, "load: init gz_import_log")
}

func ClearLogTable(db *sql.DB) error {
	_, err := db.Exec(`TRUNCATE gz_import_log`)
	return errors.Wrap(err, "load: clear gz_import_log")
}

// CreateWorkingTable creates temp_import (spec §6), the scratch table C7/C8
// read their per-corpusid view from.
func CreateWorkingTable(db *sql.DB) error {
	const ddl = `CREATE TABLE IF NOT EXISTS temp_import (
		corpusid   BIGINT PRIMARY KEY,
		specter_v1 TEXT,
		specter_v2 TEXT,
		content    TEXT,
		citations  TEXT,
		"references" TEXT,
		is_done    BOOLEAN DEFAULT FALSE
	)`
	_, err := db.Exec(ddl)
	return errors.Wrap(err, "load: create temp_import")
}

// CreateFinalDelivery and FinalizeFinalDelivery back extract_corpusid (spec §6,
// SPEC_FULL §5): a single-column corpusid table collecting the union across
// whichever datasets the caller points it at, deduplicated on finalisation.
func CreateFinalDelivery(db *sql.DB) error {
	const ddl = `CREATE TABLE IF NOT EXISTS final_delivery (
		corpusid BIGINT NOT NULL
	) WITH (autovacuum_enabled = off)`
	if _, err := db.Exec(ddl); err != nil {
		return errors.Wrap(err, "load: create final_delivery")
	}
	_, err := db.Exec(`ALTER TABLE final_delivery SET UNLOGGED`)
	return errors.Wrap(err, "load: set final_delivery unlogged")
}

func FinalizeFinalDelivery(db *sql.DB) error {
	const newTable = "final_delivery_new"
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE %s (corpusid BIGINT PRIMARY KEY)`, newTable)); err != nil {
		return errors.Wrapf(err, "load: create %s", newTable)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (corpusid) SELECT DISTINCT corpusid FROM final_delivery ON CONFLICT (corpusid) DO NOTHING`, newTable)
	if _, err := db.Exec(insert); err != nil {
		return errors.Wrapf(err, "load: dedup-insert into %s", newTable)
	}
	if _, err := db.Exec(`DROP TABLE final_delivery`); err != nil {
		return errors.Wrap(err, "load: drop final_delivery")
	}
	if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s RENAME TO final_delivery`, newTable)); err != nil {
		return errors.Wrap(err, "load: rename final_delivery_new")
	}
	if _, err := db.Exec(`ALTER TABLE final_delivery SET LOGGED`); err != nil {
		return errors.Wrap(err, "load: set final_delivery logged")
	}
	_, err := db.Exec(`ANALYZE final_delivery`)
	return errors.Wrap(err, "load: analyze final_delivery")
}

// SyncColumnIntoWorkingTable folds a finalized per-dataset table's payload
// column into temp_import's matching column (SPEC_FULL §5: import-gz-to-temp
// --auto-pipeline), inserting rows that don't exist yet and updating ones
// that do.
func SyncColumnIntoWorkingTable(db *sql.DB, sourceTable, sourcePK, sourcePayloadCol, workingCol string) error {
	insert := fmt.Sprintf(
		`INSERT INTO temp_import (corpusid, %[1]s)
		 SELECT %[2]s, %[4]s FROM %[3]s
		 ON CONFLICT (corpusid) DO UPDATE SET %[1]s = EXCLUDED.%[1]s`,
		quoteIdent(workingCol), quoteIdent(sourcePK), quoteIdent(sourceTable), quoteIdent(sourcePayloadCol),
	)
	_, err := db.Exec(insert)
	return errors.Wrapf(err, "load: sync %s into temp_import.%s", sourceTable, workingCol)
}
