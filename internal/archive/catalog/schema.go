package catalog

import (
	"database/sql"
	"fmt"
)

// =============================================================================
// Schema Migration
// =============================================================================

// migrateSchema creates the metastore tables.
//
// This is idempotent - safe to run multiple times.
//
// Tables:
//   - archfiles: one row per ingestion batch of one content type
//   - sync_index: one row per published replication bundle
//   - catalog_state: per-content revision counter, bumped on every mutation
func migrateSchema(db *sql.DB) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "archfiles",
			sql: `CREATE TABLE IF NOT EXISTS archfiles (
				content  VARCHAR NOT NULL,
				filename VARCHAR NOT NULL,
				filetime BIGINT NOT NULL,
				tstart   DOUBLE NOT NULL,
				tstop    DOUBLE NOT NULL,
				rowstart BIGINT NOT NULL,
				rowstop  BIGINT NOT NULL,
				revision INTEGER DEFAULT 0,
				date     VARCHAR DEFAULT '',
				PRIMARY KEY (content, filetime)
			)`,
		},
		{
			name: "sync_index",
			sql: `CREATE TABLE IF NOT EXISTS sync_index (
				content    VARCHAR NOT NULL,
				date_id    VARCHAR NOT NULL,
				filetime0  BIGINT NOT NULL,
				filetime1  BIGINT NOT NULL,
				row0       BIGINT NOT NULL,
				row1       BIGINT NOT NULL,
				created_at TIMESTAMP DEFAULT now(),
				PRIMARY KEY (content, date_id)
			)`,
		},
		{
			name: "catalog_state",
			sql: `CREATE TABLE IF NOT EXISTS catalog_state (
				content  VARCHAR PRIMARY KEY,
				revision BIGINT NOT NULL DEFAULT 0
			)`,
		},

		// Indices for row-range lookups
		{
			name: "idx_archfiles_rows",
			sql:  `CREATE INDEX IF NOT EXISTS idx_archfiles_rows ON archfiles(content, rowstart)`,
		},
		{
			name: "idx_sync_index_rows",
			sql:  `CREATE INDEX IF NOT EXISTS idx_sync_index_rows ON sync_index(content, row0)`,
		},
	}

	for _, m := range migrations {
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		log.Debug("migration applied", "name", m.name)
	}

	log.Debug("schema migration completed", "migrations", len(migrations))
	return nil
}

// bumpRevision increments the revision counter for a content type inside
// the given transaction. Every mutation of archfiles must go through this
// so cached row ranges can be revalidated.
func bumpRevision(tx *sql.Tx, content string) error {
	_, err := tx.Exec(`
		INSERT INTO catalog_state (content, revision) VALUES (?, 1)
		ON CONFLICT (content) DO UPDATE SET revision = catalog_state.revision + 1
	`, content)
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	return nil
}
