package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sattrk/telarc/internal/errors"
)

// Record describes one ingestion batch of one content type: the archive
// file it came from and the row range it occupies in the column store.
//
// Rowstart is inclusive, Rowstop exclusive. A healthy catalog holds records
// sorted by Filetime with record[i].Rowstop == record[i+1].Rowstart.
type Record struct {
	Content  string
	Filename string
	Filetime int64
	Tstart   float64
	Tstop    float64
	Rowstart int64
	Rowstop  int64
	Revision int
	Date     string
}

// Rows returns the number of rows the record covers.
func (r *Record) Rows() int64 {
	return r.Rowstop - r.Rowstart
}

// Validate checks the record for structural problems.
func (r *Record) Validate() error {
	v := errors.NewValidationErrors()
	if r.Content == "" {
		v.AddMissing("content")
	}
	if r.Filename == "" {
		v.AddMissing("filename")
	}
	if r.Rowstop <= r.Rowstart {
		v.AddField("rowstop", "must be greater than rowstart")
	}
	if r.Tstop < r.Tstart {
		v.AddField("tstop", "must not precede tstart")
	}
	return v.Err()
}

const recordColumns = `content, filename, filetime, tstart, tstop, rowstart, rowstop, revision, date`

// =============================================================================
// Record Operations
// =============================================================================

// InsertRecord inserts a single catalog record and bumps the content revision.
func (c *Catalog) InsertRecord(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	return c.TransactionContext(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO archfiles (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.Content, rec.Filename, rec.Filetime, rec.Tstart, rec.Tstop,
			rec.Rowstart, rec.Rowstop, rec.Revision, rec.Date)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", rec.Filename, err)
		}
		return bumpRevision(tx, rec.Content)
	})
}

// InsertRecordIfAbsent inserts a record unless one with the same content and
// filetime already exists. Returns true if the record was inserted.
//
// Re-applying a replication bundle must be a no-op, so the revision is only
// bumped when a row actually lands.
func (c *Catalog) InsertRecordIfAbsent(ctx context.Context, rec *Record) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, err
	}

	var inserted bool
	err := c.TransactionContext(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO archfiles (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (content, filetime) DO NOTHING
		`, rec.Content, rec.Filename, rec.Filetime, rec.Tstart, rec.Tstop,
			rec.Rowstart, rec.Rowstop, rec.Revision, rec.Date)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", rec.Filename, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		inserted = true
		return bumpRevision(tx, rec.Content)
	})
	return inserted, err
}

// GetRecords returns all records for a content type ordered by filetime.
func (c *Catalog) GetRecords(ctx context.Context, content string) ([]*Record, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM archfiles
		WHERE content = ?
		ORDER BY filetime
	`, content)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetRecordsFromRow returns records whose row range starts at or after the
// given row, ordered by filetime. The replication publisher uses this to
// find batches not yet bundled.
func (c *Catalog) GetRecordsFromRow(ctx context.Context, content string, row int64) ([]*Record, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM archfiles
		WHERE content = ? AND rowstart >= ?
		ORDER BY filetime
	`, content, row)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetLastRecord returns the record with the greatest filetime, or nil if
// the content type has no records.
func (c *Catalog) GetLastRecord(ctx context.Context, content string) (*Record, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM archfiles
		WHERE content = ?
		ORDER BY filetime DESC
		LIMIT 1
	`, content)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last record: %w", err)
	}
	return rec, nil
}

// RowCount returns the total number of archived rows for a content type,
// i.e. the greatest rowstop, or 0 if there are no records.
func (c *Catalog) RowCount(ctx context.Context, content string) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(rowstop), 0) FROM archfiles WHERE content = ?
	`, content).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return count, nil
}

// DeleteRecordsFrom deletes all records whose row range starts at or after
// the given row and returns the number of records deleted.
//
// The row must fall on a record boundary. A record straddling it means the
// caller's notion of the archive no longer matches the catalog, which is
// reported, never repaired here.
func (c *Catalog) DeleteRecordsFrom(ctx context.Context, content string, row int64) (int64, error) {
	var deleted int64
	err := c.TransactionContext(ctx, func(tx *sql.Tx) error {
		var straddle int
		if err := tx.QueryRow(`
			SELECT COUNT(*) FROM archfiles
			WHERE content = ? AND rowstart < ? AND rowstop > ?
		`, content, row, row).Scan(&straddle); err != nil {
			return fmt.Errorf("check record boundary: %w", err)
		}
		if straddle > 0 {
			return errors.Wrapf(errors.ErrCatalogIntegrity,
				"content %q: %d record(s) straddle row %d", content, straddle, row)
		}

		res, err := tx.Exec(`
			DELETE FROM archfiles WHERE content = ? AND rowstart >= ?
		`, content, row)
		if err != nil {
			return fmt.Errorf("delete records: %w", err)
		}

		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if deleted == 0 {
			return nil
		}
		return bumpRevision(tx, content)
	})
	return deleted, err
}

// Revision returns the mutation counter for a content type. It increases on
// every insert or delete of a record, so any cached data derived from a row
// range can be revalidated against it.
func (c *Catalog) Revision(ctx context.Context, content string) (int64, error) {
	var rev int64
	err := c.db.QueryRowContext(ctx, `
		SELECT revision FROM catalog_state WHERE content = ?
	`, content).Scan(&rev)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query revision: %w", err)
	}
	return rev, nil
}

// Contents returns the content types present in the catalog.
func (c *Catalog) Contents(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT content FROM archfiles ORDER BY content
	`)
	if err != nil {
		return nil, fmt.Errorf("query contents: %w", err)
	}
	defer rows.Close()

	var contents []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		contents = append(contents, content)
	}
	return contents, rows.Err()
}

// =============================================================================
// Scan Helpers
// =============================================================================

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.Content, &rec.Filename, &rec.Filetime,
		&rec.Tstart, &rec.Tstop,
		&rec.Rowstart, &rec.Rowstop,
		&rec.Revision, &rec.Date,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.Content, &rec.Filename, &rec.Filetime,
			&rec.Tstart, &rec.Tstop,
			&rec.Rowstart, &rec.Rowstop,
			&rec.Revision, &rec.Date,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
