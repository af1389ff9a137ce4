package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sattrk/telarc/internal/errors"
)

// IndexEntry describes one published replication bundle: the file times
// and row range of the ingestion batches it packages.
//
// Entries for a content type are ordered by DateID and row-contiguous,
// same invariant as the archfiles records they are cut from.
type IndexEntry struct {
	DateID    string
	Filetime0 int64
	Filetime1 int64
	Row0      int64
	Row1      int64
}

// Rows returns the number of full-resolution rows the bundle covers.
func (e *IndexEntry) Rows() int64 {
	return e.Row1 - e.Row0
}

// Validate checks the entry for structural problems.
func (e *IndexEntry) Validate() error {
	v := errors.NewValidationErrors()
	if e.DateID == "" {
		v.AddMissing("date_id")
	}
	if e.Row1 <= e.Row0 {
		v.AddField("row1", "must be greater than row0")
	}
	if e.Filetime1 < e.Filetime0 {
		v.AddField("filetime1", "must not precede filetime0")
	}
	return v.Err()
}

// =============================================================================
// Sync Index Operations
// =============================================================================

// InsertIndexEntry appends a bundle to a content type's sync index.
//
// The entry must continue exactly where the previous one stopped and sort
// after it. A bundle that would break the chain is rejected, never
// recorded; a broken index cannot be applied by any replica.
func (c *Catalog) InsertIndexEntry(ctx context.Context, content string, e *IndexEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	last, err := c.GetLastIndexEntry(ctx, content)
	if err != nil {
		return err
	}
	if last != nil {
		if e.Row0 != last.Row1 {
			return errors.Wrapf(errors.ErrInvalidArgument,
				"content %q: bundle %s starts at row %d, index stops at row %d",
				content, e.DateID, e.Row0, last.Row1)
		}
		if e.DateID <= last.DateID {
			return errors.Wrapf(errors.ErrInvalidArgument,
				"content %q: bundle %s does not sort after %s",
				content, e.DateID, last.DateID)
		}
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO sync_index (content, date_id, filetime0, filetime1, row0, row1)
		VALUES (?, ?, ?, ?, ?, ?)
	`, content, e.DateID, e.Filetime0, e.Filetime1, e.Row0, e.Row1)
	if err != nil {
		return fmt.Errorf("insert index entry %s: %w", e.DateID, err)
	}
	return nil
}

// GetIndexEntries returns all bundles for a content type ordered by date_id.
func (c *Catalog) GetIndexEntries(ctx context.Context, content string) ([]*IndexEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT date_id, filetime0, filetime1, row0, row1 FROM sync_index
		WHERE content = ?
		ORDER BY date_id
	`, content)
	if err != nil {
		return nil, fmt.Errorf("query index entries: %w", err)
	}
	defer rows.Close()

	var entries []*IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.DateID, &e.Filetime0, &e.Filetime1, &e.Row0, &e.Row1); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// GetLastIndexEntry returns the bundle with the greatest date_id, or nil
// if the content type has no published bundles yet.
func (c *Catalog) GetLastIndexEntry(ctx context.Context, content string) (*IndexEntry, error) {
	var e IndexEntry
	err := c.db.QueryRowContext(ctx, `
		SELECT date_id, filetime0, filetime1, row0, row1 FROM sync_index
		WHERE content = ?
		ORDER BY date_id DESC
		LIMIT 1
	`, content).Scan(&e.DateID, &e.Filetime0, &e.Filetime1, &e.Row0, &e.Row1)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last index entry: %w", err)
	}
	return &e, nil
}
