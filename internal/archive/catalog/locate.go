package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sattrk/telarc/internal/errors"
)

// RowRange is a half-open row interval in the column store.
type RowRange struct {
	Start int64 // inclusive
	Stop  int64 // exclusive
}

// Rows returns the number of rows in the range.
func (r RowRange) Rows() int64 {
	return r.Stop - r.Start
}

// Empty returns true if the range contains no rows.
func (r RowRange) Empty() bool {
	return r.Stop <= r.Start
}

// Locate returns a row range guaranteed to cover all samples of the content
// type in [tstart, tstop).
//
// File times are coarse (one per ingestion batch), so the bracket is taken
// one record wide on each side: the left bound comes from the last record
// with filetime strictly before tstart, the right bound from the first
// record with filetime strictly after tstop. When a side has no such record
// the earliest or latest record stands in. The caller narrows the superset
// to the exact window by searching the TIME column.
//
// A content type with no records at all yields ErrNoCatalog.
func (c *Catalog) Locate(ctx context.Context, content string, tstart, tstop float64) (RowRange, error) {
	var r RowRange

	err := c.db.QueryRowContext(ctx, `
		SELECT rowstart FROM archfiles
		WHERE content = ? AND filetime < ?
		ORDER BY filetime DESC
		LIMIT 1
	`, content, tstart).Scan(&r.Start)
	if err == sql.ErrNoRows {
		err = c.db.QueryRowContext(ctx, `
			SELECT rowstart FROM archfiles
			WHERE content = ?
			ORDER BY filetime ASC
			LIMIT 1
		`, content).Scan(&r.Start)
		if err == sql.ErrNoRows {
			return RowRange{}, errors.NewNoCatalog(content)
		}
	}
	if err != nil {
		return RowRange{}, fmt.Errorf("locate start row: %w", err)
	}

	err = c.db.QueryRowContext(ctx, `
		SELECT rowstop FROM archfiles
		WHERE content = ? AND filetime > ?
		ORDER BY filetime ASC
		LIMIT 1
	`, content, tstop).Scan(&r.Stop)
	if err == sql.ErrNoRows {
		err = c.db.QueryRowContext(ctx, `
			SELECT rowstop FROM archfiles
			WHERE content = ?
			ORDER BY filetime DESC
			LIMIT 1
		`, content).Scan(&r.Stop)
	}
	if err != nil {
		return RowRange{}, fmt.Errorf("locate stop row: %w", err)
	}

	return r, nil
}
