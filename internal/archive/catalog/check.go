package catalog

import (
	"context"
	"fmt"

	"github.com/sattrk/telarc/internal/errors"
)

// Violation reports one broken catalog invariant between two adjacent
// records.
type Violation struct {
	Content string
	Prev    *Record
	Next    *Record
	Reason  string
}

// Err returns the violation as a structured error.
func (v Violation) Err() error {
	return &errors.IntegrityError{
		Content:   v.Content,
		PrevFile:  v.Prev.Filename,
		NextFile:  v.Next.Filename,
		PrevStop:  v.Prev.Rowstop,
		NextStart: v.Next.Rowstart,
		Reason:    v.Reason,
	}
}

func (v Violation) String() string {
	return v.Err().Error()
}

// Check scans a content type's records for broken invariants: walked in
// row order, every adjacent pair must have non-decreasing filetime and
// abutting row ranges. Violations are reported with the offending pair and
// never corrected.
//
// This backs a repair pass, not normal queries, which tolerate the
// catalog as found.
func (c *Catalog) Check(ctx context.Context, content string) ([]Violation, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM archfiles
		WHERE content = ?
		ORDER BY rowstart, filetime
	`, content)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewNoCatalog(content)
	}

	var violations []Violation
	for i := 1; i < len(records); i++ {
		prev, next := records[i-1], records[i]

		if next.Filetime < prev.Filetime {
			violations = append(violations, Violation{
				Content: content,
				Prev:    prev,
				Next:    next,
				Reason:  fmt.Sprintf("filetime runs backwards (%d after %d)", next.Filetime, prev.Filetime),
			})
		}

		if next.Rowstart != prev.Rowstop {
			reason := "row ranges overlap"
			if next.Rowstart > prev.Rowstop {
				reason = "row ranges leave a gap"
			}
			violations = append(violations, Violation{
				Content: content,
				Prev:    prev,
				Next:    next,
				Reason:  reason,
			})
		}
	}

	if len(violations) > 0 {
		log.Warn("catalog integrity violations found",
			"content", content,
			"records", len(records),
			"violations", len(violations))
	}

	return violations, nil
}

// CheckAll runs Check for every content type in the catalog and returns
// the violations keyed by content type.
func (c *Catalog) CheckAll(ctx context.Context) (map[string][]Violation, error) {
	contents, err := c.Contents(ctx)
	if err != nil {
		return nil, err
	}

	all := make(map[string][]Violation)
	for _, content := range contents {
		violations, err := c.Check(ctx, content)
		if err != nil {
			return nil, err
		}
		if len(violations) > 0 {
			all[content] = violations
		}
	}
	return all, nil
}
