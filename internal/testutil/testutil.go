// Package testutil seeds synthetic archives for tests.
//
// The helpers build a column store and catalog under temp directories and
// populate content types sample by sample, so packages exercising fetch,
// aggregation or replication can share one fixture vocabulary instead of
// each growing its own.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/sattrk/telarc/internal/archive/catalog"
	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/types"
)

// NewArchive creates an empty column store and an in-memory catalog, both
// torn down with the test.
func NewArchive(t *testing.T) (*colstore.Store, *catalog.Catalog) {
	t.Helper()
	store, err := colstore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	cat, err := catalog.New(catalog.Config{QueryTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("create catalog: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		cat.Close()
	})
	return store, cat
}

// FixtureTimes returns n timestamps at a 41 s cadence starting at sample
// number first. Eight samples span one 328 s bucket exactly, so bucket
// boundaries fall on whole sample numbers.
func FixtureTimes(first, n int) types.Float64s {
	out := make(types.Float64s, n)
	for i := range out {
		out[i] = float64(first+i) * 41
	}
	return out
}

// GoodQuality returns n all-good quality flags.
func GoodQuality(n int) []bool { return make([]bool, n) }

// SeedTime creates the TIME channel of a content type, appends the given
// batch and inserts the covering catalog record.
func SeedTime(t *testing.T, store *colstore.Store, cat *catalog.Catalog, content string, times types.Float64s) {
	t.Helper()
	ch := types.Channel{Msid: types.TimeMsid, Content: content, DType: types.DTypeFloat64}
	if err := store.CreateChannel(ch); err != nil {
		t.Fatalf("create TIME: %v", err)
	}
	AppendTime(t, store, cat, content, times)
}

// AppendTime appends a further TIME batch with its own catalog record.
func AppendTime(t *testing.T, store *colstore.Store, cat *catalog.Catalog, content string, times types.Float64s) {
	t.Helper()
	row0, err := store.Rows(content, types.TimeMsid)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if err := store.Append(content, types.TimeMsid, times, GoodQuality(len(times))); err != nil {
		t.Fatalf("append TIME: %v", err)
	}
	rec := &catalog.Record{
		Content:  content,
		Filename: content + "_" + time.Unix(int64(times[0]), 0).UTC().Format("150405") + ".dat",
		Filetime: int64(times[0]),
		Tstart:   times[0],
		Tstop:    times[len(times)-1],
		Rowstart: row0,
		Rowstop:  row0 + int64(len(times)),
	}
	if err := cat.InsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("insert record: %v", err)
	}
}

// AddChannel creates a value channel and appends one batch.
func AddChannel(t *testing.T, store *colstore.Store, ch types.Channel, vals types.Array, qual []bool) {
	t.Helper()
	if err := store.CreateChannel(ch); err != nil {
		t.Fatalf("create %s: %v", ch.Msid, err)
	}
	if err := store.Append(ch.Content, ch.Msid, vals, qual); err != nil {
		t.Fatalf("append %s: %v", ch.Msid, err)
	}
}
