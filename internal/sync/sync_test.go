package sync

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sattrk/telarc/internal/archive/catalog"
	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/stats"
	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
	"github.com/sattrk/telarc/internal/objstore"
	"github.com/sattrk/telarc/internal/testutil"
)

func newCursors(t *testing.T) *CursorStore {
	t.Helper()
	cs, err := NewCursorStore(t.TempDir())
	if err != nil {
		t.Fatalf("create cursor store: %v", err)
	}
	return cs
}

// staleClock returns a fake clock far past every fixture timestamp, so
// the publisher's freshness lag never withholds anything.
func staleClock() clockwork.Clock {
	return clockwork.NewFakeClockAt(time.Unix(1_000_000, 0))
}

func updateStats(t *testing.T, store *colstore.Store, cat *catalog.Catalog, content string) {
	t.Helper()
	if _, err := stats.NewUpdater(store, cat).UpdateContent(context.Background(), content, 2); err != nil {
		t.Fatalf("update stats: %v", err)
	}
}

func readStats(t *testing.T, store *colstore.Store, res types.Resolution, content, msid string) *colstore.StatsBlock {
	t.Helper()
	sf, err := store.Stats(res, content, msid)
	if err != nil {
		t.Fatalf("open stats: %v", err)
	}
	b, err := sf.ReadRows(0, sf.Rows())
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	return b
}

func mustRows(t *testing.T, store *colstore.Store, content, msid string) int64 {
	t.Helper()
	n, err := store.Rows(content, msid)
	if err != nil {
		t.Fatalf("rows of %s: %v", msid, err)
	}
	return n
}

// =============================================================================
// Publish and Apply
// =============================================================================

func TestPublishApply_RoundTrip(t *testing.T) {
	ctx := context.Background()
	const content = "acis2eng"

	srcStore, srcCat := testutil.NewArchive(t)
	testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, 20))
	ch := types.Channel{Msid: "TEPHIN", Content: content, DType: types.DTypeFloat32}
	vals := make(types.Float32s, 20)
	for i := range vals {
		vals[i] = float32(i)
	}
	testutil.AddChannel(t, srcStore, ch, vals, testutil.GoodQuality(20))
	updateStats(t, srcStore, srcCat, content)

	obj := objstore.NewMemory()
	pub := NewPublisher(srcStore, srcCat, obj, staleClock(), PublisherConfig{})

	n, err := pub.Publish(ctx, content)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 1 {
		t.Fatalf("published %d bundles, want 1", n)
	}

	// Five bundle objects plus the index.
	objs, err := obj.List(ctx, "sync/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 6 {
		t.Fatalf("object store holds %d objects, want 6", len(objs))
	}
	data, err := obj.Get(ctx, indexKey(content))
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	entries, err := decodeIndex(data)
	if err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if len(entries) != 1 || entries[0].Row0 != 0 || entries[0].Row1 != 20 {
		t.Fatalf("index entries = %+v, want one covering [0, 20)", entries)
	}

	// Nothing new on a rerun.
	if n, err = pub.Publish(ctx, content); err != nil || n != 0 {
		t.Fatalf("Publish rerun = (%d, %v), want (0, nil)", n, err)
	}

	dstStore, dstCat := testutil.NewArchive(t)
	app := NewApplier(dstStore, dstCat, obj, newCursors(t))
	n, err = app.Apply(ctx, content)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 1 {
		t.Fatalf("applied %d bundles, want 1", n)
	}

	if rows := mustRows(t, dstStore, content, types.TimeMsid); rows != 20 {
		t.Fatalf("replica has %d rows, want 20", rows)
	}
	gotTimes, _, err := dstStore.ReadColumn(content, types.TimeMsid, 0, 20)
	if err != nil {
		t.Fatalf("read TIME: %v", err)
	}
	if !reflect.DeepEqual(gotTimes, testutil.FixtureTimes(0, 20)) {
		t.Errorf("replica times = %v", gotTimes)
	}
	gotVals, gotQual, err := dstStore.ReadColumn(content, "TEPHIN", 0, 20)
	if err != nil {
		t.Fatalf("read TEPHIN: %v", err)
	}
	if !reflect.DeepEqual(gotVals, vals) {
		t.Errorf("replica values = %v", gotVals)
	}
	for i, bad := range gotQual {
		if bad {
			t.Errorf("row %d marked bad", i)
		}
	}

	recs, err := dstCat.GetRecords(ctx, content)
	if err != nil {
		t.Fatalf("replica records: %v", err)
	}
	if len(recs) != 1 || recs[0].Rowstop != 20 {
		t.Fatalf("replica records = %+v, want one stopping at row 20", recs)
	}

	src := readStats(t, srcStore, types.Res5Min, content, "TEPHIN")
	dst := readStats(t, dstStore, types.Res5Min, content, "TEPHIN")
	if !reflect.DeepEqual(src, dst) {
		t.Errorf("replica 5min stats differ:\nsrc %+v\ndst %+v", src, dst)
	}

	// Re-applying is a no-op.
	if n, err = app.Apply(ctx, content); err != nil || n != 0 {
		t.Fatalf("Apply rerun = (%d, %v), want (0, nil)", n, err)
	}
}

func TestPublishApply_Incremental(t *testing.T) {
	ctx := context.Background()
	const content = "acis2eng"

	srcStore, srcCat := testutil.NewArchive(t)
	testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, 20))
	ch := types.Channel{Msid: "TEPHIN", Content: content, DType: types.DTypeFloat32}
	vals := make(types.Float32s, 20)
	for i := range vals {
		vals[i] = float32(i)
	}
	testutil.AddChannel(t, srcStore, ch, vals, testutil.GoodQuality(20))
	updateStats(t, srcStore, srcCat, content)

	obj := objstore.NewMemory()
	pub := NewPublisher(srcStore, srcCat, obj, staleClock(), PublisherConfig{})
	dstStore, dstCat := testutil.NewArchive(t)
	app := NewApplier(dstStore, dstCat, obj, newCursors(t))

	if _, err := pub.Publish(ctx, content); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := app.Apply(ctx, content); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// A further ingestion batch closes a third statistics bucket.
	testutil.AppendTime(t, srcStore, srcCat, content, testutil.FixtureTimes(20, 8))
	vals2 := make(types.Float32s, 8)
	for i := range vals2 {
		vals2[i] = float32(20 + i)
	}
	if err := srcStore.Append(content, "TEPHIN", vals2, testutil.GoodQuality(8)); err != nil {
		t.Fatalf("append TEPHIN: %v", err)
	}
	updateStats(t, srcStore, srcCat, content)

	n, err := pub.Publish(ctx, content)
	if err != nil {
		t.Fatalf("Publish increment: %v", err)
	}
	if n != 1 {
		t.Fatalf("published %d bundles, want 1", n)
	}
	n, err = app.Apply(ctx, content)
	if err != nil {
		t.Fatalf("Apply increment: %v", err)
	}
	if n != 1 {
		t.Fatalf("applied %d bundles, want 1", n)
	}

	if rows := mustRows(t, dstStore, content, types.TimeMsid); rows != 28 {
		t.Fatalf("replica has %d rows, want 28", rows)
	}
	gotVals, _, err := dstStore.ReadColumn(content, "TEPHIN", 20, 28)
	if err != nil {
		t.Fatalf("read TEPHIN tail: %v", err)
	}
	if !reflect.DeepEqual(gotVals, vals2) {
		t.Errorf("replica tail = %v, want %v", gotVals, vals2)
	}

	src := readStats(t, srcStore, types.Res5Min, content, "TEPHIN")
	dst := readStats(t, dstStore, types.Res5Min, content, "TEPHIN")
	if src.Len() != 3 {
		t.Fatalf("source has %d stats rows, want 3", src.Len())
	}
	if !reflect.DeepEqual(src, dst) {
		t.Errorf("replica 5min stats differ:\nsrc %+v\ndst %+v", src, dst)
	}

	recs, err := dstCat.GetRecords(ctx, content)
	if err != nil {
		t.Fatalf("replica records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("replica holds %d records, want 2", len(recs))
	}
}

func TestPublishApply_Statistics(t *testing.T) {
	ctx := context.Background()
	const content = "pcad3eng"

	// A day and a bit, so daily rows with percentiles exist alongside
	// the 5-minute ones.
	const total = 2200
	srcStore, srcCat := testutil.NewArchive(t)
	testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, total))

	rate := types.Channel{Msid: "AORATE1", Content: content, DType: types.DTypeFloat64}
	rvals := make(types.Float64s, total)
	for i := range rvals {
		rvals[i] = float64(i) * 0.25
	}
	testutil.AddChannel(t, srcStore, rate, rvals, testutil.GoodQuality(total))

	gyro := types.Channel{Msid: "AOGYRCT1", Content: content, DType: types.DTypeInt32}
	gvals := make(types.Int32s, total)
	for i := range gvals {
		gvals[i] = int32(i - 1000)
	}
	testutil.AddChannel(t, srcStore, gyro, gvals, testutil.GoodQuality(total))

	mode := types.Channel{Msid: "AOPCADMD", Content: content, DType: types.DTypeString, Width: 4}
	mvals := make(types.Strings, total)
	for i := range mvals {
		if i < 1100 {
			mvals[i] = "NPNT"
		} else {
			mvals[i] = "NMAN"
		}
	}
	testutil.AddChannel(t, srcStore, mode, mvals, testutil.GoodQuality(total))

	updateStats(t, srcStore, srcCat, content)

	obj := objstore.NewMemory()
	pub := NewPublisher(srcStore, srcCat, obj, staleClock(), PublisherConfig{MaxBundleSpan: 48 * time.Hour})
	if _, err := pub.Publish(ctx, content); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	dstStore, dstCat := testutil.NewArchive(t)
	app := NewApplier(dstStore, dstCat, obj, newCursors(t))
	if _, err := app.Apply(ctx, content); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	for _, res := range types.StatResolutions() {
		for _, msid := range []string{"AORATE1", "AOGYRCT1", "AOPCADMD"} {
			src := readStats(t, srcStore, res, content, msid)
			dst := readStats(t, dstStore, res, content, msid)
			if src.Len() == 0 {
				t.Fatalf("%s %s: no source stats rows", res, msid)
			}
			if !reflect.DeepEqual(src, dst) {
				t.Errorf("%s %s: replica stats differ:\nsrc %+v\ndst %+v", res, msid, src, dst)
			}
		}
	}

	// The daily mode row splits the day between the two modes.
	daily := readStats(t, dstStore, types.ResDaily, content, "AOPCADMD")
	if daily.Len() != 1 {
		t.Fatalf("daily mode rows = %d, want 1", daily.Len())
	}
	if got := daily.Counts["NPNT"][0]; got != 1100 {
		t.Errorf("Counts[NPNT] = %d, want 1100", got)
	}
	if got := daily.Counts["NMAN"][0]; got != 1008 {
		t.Errorf("Counts[NMAN] = %d, want 1008", got)
	}
}

func TestPublishAll_ApplyAll(t *testing.T) {
	ctx := context.Background()

	srcStore, srcCat := testutil.NewArchive(t)
	for _, content := range []string{"acis2eng", "ccdm4eng"} {
		testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, 8))
		ch := types.Channel{Msid: "TEPHIN", Content: content, DType: types.DTypeFloat64}
		testutil.AddChannel(t, srcStore, ch, testutil.FixtureTimes(100, 8), testutil.GoodQuality(8))
	}

	obj := objstore.NewMemory()
	pub := NewPublisher(srcStore, srcCat, obj, staleClock(), PublisherConfig{})
	n, err := pub.PublishAll(ctx, 2)
	if err != nil {
		t.Fatalf("PublishAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("published %d bundles, want 2", n)
	}

	dstStore, dstCat := testutil.NewArchive(t)
	app := NewApplier(dstStore, dstCat, obj, newCursors(t))
	n, err = app.ApplyAll(ctx, 2)
	if err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("applied %d bundles, want 2", n)
	}

	for _, content := range []string{"acis2eng", "ccdm4eng"} {
		if rows := mustRows(t, dstStore, content, types.TimeMsid); rows != 8 {
			t.Errorf("%s: replica has %d rows, want 8", content, rows)
		}
	}
}

func TestPublish_SplitsByRowsAndSpan(t *testing.T) {
	ctx := context.Background()
	const content = "tel2eng"

	srcStore, srcCat := testutil.NewArchive(t)
	testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, 10))
	testutil.AppendTime(t, srcStore, srcCat, content, testutil.FixtureTimes(10, 10))

	obj := objstore.NewMemory()
	pub := NewPublisher(srcStore, srcCat, obj, staleClock(), PublisherConfig{MaxBundleSpan: 400 * time.Second})
	n, err := pub.Publish(ctx, content)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 2 {
		t.Fatalf("published %d bundles, want 2", n)
	}

	data, err := obj.Get(ctx, indexKey(content))
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	entries, err := decodeIndex(data)
	if err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("index holds %d entries, want 2", len(entries))
	}
	if entries[0].DateID != "19700101T000000Z" || entries[1].DateID != "19700101T000650Z" {
		t.Errorf("date_ids = %s, %s", entries[0].DateID, entries[1].DateID)
	}
	if entries[0].Row1 != 10 || entries[1].Row0 != 10 || entries[1].Row1 != 20 {
		t.Errorf("entries = %+v, want [0,10) and [10,20)", entries)
	}
}

func TestPublish_WithholdsFreshRecords(t *testing.T) {
	ctx := context.Background()
	const content = "thm1eng"

	srcStore, srcCat := testutil.NewArchive(t)
	testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, 10))
	testutil.AppendTime(t, srcStore, srcCat, content, testutil.FixtureTimes(10, 10))

	// The second batch's file time of 410 is younger than the 300 s lag.
	obj := objstore.NewMemory()
	clock := clockwork.NewFakeClockAt(time.Unix(500, 0))
	pub := NewPublisher(srcStore, srcCat, obj, clock, PublisherConfig{})

	n, err := pub.Publish(ctx, content)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 1 {
		t.Fatalf("published %d bundles, want 1", n)
	}
	last, err := srcCat.GetLastIndexEntry(ctx, content)
	if err != nil {
		t.Fatalf("last entry: %v", err)
	}
	if last.Row1 != 10 {
		t.Fatalf("published through row %d, want 10", last.Row1)
	}

	// Once the batch has aged past the lag it ships.
	clock.Advance(time.Hour)
	n, err = pub.Publish(ctx, content)
	if err != nil {
		t.Fatalf("Publish after advance: %v", err)
	}
	if n != 1 {
		t.Fatalf("published %d bundles after advance, want 1", n)
	}
	last, err = srcCat.GetLastIndexEntry(ctx, content)
	if err != nil {
		t.Fatalf("last entry: %v", err)
	}
	if last.Row1 != 20 {
		t.Fatalf("published through row %d, want 20", last.Row1)
	}
}

func TestPublish_BlocksOnRowGap(t *testing.T) {
	ctx := context.Background()
	const content = "eps5eng"

	srcStore, srcCat := testutil.NewArchive(t)
	testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, 16))

	// A record that skips rows [16, 20) can never be replicated.
	rec := &catalog.Record{
		Content:  content,
		Filename: "eps5eng_gap.dat",
		Filetime: 999,
		Tstart:   999,
		Tstop:    1000,
		Rowstart: 20,
		Rowstop:  28,
	}
	if err := srcCat.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("insert gap record: %v", err)
	}

	obj := objstore.NewMemory()
	pub := NewPublisher(srcStore, srcCat, obj, staleClock(), PublisherConfig{})
	if _, err := pub.Publish(ctx, content); !errors.Is(err, errors.ErrCatalogIntegrity) {
		t.Fatalf("Publish = %v, want catalog integrity error", err)
	}

	// The broken run published nothing.
	objs, err := obj.List(ctx, "sync/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 0 {
		t.Fatalf("object store holds %d objects, want 0", len(objs))
	}
}

func TestApply_SupersedesRedeliveredTimes(t *testing.T) {
	ctx := context.Background()
	const content = "tel2eng"

	srcStore, srcCat := testutil.NewArchive(t)
	testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, 16))
	ch := types.Channel{Msid: "5EHSE300", Content: content, DType: types.DTypeFloat64}
	vals := make(types.Float64s, 16)
	for i := range vals {
		vals[i] = float64(i)
	}
	testutil.AddChannel(t, srcStore, ch, vals, testutil.GoodQuality(16))

	// A reprocessed delivery re-ships the last four timestamps with
	// corrected values, plus four new samples.
	testutil.AppendTime(t, srcStore, srcCat, content, testutil.FixtureTimes(12, 8))
	redo := make(types.Float64s, 8)
	for i := range redo {
		redo[i] = float64(100 + i)
	}
	if err := srcStore.Append(content, "5EHSE300", redo, testutil.GoodQuality(8)); err != nil {
		t.Fatalf("append redo: %v", err)
	}

	obj := objstore.NewMemory()
	pub := NewPublisher(srcStore, srcCat, obj, staleClock(), PublisherConfig{MaxBundleRows: 16})
	n, err := pub.Publish(ctx, content)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n != 2 {
		t.Fatalf("published %d bundles, want 2", n)
	}

	dstStore, dstCat := testutil.NewArchive(t)
	app := NewApplier(dstStore, dstCat, obj, newCursors(t))
	n, err = app.Apply(ctx, content)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n != 2 {
		t.Fatalf("applied %d bundles, want 2", n)
	}

	if rows := mustRows(t, dstStore, content, types.TimeMsid); rows != 24 {
		t.Fatalf("replica has %d rows, want 24", rows)
	}

	// Rows 12..15 carried the superseded timestamps: flagged bad on the
	// timestamp channel, values left in place. A bad timestamp poisons
	// its row for every reader, so the sibling channel's own flags stay
	// untouched.
	_, tqual, err := dstStore.ReadColumn(content, types.TimeMsid, 0, 24)
	if err != nil {
		t.Fatalf("read TIME: %v", err)
	}
	for i, bad := range tqual {
		want := i >= 12 && i < 16
		if bad != want {
			t.Errorf("TIME row %d: bad = %v, want %v", i, bad, want)
		}
	}
	_, cqual, err := dstStore.ReadColumn(content, "5EHSE300", 0, 24)
	if err != nil {
		t.Fatalf("read 5EHSE300: %v", err)
	}
	for i, bad := range cqual {
		if bad {
			t.Errorf("5EHSE300 row %d marked bad", i)
		}
	}
	gotVals, _, err := dstStore.ReadColumn(content, "5EHSE300", 16, 24)
	if err != nil {
		t.Fatalf("read redo rows: %v", err)
	}
	if !reflect.DeepEqual(gotVals, redo) {
		t.Errorf("redo rows = %v, want %v", gotVals, redo)
	}
}

func TestApply_HealsTornApply(t *testing.T) {
	ctx := context.Background()
	const content = "acis2eng"

	srcStore, srcCat := testutil.NewArchive(t)
	testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, 16))
	ch := types.Channel{Msid: "TEPHIN", Content: content, DType: types.DTypeFloat32}
	vals := make(types.Float32s, 16)
	for i := range vals {
		vals[i] = float32(i)
	}
	testutil.AddChannel(t, srcStore, ch, vals, testutil.GoodQuality(16))

	obj := objstore.NewMemory()
	pub := NewPublisher(srcStore, srcCat, obj, staleClock(), PublisherConfig{})
	dstStore, dstCat := testutil.NewArchive(t)
	app := NewApplier(dstStore, dstCat, obj, newCursors(t))

	if _, err := pub.Publish(ctx, content); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := app.Apply(ctx, content); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	testutil.AppendTime(t, srcStore, srcCat, content, testutil.FixtureTimes(16, 8))
	vals2 := make(types.Float32s, 8)
	for i := range vals2 {
		vals2[i] = float32(16 + i)
	}
	if err := srcStore.Append(content, "TEPHIN", vals2, testutil.GoodQuality(8)); err != nil {
		t.Fatalf("append TEPHIN: %v", err)
	}
	if _, err := pub.Publish(ctx, content); err != nil {
		t.Fatalf("Publish increment: %v", err)
	}

	// Simulate a crash that landed TEPHIN's tail but not TIME's: the
	// timestamp channel commits an apply, so this one never happened.
	if err := dstStore.Append(content, "TEPHIN", vals2, testutil.GoodQuality(8)); err != nil {
		t.Fatalf("pre-append TEPHIN: %v", err)
	}

	n, err := app.Apply(ctx, content)
	if err != nil {
		t.Fatalf("Apply after torn attempt: %v", err)
	}
	if n != 1 {
		t.Fatalf("applied %d bundles, want 1", n)
	}

	if rows := mustRows(t, dstStore, content, types.TimeMsid); rows != 24 {
		t.Fatalf("TIME has %d rows, want 24", rows)
	}
	if rows := mustRows(t, dstStore, content, "TEPHIN"); rows != 24 {
		t.Fatalf("TEPHIN has %d rows, want 24", rows)
	}
	gotVals, _, err := dstStore.ReadColumn(content, "TEPHIN", 16, 24)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if !reflect.DeepEqual(gotVals, vals2) {
		t.Errorf("tail = %v, want %v (appended twice?)", gotVals, vals2)
	}
}

func TestApply_Discontinuity(t *testing.T) {
	ctx := context.Background()
	const content = "ccdm4eng"

	srcStore, srcCat := testutil.NewArchive(t)
	testutil.SeedTime(t, srcStore, srcCat, content, testutil.FixtureTimes(0, 16))
	testutil.AppendTime(t, srcStore, srcCat, content, testutil.FixtureTimes(16, 8))

	obj := objstore.NewMemory()
	pub := NewPublisher(srcStore, srcCat, obj, staleClock(), PublisherConfig{MaxBundleRows: 16})
	if _, err := pub.Publish(ctx, content); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	cursors := newCursors(t)
	dstStore, dstCat := testutil.NewArchive(t)
	app := NewApplier(dstStore, dstCat, obj, cursors)
	if n, err := app.Apply(ctx, content); err != nil || n != 2 {
		t.Fatalf("Apply = (%d, %v), want (2, nil)", n, err)
	}

	testutil.AppendTime(t, srcStore, srcCat, content, testutil.FixtureTimes(24, 8))
	if _, err := pub.Publish(ctx, content); err != nil {
		t.Fatalf("Publish increment: %v", err)
	}

	// The replica's files are lost but its cursor survives. The next
	// bundle starts at row 24 against an empty store; that gap is fatal,
	// never skipped or padded.
	wipedStore, wipedCat := testutil.NewArchive(t)
	app = NewApplier(wipedStore, wipedCat, obj, cursors)
	_, err := app.Apply(ctx, content)
	if !errors.Is(err, errors.ErrSyncDiscontinuity) {
		t.Fatalf("Apply = %v, want discontinuity", err)
	}
	var de *errors.DiscontinuityError
	if !errors.As(err, &de) {
		t.Fatalf("error %v does not carry discontinuity details", err)
	}
	if de.WantRow != 0 || de.GotRow != 24 || de.Resolution != "full" {
		t.Errorf("discontinuity = %+v, want rows 0 vs 24 at full resolution", de)
	}
}

func TestApply_NoIndex(t *testing.T) {
	dstStore, dstCat := testutil.NewArchive(t)
	app := NewApplier(dstStore, dstCat, objstore.NewMemory(), newCursors(t))
	if _, err := app.Apply(context.Background(), "acis2eng"); !errors.Is(err, errors.ErrNoSyncIndex) {
		t.Fatalf("Apply = %v, want missing index error", err)
	}
}

// =============================================================================
// Cursor store
// =============================================================================

func TestCursorStore_RoundTrip(t *testing.T) {
	cs := newCursors(t)

	cur, err := cs.Get("acis2eng")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.LastDateID != "" || cur.Rows != 0 {
		t.Fatalf("fresh cursor = %+v, want zero", cur)
	}

	cur.LastDateID = "20200101T000000Z"
	cur.Rows = 42
	cur.setStatRow(types.Res5Min, "TEPHIN", 7)
	if err := cs.Put("acis2eng", cur); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := cs.Get("acis2eng")
	if err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
	if !reflect.DeepEqual(got, cur) {
		t.Errorf("cursor = %+v, want %+v", got, cur)
	}

	// Cursors are per content type.
	other, err := cs.Get("ccdm4eng")
	if err != nil {
		t.Fatalf("Get other: %v", err)
	}
	if other.LastDateID != "" {
		t.Errorf("other cursor = %+v, want zero", other)
	}
}
