package sync

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	stdsync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/sattrk/telarc/internal/archive/catalog"
	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
	"github.com/sattrk/telarc/internal/metrics"
	"github.com/sattrk/telarc/internal/objstore"
)

// Applier replays published bundles onto a replica archive. Applying is
// idempotent: rows the replica already holds are truncated from each
// bundle, and a bundle whose remaining first row does not meet the
// replica's row count is a fatal discontinuity, never skipped or padded.
type Applier struct {
	store   *colstore.Store
	cat     *catalog.Catalog
	obj     objstore.Store
	cursors *CursorStore
}

// NewApplier returns an applier that replays bundles from the object
// store onto the given replica archive.
func NewApplier(store *colstore.Store, cat *catalog.Catalog, obj objstore.Store, cursors *CursorStore) *Applier {
	return &Applier{store: store, cat: cat, obj: obj, cursors: cursors}
}

// ApplyAll applies pending bundles for every content type published to
// the object store, fanning out across content types. Returns the number
// of bundles applied.
func (a *Applier) ApplyAll(ctx context.Context, workers int) (int, error) {
	contents, err := a.contents(ctx)
	if err != nil {
		return 0, err
	}
	if workers < 1 {
		workers = 1
	}

	var mu stdsync.Mutex
	total := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, content := range contents {
		g.Go(func() error {
			n, err := a.Apply(ctx, content)
			if err != nil {
				return errors.Wrapf(err, "apply %s", content)
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	return total, g.Wait()
}

// contents lists the content types present under the sync prefix.
func (a *Applier) contents(ctx context.Context) ([]string, error) {
	objs, err := a.obj.List(ctx, keyPrefix+"/")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, o := range objs {
		rest := strings.TrimPrefix(o.Key, keyPrefix+"/")
		content, _, ok := strings.Cut(rest, "/")
		if !ok || seen[content] {
			continue
		}
		seen[content] = true
		out = append(out, content)
	}
	return out, nil
}

// Apply applies the pending bundles of one content type. Returns the
// number of bundles applied.
func (a *Applier) Apply(ctx context.Context, content string) (int, error) {
	data, err := a.obj.Get(ctx, indexKey(content))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, errors.Wrapf(errors.ErrNoSyncIndex, "content %q", content)
		}
		return 0, err
	}
	entries, err := decodeIndex(data)
	if err != nil {
		return 0, errors.Wrapf(err, "decode index of %s", content)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	cur, err := a.cursors.Get(content)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, e := range entries {
		if e.DateID <= cur.LastDateID {
			continue
		}
		if err := a.applyBundle(ctx, content, e, &cur); err != nil {
			return applied, errors.Wrapf(err, "bundle %s/%s", content, e.DateID)
		}
		cur.LastDateID = e.DateID
		cur.Rows = e.Row1
		if err := a.cursors.Put(content, cur); err != nil {
			return applied, err
		}
		applied++
		metrics.BundlesApplied.WithLabelValues(content).Inc()
		log.Info("bundle applied",
			"content", content, "date_id", e.DateID, "rows", e.Rows())
	}

	if rows, err := a.store.Rows(content, types.TimeMsid); err == nil {
		metrics.SyncRowLag.WithLabelValues(content).Set(float64(entries[len(entries)-1].Row1 - rows))
	}
	return applied, nil
}

// applyBundle replays one bundle. Every step tolerates rerunning after
// a crash partway through the previous attempt.
func (a *Applier) applyBundle(ctx context.Context, content string, e *catalog.IndexEntry, cur *Cursor) error {
	chData, err := a.obj.Get(ctx, bundleKey(content, e.DateID, fileChannels))
	if err != nil {
		return err
	}
	channels, err := decodeChannels(content, chData)
	if err != nil {
		return err
	}
	if err := a.ensureChannels(content, channels); err != nil {
		return err
	}

	if err := a.applyFull(ctx, content, e, channels); err != nil {
		return err
	}

	// Records land even when every row was already present. A crash
	// between the row appends and this point must not leave the
	// bundle's records missing from the replica catalog forever.
	if err := a.applyRecords(ctx, content, e); err != nil {
		return err
	}

	for _, res := range types.StatResolutions() {
		if err := a.applyStats(ctx, content, e, res, channels, cur); err != nil {
			return err
		}
	}
	return nil
}

// ensureChannels creates the replica channels a bundle declares that do
// not exist yet. A dtype or width disagreement on an existing channel
// is fatal.
func (a *Applier) ensureChannels(content string, channels map[string]types.Channel) error {
	existing, err := a.store.Channels(content)
	if err != nil && !errors.Is(err, errors.ErrNoCatalog) {
		return err
	}
	have := make(map[string]types.Channel, len(existing))
	for _, ch := range existing {
		have[ch.Msid] = ch
	}

	for _, msid := range sortedMsids(channels) {
		ch := channels[msid]
		got, ok := have[msid]
		if !ok {
			if err := a.store.CreateChannel(ch); err != nil {
				return err
			}
			continue
		}
		if got.DType != ch.DType || got.Width != ch.Width {
			return errors.Wrapf(errors.ErrDTypeMismatch,
				"channel %s/%s: replica has %s width %d, bundle declares %s width %d",
				content, msid, got.DType, got.Width, ch.DType, ch.Width)
		}
	}
	return nil
}

// applyFull appends the bundle's full-resolution rows, truncating the
// overlap the replica already holds.
func (a *Applier) applyFull(ctx context.Context, content string, e *catalog.IndexEntry, channels map[string]types.Channel) error {
	local, err := a.store.Rows(content, types.TimeMsid)
	if err != nil {
		return err
	}

	n := e.Row1 - e.Row0
	skip := local - e.Row0
	if skip < 0 {
		skip = 0
	}
	if skip >= n {
		return nil
	}
	if e.Row0+skip != local {
		return &errors.DiscontinuityError{
			Content:    content,
			Resolution: "full",
			WantRow:    local,
			GotRow:     e.Row0 + skip,
		}
	}

	data, err := a.obj.Get(ctx, bundleKey(content, e.DateID, fileFull))
	if err != nil {
		return err
	}
	cols, err := decodeFull(data, channels, e.Row0, e.Row1)
	if err != nil {
		return err
	}
	for msid := range channels {
		if _, ok := cols[msid]; !ok {
			return errors.Wrapf(errors.ErrCorrupt, "channel %s missing from payload", msid)
		}
	}

	times := cols[types.TimeMsid]
	if times == nil {
		return errors.Wrapf(errors.ErrCorrupt, "payload has no %s channel", types.TimeMsid)
	}
	firstNew, _ := times.Values.Float64At(int(skip))
	if err := a.supersede(content, local, firstNew); err != nil {
		return err
	}

	// The timestamp channel is appended last and acts as the commit
	// marker: a rerun after a torn apply still sees the old row count
	// and replays the tail of every channel that missed it.
	for _, msid := range appendOrder(channels) {
		col := cols[msid]
		rows, err := a.store.Rows(content, msid)
		if err != nil {
			return err
		}
		switch rows {
		case local:
			vals := col.Values.Slice(int(skip), int(n))
			if err := a.store.Append(content, msid, vals, col.Quality[skip:]); err != nil {
				return errors.Wrapf(err, "append %s", msid)
			}
		case local + (n - skip):
			// landed before the previous attempt tore
		default:
			return errors.Wrapf(errors.ErrCorrupt,
				"channel %s/%s has %d rows, expected %d or %d",
				content, msid, rows, local, local+(n-skip))
		}
	}
	return nil
}

// supersede flags existing rows whose timestamps a bundle re-delivers.
// Incoming rows win; superseded rows are marked bad on the timestamp
// channel, never deleted. A bad timestamp poisons its row for every
// channel, so the sibling quality files are left alone.
func (a *Applier) supersede(content string, local int64, firstNew float64) error {
	if local == 0 {
		return nil
	}

	var probeErr error
	row := int64(sort.Search(int(local), func(i int) bool {
		if probeErr != nil {
			return true
		}
		vals, _, err := a.store.ReadColumn(content, types.TimeMsid, int64(i), int64(i)+1)
		if err != nil {
			probeErr = err
			return true
		}
		t, _ := vals.Float64At(0)
		return t >= firstNew
	}))
	if probeErr != nil {
		return probeErr
	}
	if row >= local {
		return nil
	}

	qual, err := a.store.Quality(content, types.TimeMsid)
	if err != nil {
		return err
	}
	if err := qual.MarkBadFrom(row); err != nil {
		return err
	}
	log.Warn("superseded rows marked bad",
		"content", content, "from_row", row, "rows", local-row)
	return nil
}

// applyRecords inserts the bundle's catalog records. Records already
// present are left alone.
func (a *Applier) applyRecords(ctx context.Context, content string, e *catalog.IndexEntry) error {
	data, err := a.obj.Get(ctx, bundleKey(content, e.DateID, fileRecords))
	if err != nil {
		return err
	}
	recs, err := decodeRecords(data)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if _, err := a.cat.InsertRecordIfAbsent(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// applyStats appends one resolution's statistics rows, truncating per
// channel the rows the replica's statistics files already hold.
func (a *Applier) applyStats(ctx context.Context, content string, e *catalog.IndexEntry, res types.Resolution, channels map[string]types.Channel, cur *Cursor) error {
	data, err := a.obj.Get(ctx, bundleKey(content, e.DateID, statsFileName(res)))
	if err != nil {
		return err
	}
	slices, err := decodeStats(data, channels)
	if err != nil {
		return err
	}

	msids := make([]string, 0, len(slices))
	for msid := range slices {
		msids = append(msids, msid)
	}
	sort.Strings(msids)

	for _, msid := range msids {
		slice := slices[msid]
		states := statStates(slice)

		sf, err := a.store.OpenOrCreateStats(res, channels[msid], states)
		if err != nil {
			return err
		}
		if len(states) > 0 {
			if err := sf.AddStates(states); err != nil {
				return err
			}
		}

		localRows := sf.Rows()
		nRows := int64(len(slice.Rows))
		skip := localRows - slice.Row0
		if skip < 0 {
			skip = 0
		}
		if skip >= nRows {
			cur.setStatRow(res, msid, slice.Row0+nRows)
			continue
		}
		if slice.Row0+skip != localRows {
			return &errors.DiscontinuityError{
				Content:    content,
				Channel:    msid,
				Resolution: res.String(),
				WantRow:    localRows,
				GotRow:     slice.Row0 + skip,
			}
		}

		block, err := statBlockFromRows(sf.Layout(), slice.Rows[skip:])
		if err != nil {
			return errors.Wrapf(err, "channel %s", msid)
		}
		if err := sf.Append(block); err != nil {
			return errors.Wrapf(err, "append %s statistics of %s", res, msid)
		}
		metrics.StatsRowsAppended.WithLabelValues(content, res.String()).Add(float64(block.Len()))
		cur.setStatRow(res, msid, slice.Row0+nRows)
	}
	return nil
}

// sortedMsids returns the channel names of a bundle in sorted order.
func sortedMsids(channels map[string]types.Channel) []string {
	msids := make([]string, 0, len(channels))
	for msid := range channels {
		msids = append(msids, msid)
	}
	sort.Strings(msids)
	return msids
}

// appendOrder returns the bundle's channels with the timestamp channel
// moved to the end, so it commits the apply.
func appendOrder(channels map[string]types.Channel) []string {
	msids := make([]string, 0, len(channels))
	for msid := range channels {
		if msid != types.TimeMsid {
			msids = append(msids, msid)
		}
	}
	sort.Strings(msids)
	if _, ok := channels[types.TimeMsid]; ok {
		msids = append(msids, types.TimeMsid)
	}
	return msids
}
