// Package sync replicates an archive incrementally through an object
// store. The publisher cuts unpublished catalog records into bundles of
// Parquet objects; the applier replays them onto a replica, idempotent
// under re-application and fatal on any row discontinuity.
package sync

import (
	"context"
	"io/fs"
	stdsync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/sattrk/telarc/internal/archive/catalog"
	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
	"github.com/sattrk/telarc/internal/logging"
	"github.com/sattrk/telarc/internal/metrics"
	"github.com/sattrk/telarc/internal/objstore"
)

var log = logging.Component("sync")

// PublisherConfig bounds the bundles a publisher cuts.
type PublisherConfig struct {
	// MaxBundleSpan caps the file-time span of one bundle.
	MaxBundleSpan time.Duration

	// MaxBundleRows caps the rows of one bundle. A single oversized
	// record still forms its own bundle; records are never split.
	MaxBundleRows int64

	// Lag withholds records younger than this, leaving ingestion time
	// to settle before a batch is frozen into a bundle.
	Lag time.Duration
}

// DefaultPublisherConfig returns the production publisher settings.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MaxBundleSpan: 24 * time.Hour,
		MaxBundleRows: 1_000_000,
		Lag:           5 * time.Minute,
	}
}

// Publisher cuts unpublished catalog records into bundles and writes
// them to an object store. Publishing never mutates the archive; the
// sync index table is the only thing it appends to.
type Publisher struct {
	store *colstore.Store
	cat   *catalog.Catalog
	obj   objstore.Store
	clock clockwork.Clock
	cfg   PublisherConfig
}

// NewPublisher returns a publisher over the given archive and object
// store. A nil clock means wall time.
func NewPublisher(store *colstore.Store, cat *catalog.Catalog, obj objstore.Store, clock clockwork.Clock, cfg PublisherConfig) *Publisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	def := DefaultPublisherConfig()
	if cfg.MaxBundleSpan <= 0 {
		cfg.MaxBundleSpan = def.MaxBundleSpan
	}
	if cfg.MaxBundleRows <= 0 {
		cfg.MaxBundleRows = def.MaxBundleRows
	}
	if cfg.Lag < 0 {
		cfg.Lag = 0
	}
	return &Publisher{store: store, cat: cat, obj: obj, clock: clock, cfg: cfg}
}

// PublishAll publishes pending bundles for every content type in the
// catalog, fanning out across content types. Returns the number of
// bundles published.
func (p *Publisher) PublishAll(ctx context.Context, workers int) (int, error) {
	contents, err := p.cat.Contents(ctx)
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
			n, err := p.Publish(ctx, content)
			if err != nil {
				return errors.Wrapf(err, "publish %s", content)
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	return total, g.Wait()
}

// Publish publishes the pending bundles of one content type and
// rewrites its index object. Returns the number of bundles published.
func (p *Publisher) Publish(ctx context.Context, content string) (int, error) {
	last, err := p.cat.GetLastIndexEntry(ctx, content)
	if err != nil {
		return 0, err
	}
	fromRow := int64(0)
	if last != nil {
		fromRow = last.Row1
	}

	recs, err := p.cat.GetRecordsFromRow(ctx, content, fromRow)
	if err != nil {
		return 0, err
	}

	// Records are filetime-ordered, so the freshness cut keeps a
	// row-contiguous prefix.
	cutoff := p.clock.Now().Add(-p.cfg.Lag).Unix()
	for i, rec := range recs {
		if rec.Filetime > cutoff {
			recs = recs[:i]
			break
		}
	}
	if len(recs) == 0 {
		return 0, p.publishIndex(ctx, content)
	}

	// A bundle that would break the index chain blocks publishing
	// outright; a broken index cannot be applied by any replica.
	if recs[0].Rowstart != fromRow {
		return 0, &errors.IntegrityError{
			Content:   content,
			PrevFile:  "sync index",
			NextFile:  recs[0].Filename,
			PrevStop:  fromRow,
			NextStart: recs[0].Rowstart,
			Reason:    "first unpublished record does not continue the sync index",
		}
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Rowstart != recs[i-1].Rowstop {
			return 0, &errors.IntegrityError{
				Content:   content,
				PrevFile:  recs[i-1].Filename,
				NextFile:  recs[i].Filename,
				PrevStop:  recs[i-1].Rowstop,
				NextStart: recs[i].Rowstart,
				Reason:    "records not row-contiguous",
			}
		}
	}

	published := 0
	for _, batch := range p.partition(recs) {
		entry, err := p.publishBundle(ctx, content, batch, last)
		if err != nil {
			return published, err
		}
		last = entry
		published++
		metrics.BundlesPublished.WithLabelValues(content).Inc()
		log.Info("bundle published",
			"content", content, "date_id", entry.DateID,
			"rows", entry.Rows(), "records", len(batch))
	}
	return published, p.publishIndex(ctx, content)
}

// partition cuts a contiguous run of records into bundle-sized batches.
func (p *Publisher) partition(recs []*catalog.Record) [][]*catalog.Record {
	maxSpan := int64(p.cfg.MaxBundleSpan / time.Second)

	var batches [][]*catalog.Record
	var cur []*catalog.Record
	for _, rec := range recs {
		if len(cur) > 0 {
			span := rec.Filetime - cur[0].Filetime
			rows := rec.Rowstop - cur[0].Rowstart
			if span >= maxSpan || rows > p.cfg.MaxBundleRows {
				batches = append(batches, cur)
				cur = nil
			}
		}
		cur = append(cur, rec)
	}
	return append(batches, cur)
}

// publishBundle writes one bundle's objects and records it in the sync
// index. The index insert is the commit point: a failure before it
// leaves orphaned objects that the next successful publish of the same
// date_id simply overwrites.
func (p *Publisher) publishBundle(ctx context.Context, content string, recs []*catalog.Record, prev *catalog.IndexEntry) (*catalog.IndexEntry, error) {
	first, final := recs[0], recs[len(recs)-1]
	entry := &catalog.IndexEntry{
		DateID:    time.Unix(first.Filetime, 0).UTC().Format(dateIDLayout),
		Filetime0: first.Filetime,
		Filetime1: final.Filetime,
		Row0:      first.Rowstart,
		Row1:      final.Rowstop,
	}

	channels, err := p.store.Channels(content)
	if err != nil {
		return nil, err
	}

	var full []fullRow
	for _, ch := range channels {
		vals, qual, err := p.store.ReadColumn(content, ch.Msid, entry.Row0, entry.Row1)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s/%s", content, ch.Msid)
		}
		full = appendFullRows(full, ch.Msid, entry.Row0, vals, qual)
	}

	payloads := make(map[string][]byte, 5)
	if payloads[fileRecords], err = encodeRecords(recs); err != nil {
		return nil, err
	}
	if payloads[fileChannels], err = encodeChannels(channels); err != nil {
		return nil, err
	}
	if payloads[fileFull], err = encodeRows(full); err != nil {
		return nil, err
	}

	for _, res := range types.StatResolutions() {
		// The low bucket reaches back to the previous bundle's start so
		// buckets aggregated after that bundle shipped are still carried.
		// The applier truncates the overlap.
		low := int64(0)
		if prev != nil {
			low = res.BucketIndex(float64(prev.Filetime0))
		}
		hi := res.BucketIndex(final.Tstop) + 1

		rows, err := p.statRows(content, res, channels, low, hi)
		if err != nil {
			return nil, err
		}
		if payloads[statsFileName(res)], err = encodeRows(rows); err != nil {
			return nil, err
		}
	}

	for name, data := range payloads {
		if err := p.obj.Put(ctx, bundleKey(content, entry.DateID, name), data); err != nil {
			return nil, err
		}
	}

	if err := p.cat.InsertIndexEntry(ctx, content, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// statRows collects every statistics row with a bucket index in
// [lowBucket, hiBucket). Channels the aggregation pass has not reached
// yet are skipped; their rows ship once their statistics exist.
func (p *Publisher) statRows(content string, res types.Resolution, channels []types.Channel, lowBucket, hiBucket int64) ([]statRow, error) {
	var rows []statRow
	for _, ch := range channels {
		if ch.IsTime() {
			continue
		}
		sf, err := p.store.Stats(res, content, ch.Msid)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		row0, err := sf.SearchIndex(lowBucket)
		if err != nil {
			return nil, err
		}
		block, err := sf.ReadIndexRange(lowBucket, hiBucket)
		if err != nil {
			return nil, err
		}
		if block.Len() == 0 {
			continue
		}
		rows = appendStatRows(rows, ch.Msid, sf.Layout(), row0, block)
	}
	return rows, nil
}

// publishIndex rewrites the content type's index object from the sync
// index table. Rewriting every cycle heals an index object lost to a
// crash between the commit point and the previous rewrite.
func (p *Publisher) publishIndex(ctx context.Context, content string) error {
	entries, err := p.cat.GetIndexEntries(ctx, content)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	data, err := encodeIndex(entries)
	if err != nil {
		return err
	}
	return p.obj.Put(ctx, indexKey(content), data)
}
