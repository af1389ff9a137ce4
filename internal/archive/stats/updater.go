package stats

import (
	"context"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sattrk/telarc/internal/archive/catalog"
	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// Updater brings statistics files up to date with the full-resolution
// archive. Only fully elapsed buckets are written, so a row is appended
// exactly once and never revised as more samples arrive.
type Updater struct {
	store *colstore.Store
	cat   *catalog.Catalog
}

// NewUpdater returns an Updater over the given archive.
func NewUpdater(store *colstore.Store, cat *catalog.Catalog) *Updater {
	return &Updater{store: store, cat: cat}
}

// UpdateChannel appends the newly elapsed buckets for one channel at one
// statistics resolution and returns the number of rows appended. It
// resumes after the last bucket already on disk, brackets the raw rows
// through the catalog, and drops bad samples before aggregating. The
// shared timestamp channel has no statistics of its own.
func (u *Updater) UpdateChannel(ctx context.Context, ch types.Channel, res types.Resolution) (int, error) {
	if !res.IsStat() {
		return 0, errors.Wrapf(errors.ErrInvalidArgument, "resolution %s has no statistics", res)
	}
	if ch.IsTime() {
		return 0, nil
	}
	dt := res.DT()

	rows, err := u.store.Rows(ch.Content, types.TimeMsid)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, nil
	}

	// The last raw timestamp bounds the fully elapsed buckets: only
	// indexes strictly below floor(last/dt) can no longer grow.
	tf, err := u.store.Data(ch.Content, types.TimeMsid)
	if err != nil {
		return 0, err
	}
	lastArr, err := tf.Read(rows-1, rows)
	if err != nil {
		return 0, err
	}
	lastRaw, _ := lastArr.Float64At(0)
	bound := int64(math.Floor(lastRaw / dt))

	sf, err := u.store.OpenOrCreateStats(res, ch, nil)
	if err != nil {
		return 0, err
	}
	lastIdx, haveRows, err := sf.LastIndex()
	if err != nil {
		return 0, err
	}

	var tstart float64
	if haveRows {
		if lastIdx+1 >= bound {
			return 0, nil
		}
		tstart = float64(lastIdx+1) * dt
	}
	tstop := float64(bound) * dt
	if tstop <= tstart {
		return 0, nil
	}

	rng, err := u.cat.Locate(ctx, ch.Content, tstart, tstop)
	if err != nil {
		return 0, err
	}

	times, timeQual, err := u.store.ReadColumn(ch.Content, types.TimeMsid, rng.Start, rng.Stop)
	if err != nil {
		return 0, err
	}
	ts, ok := times.(types.Float64s)
	if !ok {
		return 0, errors.Wrapf(errors.ErrDTypeMismatch,
			"%s TIME column is %s", ch.Content, times.DType())
	}

	// The bracket is file-granular; narrow it to [tstart, tstop).
	i0 := sort.SearchFloat64s(ts, tstart)
	i1 := sort.SearchFloat64s(ts, tstop)
	if i0 == i1 {
		return 0, nil
	}

	vals, qual, err := u.store.ReadColumn(ch.Content, ch.Msid, rng.Start+int64(i0), rng.Start+int64(i1))
	if err != nil {
		return 0, err
	}

	// A bad timestamp marks a superseded row, which poisons every
	// channel at that position regardless of its own quality flag.
	keep := make([]bool, i1-i0)
	goodTimes := make([]float64, 0, i1-i0)
	for k := range keep {
		if !qual[k] && !timeQual[i0+k] {
			keep[k] = true
			goodTimes = append(goodTimes, ts[i0+k])
		}
	}
	goodVals := vals.Filter(keep)

	block, observed, err := Compute(ch, res, goodTimes, goodVals)
	if err != nil {
		return 0, err
	}
	if block.Len() == 0 {
		return 0, nil
	}

	if !ch.DType.IsNumeric() {
		// A bucket may carry a state the file has never seen. Widen the
		// layout first, then zero-fill the block to the full state set.
		if err := sf.AddStates(observed); err != nil {
			return 0, err
		}
		expandCounts(block, sf.Layout().States)
	}

	if err := sf.Append(block); err != nil {
		return 0, err
	}
	log.Debug("statistics appended",
		"content", ch.Content, "msid", ch.Msid, "res", res.String(),
		"rows", block.Len(), "first", block.Index[0], "last", block.Index[block.Len()-1])
	return block.Len(), nil
}

// UpdateContent updates every channel of a content type at both
// statistics resolutions, fanning out across channels. workers bounds
// the parallelism; each channel's two resolutions run sequentially.
func (u *Updater) UpdateContent(ctx context.Context, content string, workers int) (int, error) {
	channels, err := u.store.Channels(content)
	if err != nil {
		return 0, err
	}
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	total := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, ch := range channels {
		if ch.IsTime() {
			continue
		}
		g.Go(func() error {
			for _, res := range types.StatResolutions() {
				n, err := u.UpdateChannel(ctx, ch, res)
				if err != nil {
					return errors.Wrapf(err, "update %s %s %s", content, ch.Msid, res)
				}
				mu.Lock()
				total += n
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}
	log.Debug("statistics updated", "content", content, "rows", total)
	return total, nil
}

// UpdateAll updates statistics for every content type in the archive.
func (u *Updater) UpdateAll(ctx context.Context, workers int) (int, error) {
	contents, err := u.store.Contents()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, content := range contents {
		n, err := u.UpdateContent(ctx, content, workers)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// expandCounts widens a block's per-state counts to the full state set,
// zero-filling states the block never saw.
func expandCounts(b *colstore.StatsBlock, states []string) {
	n := b.Len()
	out := make(map[string][]int32, len(states))
	for _, s := range states {
		if col, ok := b.Counts[s]; ok && len(col) == n {
			out[s] = col
		} else {
			out[s] = make([]int32, n)
		}
	}
	b.Counts = out
}
