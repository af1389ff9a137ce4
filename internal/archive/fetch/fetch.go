// Package fetch answers channel queries against the archive.
//
// A query resolves its name through the derived-channel registry and
// the store registry, brackets the time window through the catalog,
// narrows the bracket on the TIME column and reads only the rows that
// survive. Statistics resolutions skip the catalog entirely: bucket
// indexes address statistics files directly.
package fetch

import (
	"context"
	"io/fs"
	"sort"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/sattrk/telarc/internal/archive/catalog"
	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/interpolate"
	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/derived"
	"github.com/sattrk/telarc/internal/errors"
	"github.com/sattrk/telarc/internal/logging"
	"github.com/sattrk/telarc/internal/metrics"
)

var log = logging.Component("fetch")

// Config tunes the query engine. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// MaxGlobMatches caps how many channels one glob pattern may expand
	// to. Zero or negative disables the cap.
	MaxGlobMatches int

	// TimeCacheTTL and TimeCacheSize bound the TIME column cache.
	TimeCacheTTL  time.Duration
	TimeCacheSize int

	// RecentEpsilon is added to the archive tail timestamp before
	// querying the recent source, so the merge does not re-read an
	// instant the archive already covers.
	RecentEpsilon float64

	// SteppedOn lists channels needing the one-sample bad-run
	// extension.
	SteppedOn []string

	// Workers bounds concurrent channel fetches in FetchMany.
	Workers int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxGlobMatches: 100,
		TimeCacheTTL:   5 * time.Minute,
		TimeCacheSize:  64,
		RecentEpsilon:  0.0005,
		SteppedOn:      append([]string(nil), DefaultSteppedOn...),
		Workers:        8,
	}
}

// Request describes one channel query over [Start, Stop).
type Request struct {
	Msid      string
	Start     float64
	Stop      float64
	FilterBad bool
	Stat      types.Resolution
}

// Validate reports a malformed request.
func (r Request) Validate() error {
	if r.Msid == "" {
		return errors.NewMissingField("msid")
	}
	if types.IsGlob(r.Msid) {
		return errors.Wrapf(errors.ErrInvalidArgument,
			"%q is a pattern; expand it through FetchMany", r.Msid)
	}
	if r.Stop <= r.Start {
		return errors.Wrapf(errors.ErrInvalidArgument,
			"stop %v is not after start %v", r.Stop, r.Start)
	}
	return nil
}

// ManyRequest describes a multi-channel query. Msids may contain glob
// patterns; each expansion is capped by MaxGlobMatches.
type ManyRequest struct {
	Msids     []string
	Start     float64
	Stop      float64
	FilterBad bool
	Stat      types.Resolution
}

// Validate reports a malformed request.
func (r ManyRequest) Validate() error {
	if len(r.Msids) == 0 {
		return errors.NewMissingField("msids")
	}
	if r.Stop <= r.Start {
		return errors.Wrapf(errors.ErrInvalidArgument,
			"stop %v is not after start %v", r.Stop, r.Start)
	}
	return nil
}

// InterpolateRequest describes a multi-channel fetch-and-resample.
// Start and Stop always bound the fetch; the output grid comes from DT
// or from explicit Times, never both.
type InterpolateRequest struct {
	Msids []string
	Start float64
	Stop  float64

	// DT spaces a regular grid over the channels' common span.
	DT float64

	// Times is an explicit output grid inside the common span.
	Times []float64

	// BadUnion marks a grid row bad for every channel when any channel
	// sampled it from a bad reading. FilterBad then drops rows instead
	// of single samples.
	BadUnion  bool
	FilterBad bool
}

// Engine answers channel queries against the column store, bracketed by
// the catalog and optionally topped up from a recent-data source.
//
// Methods are safe for concurrent use.
type Engine struct {
	store    *colstore.Store
	cat      *catalog.Catalog
	registry *Registry
	derived  *derived.Registry
	recent   RecentSource
	times    *timeCache
	pool     pond.ResultPool[*types.TimeSeries]
	config   Config
	stepped  map[string]bool
}

// NewEngine builds an engine over a store and its catalog. The derived
// registry and the recent source may be nil, which disables those
// features.
func NewEngine(store *colstore.Store, cat *catalog.Catalog, dreg *derived.Registry, recent RecentSource, cfg Config) (*Engine, error) {
	registry, err := NewRegistry(store)
	if err != nil {
		return nil, err
	}

	stepped := make(map[string]bool, len(cfg.SteppedOn))
	for _, m := range cfg.SteppedOn {
		stepped[types.NormalizeMsid(m)] = true
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &Engine{
		store:    store,
		cat:      cat,
		registry: registry,
		derived:  dreg,
		recent:   recent,
		times:    newTimeCache(cfg.TimeCacheTTL, cfg.TimeCacheSize),
		pool:     pond.NewResultPool[*types.TimeSeries](workers),
		config:   cfg,
		stepped:  stepped,
	}, nil
}

// Registry exposes the channel table, for listing endpoints.
func (e *Engine) Registry() *Registry { return e.registry }

// Close releases the cache janitor and the worker pool. The store and
// catalog belong to the caller.
func (e *Engine) Close() {
	e.times.stop()
	e.pool.StopAndWait()
}

// Fetch returns one channel's samples, or its statistics rows when a
// statistics resolution is requested.
func (e *Engine) Fetch(ctx context.Context, req Request) (*types.TimeSeries, error) {
	began := time.Now()
	ts, err := e.fetch(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FetchesTotal.WithLabelValues(req.Stat.String(), outcome).Inc()
	metrics.FetchDuration.WithLabelValues(req.Stat.String()).Observe(time.Since(began).Seconds())
	return ts, err
}

func (e *Engine) fetch(ctx context.Context, req Request) (*types.TimeSeries, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	name := types.NormalizeMsid(req.Msid)

	if e.derived != nil {
		if h, ok := e.derived.Lookup(name); ok {
			if req.Stat.IsStat() {
				return nil, errors.Wrapf(errors.ErrInvalidArgument,
					"derived channel %s has no statistics", name)
			}
			full, err := h(ctx, e, name, req.Start, req.Stop)
			if err != nil {
				return nil, err
			}
			if req.FilterBad {
				full = dropBadSeries(full)
			}
			return &types.TimeSeries{Full: full}, nil
		}
	}

	ch, err := e.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if req.Stat.IsStat() {
		stats, err := e.fetchStats(ctx, ch, req)
		if err != nil {
			return nil, err
		}
		return &types.TimeSeries{Stats: stats}, nil
	}
	return e.fetchFull(ctx, ch, req)
}

// FetchFull implements derived.Fetcher: full-resolution samples only.
func (e *Engine) FetchFull(ctx context.Context, msid string, start, stop float64, filterBad bool) (*types.FullSeries, error) {
	ts, err := e.fetch(ctx, Request{Msid: msid, Start: start, Stop: stop, FilterBad: filterBad})
	if err != nil {
		return nil, err
	}
	return ts.Full, nil
}

// FetchMany fetches several channels concurrently. Results come back in
// expansion order; any channel failing fails the whole call.
func (e *Engine) FetchMany(ctx context.Context, req ManyRequest) ([]*types.TimeSeries, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	names, err := e.expand(req.Msids)
	if err != nil {
		return nil, err
	}

	group := e.pool.NewGroup()
	for _, name := range names {
		group.SubmitErr(func() (*types.TimeSeries, error) {
			return e.Fetch(ctx, Request{
				Msid:      name,
				Start:     req.Start,
				Stop:      req.Stop,
				FilterBad: req.FilterBad,
				Stat:      req.Stat,
			})
		})
	}
	return group.Wait()
}

// expand resolves names and glob patterns to a flat channel list,
// dropping duplicates while keeping first-appearance order. Names
// without pattern characters pass through unresolved, so derived
// channels survive expansion.
func (e *Engine) expand(msids []string) ([]string, error) {
	seen := make(map[string]bool, len(msids))
	var out []string
	for _, raw := range msids {
		name := types.NormalizeMsid(raw)
		if !types.IsGlob(name) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
			continue
		}
		matches, err := e.registry.Glob(name, e.config.MaxGlobMatches)
		if err != nil {
			return nil, err
		}
		for _, ch := range matches {
			if !seen[ch.Msid] {
				seen[ch.Msid] = true
				out = append(out, ch.Msid)
			}
		}
	}
	return out, nil
}

// Interpolate fetches full-resolution samples for several channels and
// resamples them onto a shared grid by nearest-neighbor selection.
func (e *Engine) Interpolate(ctx context.Context, req InterpolateRequest) (*interpolate.Aligned, error) {
	if len(req.Times) > 0 && req.DT != 0 {
		return nil, errors.Wrap(errors.ErrInvalidArgument,
			"dt and explicit times cannot be combined")
	}

	results, err := e.FetchMany(ctx, ManyRequest{
		Msids: req.Msids,
		Start: req.Start,
		Stop:  req.Stop,
	})
	if err != nil {
		return nil, err
	}

	series := make([]interpolate.Series, len(results))
	for i, ts := range results {
		full := ts.Full
		series[i] = interpolate.Series{
			Msid:    full.Msid,
			Times:   full.Times,
			Vals:    full.Values,
			Quality: full.Quality,
		}
	}

	// Per-channel filtering happens before the grid is resolved, so the
	// common span reflects the samples that will actually be selectable.
	if req.FilterBad && !req.BadUnion {
		for i := range series {
			series[i] = interpolate.DropBad(series[i])
		}
	}

	greq := interpolate.Request{DT: req.DT, Times: req.Times}
	if len(req.Times) == 0 {
		greq.Start, greq.Stop = req.Start, req.Stop
	}
	grid, err := interpolate.ResolveGrid(greq, series)
	if err != nil {
		return nil, err
	}
	return interpolate.Interpolate(series, grid, req.BadUnion, req.FilterBad)
}

// ================================================================
// Full resolution
// ================================================================

func (e *Engine) fetchFull(ctx context.Context, ch types.Channel, req Request) (*types.TimeSeries, error) {
	rng, err := e.cat.Locate(ctx, ch.Content, req.Start, req.Stop)
	if err != nil {
		return nil, err
	}

	full := &types.FullSeries{Msid: ch.Msid, Content: ch.Content}
	ts := &types.TimeSeries{Full: full}

	if !rng.Empty() {
		times, tqual, err := e.loadTimes(ctx, ch.Content, rng)
		if err != nil {
			return nil, err
		}
		i0 := sort.SearchFloat64s(times, req.Start)
		i1 := sort.SearchFloat64s(times, req.Stop)
		if i0 < i1 {
			vals, qual, err := e.store.ReadColumn(ch.Content, ch.Msid,
				rng.Start+int64(i0), rng.Start+int64(i1))
			if err != nil {
				return nil, err
			}
			full.Times = append([]float64(nil), times[i0:i1]...)
			full.Values = vals
			full.Quality = qual
			// A bad timestamp marks a superseded row, which poisons
			// every channel at that position.
			for k := range full.Quality {
				if tqual[i0+k] {
					full.Quality[k] = true
				}
			}
		}
	}
	if full.Times == nil {
		full.Times = []float64{}
		full.Values = types.NewArray(ch.DType, 0)
		full.Quality = []bool{}
	}

	ts.RecentErr = e.mergeRecent(ctx, ch, req, full)

	if e.stepped[ch.Msid] {
		extendBadRuns(full.Quality)
	}
	if req.FilterBad {
		ts.Full = dropBadSeries(full)
	}
	return ts, nil
}

// loadTimes returns the TIME column and its quality for a row bracket,
// through the cache. The returned slices are shared; callers must not
// mutate them.
func (e *Engine) loadTimes(ctx context.Context, content string, rng catalog.RowRange) (types.Float64s, []bool, error) {
	rev, err := e.cat.Revision(ctx, content)
	if err != nil {
		return nil, nil, err
	}
	key := timeKey{content: content, row0: rng.Start, row1: rng.Stop, rev: rev}
	if ent, ok := e.times.get(key); ok {
		return ent.times, ent.qual, nil
	}

	arr, qual, err := e.store.ReadColumn(content, types.TimeMsid, rng.Start, rng.Stop)
	if err != nil {
		return nil, nil, err
	}
	times, ok := arr.(types.Float64s)
	if !ok {
		return nil, nil, errors.Wrapf(errors.ErrDTypeMismatch,
			"%s: TIME column is %s", content, arr.DType())
	}
	e.times.put(key, timeEntry{times: times, qual: qual})
	return times, qual, nil
}

// mergeRecent tops the series up from the recent source. Failures are
// absorbed: the archive result stays usable and the error is reported
// alongside it.
func (e *Engine) mergeRecent(ctx context.Context, ch types.Channel, req Request, full *types.FullSeries) error {
	if e.recent == nil {
		return nil
	}
	from := req.Start
	if _, last, ok := full.TimeRange(); ok {
		from = last + e.config.RecentEpsilon
	}
	if from >= req.Stop {
		return nil
	}

	tail, err := e.recent.Recent(ctx, ch, from, req.Stop)
	if err != nil {
		metrics.RecentMergeFailures.Inc()
		log.Warn("recent source failed, returning archive data only",
			"msid", ch.Msid, "error", err)
		return errors.Wrapf(errors.ErrRecentUnavailable, "%s: %v", ch.Msid, err)
	}
	if tail == nil || tail.Len() == 0 {
		return nil
	}

	// Keep the merged series strictly ascending even if the source
	// ignored the window.
	keepFrom := 0
	if n := len(full.Times); n > 0 {
		last := full.Times[n-1]
		keepFrom = sort.Search(tail.Len(), func(i int) bool { return tail.Times[i] > last })
	}
	if keepFrom == tail.Len() {
		return nil
	}

	vals, err := full.Values.Append(tail.Values.Slice(keepFrom, tail.Len()))
	if err != nil {
		metrics.RecentMergeFailures.Inc()
		return errors.Wrapf(errors.ErrRecentUnavailable, "%s: %v", ch.Msid, err)
	}
	full.Values = vals
	full.Times = append(full.Times, tail.Times[keepFrom:]...)
	tq := tail.Quality
	if tq == nil {
		tq = make([]bool, tail.Len())
	}
	full.Quality = append(full.Quality, tq[keepFrom:]...)
	return nil
}

// dropBadSeries removes rows whose quality flag is set, in lock-step
// across every column.
func dropBadSeries(full *types.FullSeries) *types.FullSeries {
	bad := full.CountBad()
	if bad == 0 {
		return full
	}
	keep := make([]bool, len(full.Quality))
	for i, q := range full.Quality {
		keep[i] = !q
	}

	out := &types.FullSeries{
		Msid:    full.Msid,
		Content: full.Content,
		Times:   make([]float64, 0, len(full.Times)-bad),
	}
	for i, k := range keep {
		if k {
			out.Times = append(out.Times, full.Times[i])
		}
	}
	out.Values = full.Values.Filter(keep)
	out.Quality = make([]bool, len(out.Times))
	return out
}

// ================================================================
// Statistics resolutions
// ================================================================

func (e *Engine) fetchStats(ctx context.Context, ch types.Channel, req Request) (*types.StatsSeries, error) {
	res := req.Stat

	sf, err := e.store.Stats(res, ch.Content, ch.Msid)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// The aggregation pass has not reached this channel yet.
			return emptyStats(ch, res), nil
		}
		return nil, err
	}

	// The bucket containing Stop is included: its rows summarize
	// samples inside the window.
	idx0 := res.BucketIndex(req.Start)
	idx1 := res.BucketIndex(req.Stop) + 1
	block, err := sf.ReadIndexRange(idx0, idx1)
	if err != nil {
		return nil, err
	}
	return statsFromBlock(ch, sf.Layout(), block), nil
}

func emptyStats(ch types.Channel, res types.Resolution) *types.StatsSeries {
	s := &types.StatsSeries{
		Msid:    ch.Msid,
		Content: ch.Content,
		Res:     res,
		Index:   []int64{},
		Times:   []float64{},
		N:       []int32{},
		Val:     types.NewArray(ch.DType, 0),
	}
	if ch.DType.IsNumeric() {
		s.Min = types.NewArray(ch.DType, 0)
		s.Max = types.NewArray(ch.DType, 0)
		s.Mean = []float64{}
		if res.HasExtras() {
			s.Std = []float64{}
			s.Pcts = &types.Percentiles{
				P01: types.NewArray(ch.DType, 0),
				P05: types.NewArray(ch.DType, 0),
				P16: types.NewArray(ch.DType, 0),
				P50: types.NewArray(ch.DType, 0),
				P84: types.NewArray(ch.DType, 0),
				P95: types.NewArray(ch.DType, 0),
				P99: types.NewArray(ch.DType, 0),
			}
		}
	} else {
		s.States = map[string][]int32{}
	}
	return s
}

func statsFromBlock(ch types.Channel, layout colstore.Layout, b *colstore.StatsBlock) *types.StatsSeries {
	n := b.Len()
	s := &types.StatsSeries{
		Msid:    ch.Msid,
		Content: ch.Content,
		Res:     layout.Res,
		Index:   b.Index,
		Times:   make([]float64, n),
		N:       b.N,
		Val:     b.Val,
	}
	for i, idx := range b.Index {
		s.Times[i] = layout.Res.BucketMid(idx)
	}
	if layout.Numeric() {
		s.Min = b.Min
		s.Max = b.Max
		s.Mean = widen(b.Mean)
		if layout.Res.HasExtras() {
			s.Std = widen(b.Std)
			s.Pcts = &types.Percentiles{
				P01: b.P01, P05: b.P05, P16: b.P16, P50: b.P50,
				P84: b.P84, P95: b.P95, P99: b.P99,
			}
		}
	} else {
		s.States = b.Counts
	}
	return s
}

func widen(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}
