package remote

import (
	"context"

	"github.com/sattrk/telarc/internal/archive/fetch"
	"github.com/sattrk/telarc/internal/archive/interpolate"
	"github.com/sattrk/telarc/internal/archive/types"
)

// Fetcher answers queries through an Executor, giving a remote archive
// the query surface of a local engine. It satisfies derived.Fetcher,
// so derived-channel handlers compute against either side unchanged.
type Fetcher struct {
	exec Executor
}

// NewFetcher wraps an executor.
func NewFetcher(exec Executor) *Fetcher {
	return &Fetcher{exec: exec}
}

// Fetch mirrors fetch.Engine.Fetch.
func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) (*types.TimeSeries, error) {
	var reply wireSeries
	if err := f.exec.Execute(ctx, FnFetch, fetchArgsFrom(req), &reply); err != nil {
		return nil, err
	}
	return unpackSeries(&reply)
}

// FetchFull mirrors fetch.Engine.FetchFull: full-resolution samples
// only.
func (f *Fetcher) FetchFull(ctx context.Context, msid string, start, stop float64, filterBad bool) (*types.FullSeries, error) {
	ts, err := f.Fetch(ctx, fetch.Request{
		Msid:      msid,
		Start:     start,
		Stop:      stop,
		FilterBad: filterBad,
	})
	if err != nil {
		return nil, err
	}
	return ts.Full, nil
}

// FetchMany mirrors fetch.Engine.FetchMany. Glob patterns expand on
// the server, against its channel table.
func (f *Fetcher) FetchMany(ctx context.Context, req fetch.ManyRequest) ([]*types.TimeSeries, error) {
	var reply []*wireSeries
	if err := f.exec.Execute(ctx, FnFetchMany, manyArgsFrom(req), &reply); err != nil {
		return nil, err
	}
	out := make([]*types.TimeSeries, len(reply))
	for i, w := range reply {
		ts, err := unpackSeries(w)
		if err != nil {
			return nil, err
		}
		out[i] = ts
	}
	return out, nil
}

// Interpolate mirrors fetch.Engine.Interpolate.
func (f *Fetcher) Interpolate(ctx context.Context, req fetch.InterpolateRequest) (*interpolate.Aligned, error) {
	var reply wireAligned
	if err := f.exec.Execute(ctx, FnInterpolate, interpolateArgsFrom(req), &reply); err != nil {
		return nil, err
	}
	return unpackAligned(&reply)
}
