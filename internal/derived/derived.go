// Package derived computes virtual channels on the fly from archived
// ones. A derived channel never exists on disk: a name matching a
// registered pattern resolves to a handler that fetches the underlying
// channels and transforms them at query time.
package derived

import (
	"context"
	"regexp"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// Fetcher pulls underlying full-resolution data for a handler. The
// query engine satisfies this; handlers stay free of engine internals.
type Fetcher interface {
	FetchFull(ctx context.Context, msid string, start, stop float64, filterBad bool) (*types.FullSeries, error)
}

// Handler computes one derived channel over [start, stop).
type Handler func(ctx context.Context, f Fetcher, msid string, start, stop float64) (*types.FullSeries, error)

type entry struct {
	re      *regexp.Regexp
	handler Handler
}

// Registry maps name patterns to handlers. Registration happens during
// startup; lookups are read-only afterwards.
type Registry struct {
	entries []entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a handler for names matching the anchored pattern.
// Patterns are matched in registration order; the first match wins.
func (r *Registry) Register(pattern string, h Handler) error {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidArgument, "derived pattern %q: %v", pattern, err)
	}
	r.entries = append(r.entries, entry{re: re, handler: h})
	return nil
}

// Lookup returns the handler for a canonical channel name, if any.
func (r *Registry) Lookup(name string) (Handler, bool) {
	for _, e := range r.entries {
		if e.re.MatchString(name) {
			return e.handler, true
		}
	}
	return nil, false
}

// Default returns the standard derived-channel table.
func Default() *Registry {
	r := NewRegistry()
	r.Register(`RATE_[A-Z0-9_]+`, Rate)
	return r
}

// Rate computes the first difference of the underlying numeric channel
// per second, stamped at interval midpoints. RATE_TEPHIN is the rate of
// TEPHIN in units per second; a window of n samples yields n-1 rates.
// Pairs with a zero time gap (duplicate timestamps) produce no sample.
func Rate(ctx context.Context, f Fetcher, msid string, start, stop float64) (*types.FullSeries, error) {
	const prefix = "RATE_"
	base := msid[len(prefix):]

	src, err := f.FetchFull(ctx, base, start, stop, true)
	if err != nil {
		return nil, err
	}
	if src.Len() > 0 {
		if _, ok := src.Values.Float64At(0); !ok {
			return nil, errors.Wrapf(errors.ErrInvalidArgument,
				"%s: cannot take the rate of state channel %s", msid, base)
		}
	}

	n := src.Len()
	times := make([]float64, 0, max(n-1, 0))
	vals := make(types.Float64s, 0, max(n-1, 0))
	for i := 0; i+1 < n; i++ {
		gap := src.Times[i+1] - src.Times[i]
		if gap <= 0 {
			continue
		}
		v0, _ := src.Values.Float64At(i)
		v1, _ := src.Values.Float64At(i + 1)
		times = append(times, src.Times[i]+gap/2)
		vals = append(vals, (v1-v0)/gap)
	}

	return &types.FullSeries{
		Msid:    msid,
		Content: src.Content,
		Times:   times,
		Values:  vals,
		Quality: make([]bool, len(times)),
	}, nil
}
