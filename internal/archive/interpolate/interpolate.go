// Package interpolate aligns channels onto a common time grid by
// monotone nearest-neighbor lookup. Input series are already
// time-ordered, so alignment is a single forward sweep; when a grid
// point is equidistant from two samples the earlier sample wins.
//
// Two bad-value policies exist and are never mixed implicitly.
// Per-channel filtering drops each channel's bad samples before
// alignment, so every channel resamples from its own good data. Union
// filtering aligns first, bad samples included, then marks an output
// index bad in every channel if it is bad in any; callers whose
// channels must be contemporaneous samples of one physical state
// (components of a vector, for instance) opt in to this explicitly.
package interpolate

import (
	"math"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// Series is one channel's full-resolution input to alignment.
type Series struct {
	Msid    string
	Times   []float64
	Vals    types.Array
	Quality []bool // true marks a bad sample; nil means all good
}

// AlignedChannel is one channel resampled onto the common grid.
// SourceTimes records the actual timestamp each output value was
// sampled from, so time-quantization error stays inspectable.
type AlignedChannel struct {
	Msid        string
	Vals        types.Array
	Quality     []bool
	SourceTimes []float64
}

// Aligned is a set of channels resampled onto one common grid.
type Aligned struct {
	Times    []float64
	Channels []AlignedChannel
}

// Request selects the output grid: either explicit Times, or a regular
// DT grid optionally clamped to [Start, Stop). Exactly one form may be
// used; Start and Stop of zero leave the grid bounded by the data alone.
type Request struct {
	DT    float64
	Start float64
	Stop  float64
	Times []float64
}

// Validate checks that exactly one grid form is present and well formed.
func (r Request) Validate() error {
	if len(r.Times) > 0 {
		if r.DT != 0 || r.Start != 0 || r.Stop != 0 {
			return errors.Wrap(errors.ErrInvalidArgument,
				"explicit times cannot be combined with dt/start/stop")
		}
		for i := 1; i < len(r.Times); i++ {
			if r.Times[i] < r.Times[i-1] {
				return errors.Wrap(errors.ErrInvalidArgument, "explicit times must ascend")
			}
		}
		return nil
	}
	if r.DT <= 0 {
		return errors.Wrap(errors.ErrInvalidArgument, "dt must be positive")
	}
	if r.Stop != 0 && r.Stop <= r.Start {
		return errors.Wrap(errors.ErrInvalidArgument, "stop must be after start")
	}
	return nil
}

// Grid returns the half-open regular grid start + i*dt for i while the
// value stays below stop. Each point is computed by multiplication, not
// repeated addition, so rounding error stays at one ULP over decade-long
// spans instead of accumulating per step.
func Grid(start, stop, dt float64) []float64 {
	if dt <= 0 || stop <= start {
		return nil
	}
	out := make([]float64, 0, int(math.Ceil((stop-start)/dt)))
	for i := 0; ; i++ {
		t := start + float64(i)*dt
		if t >= stop {
			break
		}
		out = append(out, t)
	}
	return out
}

// ResolveGrid returns the concrete output grid for a request over the
// given channels. A DT grid spans the intersection of the channels' time
// ranges clamped to the request window; explicit times must already lie
// inside that intersection.
func ResolveGrid(req Request, series []Series) ([]float64, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidArgument, "no channels to resample")
	}

	var lo, hi float64
	for i, s := range series {
		if len(s.Times) == 0 {
			return nil, errors.Wrapf(errors.ErrNoData, "channel %s has no samples to resample", s.Msid)
		}
		first, last := s.Times[0], s.Times[len(s.Times)-1]
		if i == 0 || first > lo {
			lo = first
		}
		if i == 0 || last < hi {
			hi = last
		}
	}

	if len(req.Times) > 0 {
		if req.Times[0] < lo || req.Times[len(req.Times)-1] > hi {
			return nil, errors.Wrapf(errors.ErrInvalidArgument,
				"explicit times [%g, %g] outside the common span [%g, %g]",
				req.Times[0], req.Times[len(req.Times)-1], lo, hi)
		}
		return req.Times, nil
	}

	start := lo
	if req.Start > start {
		start = req.Start
	}
	stop := hi
	if req.Stop != 0 && req.Stop < stop {
		stop = req.Stop
	}
	g := Grid(start, stop, req.DT)
	if len(g) == 0 {
		return nil, errors.Wrapf(errors.ErrNoData, "no grid points in [%g, %g)", start, stop)
	}
	return g, nil
}

// Align maps each grid point to the index of the nearest sample time.
// Both slices must ascend and times must be non-empty. Equidistant
// samples resolve to the earlier one.
func Align(grid, times []float64) []int {
	idx := make([]int, len(grid))
	j := 0
	for i, g := range grid {
		for j+1 < len(times) && math.Abs(times[j+1]-g) < math.Abs(times[j]-g) {
			j++
		}
		idx[i] = j
	}
	return idx
}

// DropBad returns the series with bad samples removed and quality reset.
func DropBad(s Series) Series {
	if s.Quality == nil {
		return s
	}
	good := 0
	keep := make([]bool, len(s.Quality))
	for i, bad := range s.Quality {
		keep[i] = !bad
		if !bad {
			good++
		}
	}
	if good == len(s.Times) {
		return s
	}
	nt := make([]float64, 0, good)
	for i, k := range keep {
		if k {
			nt = append(nt, s.Times[i])
		}
	}
	return Series{Msid: s.Msid, Times: nt, Vals: s.Vals.Filter(keep), Quality: make([]bool, good)}
}

// Interpolate resamples the channels onto the grid. With badUnion false
// and filterBad true, bad samples are dropped per channel before
// alignment. With badUnion true, channels align bad samples included and
// every output index bad in any channel is marked bad in all; filterBad
// then drops those grid rows instead of just marking them.
func Interpolate(series []Series, grid []float64, badUnion, filterBad bool) (*Aligned, error) {
	work := series
	if !badUnion && filterBad {
		work = make([]Series, len(series))
		for i, s := range series {
			work[i] = DropBad(s)
		}
	}

	out := &Aligned{
		Times:    grid,
		Channels: make([]AlignedChannel, len(work)),
	}
	for i, s := range work {
		if len(s.Times) == 0 {
			return nil, errors.Wrapf(errors.ErrNoData, "channel %s has no good samples to resample", s.Msid)
		}
		idx := Align(grid, s.Times)
		ac := AlignedChannel{
			Msid:        s.Msid,
			Vals:        s.Vals.Take(idx),
			Quality:     make([]bool, len(idx)),
			SourceTimes: make([]float64, len(idx)),
		}
		for k, j := range idx {
			ac.SourceTimes[k] = s.Times[j]
			if s.Quality != nil {
				ac.Quality[k] = s.Quality[j]
			}
		}
		out.Channels[i] = ac
	}

	if badUnion {
		bad := make([]bool, len(grid))
		for _, ch := range out.Channels {
			for k, b := range ch.Quality {
				if b {
					bad[k] = true
				}
			}
		}
		for _, ch := range out.Channels {
			copy(ch.Quality, bad)
		}
		if filterBad {
			keep := make([]bool, len(bad))
			for k, b := range bad {
				keep[k] = !b
			}
			out = out.filter(keep)
		}
	}
	return out, nil
}

// filter returns the aligned set with only the kept grid rows.
func (a *Aligned) filter(keep []bool) *Aligned {
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}
	out := &Aligned{
		Times:    make([]float64, 0, n),
		Channels: make([]AlignedChannel, len(a.Channels)),
	}
	for i, t := range a.Times {
		if keep[i] {
			out.Times = append(out.Times, t)
		}
	}
	for ci, ch := range a.Channels {
		nc := AlignedChannel{
			Msid:        ch.Msid,
			Vals:        ch.Vals.Filter(keep),
			Quality:     make([]bool, 0, n),
			SourceTimes: make([]float64, 0, n),
		}
		for i := range a.Times {
			if keep[i] {
				nc.Quality = append(nc.Quality, ch.Quality[i])
				nc.SourceTimes = append(nc.SourceTimes, ch.SourceTimes[i])
			}
		}
		out.Channels[ci] = nc
	}
	return out
}
