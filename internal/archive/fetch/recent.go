package fetch

import (
	"context"
	"sort"
	"sync"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// RecentSource serves samples newer than the archive tail, typically the
// last few hours still sitting in ingest memory. Implementations return
// an empty series, not an error, when they hold nothing for the window.
type RecentSource interface {
	Recent(ctx context.Context, ch types.Channel, start, stop float64) (*types.FullSeries, error)
}

// Ring is an in-memory RecentSource fed by the ingest path. Each channel
// keeps up to capacity samples in arrival order; Recent binary-searches
// the buffered window and returns copies, so readers are never exposed
// to later Push calls.
type Ring struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string]*ringBuffer
}

type ringBuffer struct {
	times []float64
	vals  types.Array
	qual  []bool
}

// NewRing returns a Ring keeping at most capacity samples per channel.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		capacity: capacity,
		buffers:  make(map[string]*ringBuffer),
	}
}

func ringKey(ch types.Channel) string {
	return ch.Content + "/" + ch.Msid
}

// Push appends samples for a channel. Samples at or before the buffered
// tail are dropped, so replayed ingest batches cannot break
// monotonicity, and the front is trimmed to capacity.
func (r *Ring) Push(ch types.Channel, times []float64, vals types.Array, qual []bool) error {
	if len(times) != vals.Len() || len(times) != len(qual) {
		return errors.NewValidation("samples", "times, values and quality lengths differ")
	}
	if !sort.Float64sAreSorted(times) {
		return errors.NewValidation("times", "not ascending")
	}
	if vals.DType() != ch.DType {
		return errors.Wrapf(errors.ErrDTypeMismatch, "%s: push %s into %s buffer",
			ch.Msid, vals.DType(), ch.DType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buffers[ringKey(ch)]
	if !ok {
		b = &ringBuffer{vals: types.NewArray(ch.DType, 0)}
		r.buffers[ringKey(ch)] = b
	}

	from := 0
	if n := len(b.times); n > 0 {
		last := b.times[n-1]
		from = sort.Search(len(times), func(i int) bool { return times[i] > last })
	}
	if from == len(times) {
		return nil
	}

	vs, err := b.vals.Append(vals.Slice(from, vals.Len()))
	if err != nil {
		return err
	}
	b.vals = vs
	b.times = append(b.times, times[from:]...)
	b.qual = append(b.qual, qual[from:]...)

	if n := len(b.times); n > r.capacity {
		cut := n - r.capacity
		b.times = b.times[cut:]
		b.vals = b.vals.Slice(cut, n)
		b.qual = b.qual[cut:]
	}
	return nil
}

// Recent returns the buffered samples in [start, stop). An unknown
// channel or an empty window yields an empty series.
func (r *Ring) Recent(ctx context.Context, ch types.Channel, start, stop float64) (*types.FullSeries, error) {
	out := &types.FullSeries{
		Msid:    ch.Msid,
		Content: ch.Content,
		Times:   []float64{},
		Values:  types.NewArray(ch.DType, 0),
		Quality: []bool{},
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.buffers[ringKey(ch)]
	if !ok || len(b.times) == 0 {
		return out, nil
	}
	if b.vals.DType() != ch.DType {
		return nil, errors.Wrapf(errors.ErrDTypeMismatch, "%s: buffer holds %s, channel is %s",
			ch.Msid, b.vals.DType(), ch.DType)
	}

	i0 := sort.SearchFloat64s(b.times, start)
	i1 := sort.SearchFloat64s(b.times, stop)
	if i0 >= i1 {
		return out, nil
	}

	out.Times = append(out.Times, b.times[i0:i1]...)
	vs, err := out.Values.Append(b.vals.Slice(i0, i1))
	if err != nil {
		return nil, err
	}
	out.Values = vs
	out.Quality = append(out.Quality, b.qual[i0:i1]...)
	return out, nil
}
