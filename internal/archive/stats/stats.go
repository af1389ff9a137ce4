// Package stats computes time-weighted statistics over full-resolution
// telemetry and keeps the per-channel statistics files current.
//
// A sample at time t belongs to bucket floor(t/dt). Within a bucket each
// sample is weighted by the time it represents, half the sum of the gaps
// to its neighbors, so a value that held for an hour counts an hour and
// not one sample. Buckets that held no good samples produce no row, and
// a bucket is written only once it has fully elapsed.
package stats

import (
	"math"
	"sort"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/sattrk/telarc/internal/archive/colstore"
	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
	"github.com/sattrk/telarc/internal/logging"
)

var log = logging.Component("stats")

const (
	// MinWeight and MaxWeight bound a sample's time weight in seconds.
	// The floor keeps duplicate timestamps from zeroing a sample out of
	// the mean; the ceiling keeps a long outage from letting one sample
	// dominate a daily bucket.
	MinWeight = 0.001
	MaxWeight = 300.0

	// sketchAccuracy is the relative accuracy of the percentile sketch
	// used for daily rows.
	sketchAccuracy = 0.01
)

// percentileQs lists the quantiles stored on daily numeric rows, in
// storage order.
var percentileQs = [7]float64{0.01, 0.05, 0.16, 0.50, 0.84, 0.95, 0.99}

// Weights returns the time weight of each sample: half the sum of the
// gaps to its two neighbors, the single adjacent gap for the first and
// last sample, and 1.0 for a lone sample. Weights are clipped to
// [MinWeight, MaxWeight]. Negative gaps come from clock anomalies in the
// telemetry stream; they are counted and clipped, never fatal.
func Weights(times []float64) (weights []float64, negative int) {
	n := len(times)
	weights = make([]float64, n)
	if n == 0 {
		return weights, 0
	}
	if n == 1 {
		weights[0] = 1.0
		return weights, 0
	}

	for i := 0; i < n-1; i++ {
		if times[i+1] < times[i] {
			negative++
		}
	}

	weights[0] = times[1] - times[0]
	weights[n-1] = times[n-1] - times[n-2]
	for i := 1; i < n-1; i++ {
		weights[i] = (times[i+1] - times[i-1]) / 2
	}
	for i, w := range weights {
		if w < MinWeight {
			weights[i] = MinWeight
		} else if w > MaxWeight {
			weights[i] = MaxWeight
		}
	}
	return weights, negative
}

// Compute aggregates full-resolution samples into statistics rows.
// Samples must be sorted by time and already filtered to good quality.
// For state-valued channels the second return lists the distinct states
// observed, sorted; the block's Counts is keyed by exactly that set.
func Compute(ch types.Channel, res types.Resolution, times []float64, vals types.Array) (*colstore.StatsBlock, []string, error) {
	return compute(ch, res, res.DT(), times, vals)
}

func compute(ch types.Channel, res types.Resolution, dt float64, times []float64, vals types.Array) (*colstore.StatsBlock, []string, error) {
	if !res.IsStat() || dt <= 0 {
		return nil, nil, errors.Wrapf(errors.ErrInvalidArgument, "resolution %s has no statistics", res)
	}
	if vals == nil || vals.Len() != len(times) {
		return nil, nil, errors.NewValidation("samples", "times and values lengths differ")
	}
	if vals.DType() != ch.DType {
		return nil, nil, errors.Wrapf(errors.ErrDTypeMismatch,
			"channel %s is %s, values are %s", ch.Msid, ch.DType, vals.DType())
	}

	layout := colstore.Layout{Res: res, DType: ch.DType, Width: ch.Width}
	b := colstore.NewStatsBlock(layout)

	// Value columns are gathered as source indexes and materialized with
	// one Take per column, so stored values stay in the native dtype.
	var valIdx, minIdx, maxIdx []int
	var pcts [7][]float64
	var stateRows []map[string]int32
	negTotal := 0

	i := 0
	for i < len(times) {
		idx := int64(math.Floor(times[i] / dt))
		if n := len(b.Index); n > 0 && idx <= b.Index[n-1] {
			return nil, nil, errors.Wrapf(errors.ErrInvalidArgument,
				"%s: times not sorted, bucket %d after %d", ch.Msid, idx, b.Index[n-1])
		}
		j := i + 1
		for j < len(times) && int64(math.Floor(times[j]/dt)) == idx {
			j++
		}

		w, neg := Weights(times[i:j])
		negTotal += neg
		n := j - i

		b.Index = append(b.Index, idx)
		b.N = append(b.N, int32(n))
		valIdx = append(valIdx, i+n/2)

		if layout.Numeric() {
			minAt, maxAt := i, i
			minV, _ := vals.Float64At(i)
			maxV := minV
			var sumW, sumWX float64
			for k := i; k < j; k++ {
				v, _ := vals.Float64At(k)
				wk := w[k-i]
				sumW += wk
				sumWX += wk * v
				if v < minV {
					minV, minAt = v, k
				}
				if v > maxV {
					maxV, maxAt = v, k
				}
			}
			mean := sumWX / sumW
			minIdx = append(minIdx, minAt)
			maxIdx = append(maxIdx, maxAt)
			b.Mean = append(b.Mean, float32(mean))

			if res.HasExtras() {
				var sumWD2 float64
				for k := i; k < j; k++ {
					v, _ := vals.Float64At(k)
					d := v - mean
					sumWD2 += w[k-i] * d * d
				}
				b.Std = append(b.Std, float32(math.Sqrt(sumWD2/sumW)))

				if err := bucketPercentiles(&pcts, vals, w, i, j); err != nil {
					return nil, nil, errors.Wrapf(err, "percentiles for %s bucket %d", ch.Msid, idx)
				}
			}
		} else {
			counts := make(map[string]int32, 4)
			for k := i; k < j; k++ {
				counts[stateOf(vals, k)]++
			}
			stateRows = append(stateRows, counts)
		}

		i = j
	}

	b.Val = vals.Take(valIdx)
	var states []string
	if layout.Numeric() {
		b.Min = vals.Take(minIdx)
		b.Max = vals.Take(maxIdx)
		if res.HasExtras() {
			b.P01 = fromFloat64(ch.DType, pcts[0])
			b.P05 = fromFloat64(ch.DType, pcts[1])
			b.P16 = fromFloat64(ch.DType, pcts[2])
			b.P50 = fromFloat64(ch.DType, pcts[3])
			b.P84 = fromFloat64(ch.DType, pcts[4])
			b.P95 = fromFloat64(ch.DType, pcts[5])
			b.P99 = fromFloat64(ch.DType, pcts[6])
		}
	} else {
		states = observedStates(stateRows)
		b.Counts = make(map[string][]int32, len(states))
		for _, s := range states {
			col := make([]int32, len(stateRows))
			for r, m := range stateRows {
				col[r] = m[s]
			}
			b.Counts[s] = col
		}
	}

	if negTotal > 0 {
		log.Warn("negative time gaps clipped",
			"msid", ch.Msid, "content", ch.Content, "res", res.String(), "count", negTotal)
	}
	return b, states, nil
}

// bucketPercentiles sketches one bucket's weighted value distribution and
// appends the stored quantiles to pcts.
func bucketPercentiles(pcts *[7][]float64, vals types.Array, w []float64, i, j int) error {
	sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return err
	}
	for k := i; k < j; k++ {
		v, _ := vals.Float64At(k)
		if err := sketch.AddWithCount(v, w[k-i]); err != nil {
			return err
		}
	}
	for qi, q := range percentileQs {
		qv, err := sketch.GetValueAtQuantile(q)
		if err != nil {
			return err
		}
		pcts[qi] = append(pcts[qi], qv)
	}
	return nil
}

// stateOf returns the state label of a value. Boolean channels use the
// states "F" and "T".
func stateOf(vals types.Array, i int) string {
	switch a := vals.(type) {
	case types.Strings:
		return a[i]
	case types.Bools:
		if a[i] {
			return "T"
		}
		return "F"
	}
	return ""
}

// observedStates returns the sorted union of states seen across buckets.
func observedStates(rows []map[string]int32) []string {
	set := make(map[string]struct{})
	for _, m := range rows {
		for s := range m {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// fromFloat64 converts sketch estimates back to the channel's native
// dtype. Integer channels round to nearest.
func fromFloat64(d types.DType, src []float64) types.Array {
	switch d {
	case types.DTypeFloat64:
		out := make(types.Float64s, len(src))
		copy(out, src)
		return out
	case types.DTypeFloat32:
		out := make(types.Float32s, len(src))
		for i, v := range src {
			out[i] = float32(v)
		}
		return out
	case types.DTypeInt64:
		out := make(types.Int64s, len(src))
		for i, v := range src {
			out[i] = int64(math.Round(v))
		}
		return out
	case types.DTypeInt32:
		out := make(types.Int32s, len(src))
		for i, v := range src {
			out[i] = int32(math.Round(v))
		}
		return out
	}
	return nil
}
