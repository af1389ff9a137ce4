package stats

import (
	"math"
	"testing"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// =============================================================================
// Weight Tests
// =============================================================================

func TestWeights_UniformSpacing(t *testing.T) {
	w, neg := Weights([]float64{0, 10, 20})
	if neg != 0 {
		t.Fatalf("negative gaps = %d, want 0", neg)
	}
	want := []float64{10, 10, 10}
	for i := range want {
		if w[i] != want[i] {
			t.Errorf("w[%d] = %v, want %v", i, w[i], want[i])
		}
	}
}

func TestWeights_AsymmetricGaps(t *testing.T) {
	// Edge samples carry their single adjacent gap, interior samples half
	// the sum of both.
	w, _ := Weights([]float64{0, 10, 40})
	want := []float64{10, 25, 30}
	for i := range want {
		if w[i] != want[i] {
			t.Errorf("w[%d] = %v, want %v", i, w[i], want[i])
		}
	}
}

func TestWeights_SingleSample(t *testing.T) {
	w, neg := Weights([]float64{42.5})
	if len(w) != 1 || w[0] != 1.0 || neg != 0 {
		t.Fatalf("Weights = %v, %d, want [1.0], 0", w, neg)
	}
}

func TestWeights_Empty(t *testing.T) {
	w, neg := Weights(nil)
	if len(w) != 0 || neg != 0 {
		t.Fatalf("Weights(nil) = %v, %d", w, neg)
	}
}

func TestWeights_Clipped(t *testing.T) {
	// A duplicate timestamp clips up to the floor, a long outage clips
	// down to the ceiling.
	w, neg := Weights([]float64{0, 0, 10})
	if neg != 0 {
		t.Fatalf("negative gaps = %d, want 0", neg)
	}
	if w[0] != MinWeight {
		t.Errorf("w[0] = %v, want %v", w[0], MinWeight)
	}
	if w[1] != 5.0 {
		t.Errorf("w[1] = %v, want 5", w[1])
	}

	w, _ = Weights([]float64{0, 1000})
	if w[0] != MaxWeight || w[1] != MaxWeight {
		t.Errorf("outage weights = %v, want both %v", w, MaxWeight)
	}
}

func TestWeights_NegativeGaps(t *testing.T) {
	w, neg := Weights([]float64{0, 10, 5})
	if neg != 1 {
		t.Fatalf("negative gaps = %d, want 1", neg)
	}
	if w[0] != 10 {
		t.Errorf("w[0] = %v, want 10", w[0])
	}
	if w[1] != 2.5 {
		t.Errorf("w[1] = %v, want 2.5", w[1])
	}
	if w[2] != MinWeight {
		t.Errorf("w[2] = %v, want clipped to %v", w[2], MinWeight)
	}
}

// =============================================================================
// Compute Tests
// =============================================================================

func numericChannel(d types.DType) types.Channel {
	return types.Channel{Msid: "TEPHIN", Content: "acis2eng", DType: d}
}

func TestCompute_BucketSplit(t *testing.T) {
	// Uniformly spaced samples: the weighted mean must equal the simple
	// mean exactly. With dt=25 the first bucket holds the first three
	// samples and the second the remaining two.
	ch := numericChannel(types.DTypeFloat64)
	times := []float64{0, 10, 20, 30, 40}
	vals := types.Float64s{1, 2, 3, 4, 5}

	b, states, err := compute(ch, types.Res5Min, 25, times, vals)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if states != nil {
		t.Errorf("states = %v, want nil for numeric", states)
	}
	if b.Len() != 2 {
		t.Fatalf("rows = %d, want 2", b.Len())
	}
	if b.Index[0] != 0 || b.Index[1] != 1 {
		t.Errorf("Index = %v, want [0 1]", b.Index)
	}
	if b.N[0] != 3 || b.N[1] != 2 {
		t.Errorf("N = %v, want [3 2]", b.N)
	}
	if b.Mean[0] != 2.0 {
		t.Errorf("Mean[0] = %v, want exactly 2", b.Mean[0])
	}
	if b.Mean[1] != 4.5 {
		t.Errorf("Mean[1] = %v, want exactly 4.5", b.Mean[1])
	}

	// Middle by position; an even bucket takes the later of the middles.
	val := b.Val.(types.Float64s)
	if val[0] != 2 || val[1] != 5 {
		t.Errorf("Val = %v, want [2 5]", val)
	}
	mn := b.Min.(types.Float64s)
	mx := b.Max.(types.Float64s)
	if mn[0] != 1 || mn[1] != 4 || mx[0] != 3 || mx[1] != 5 {
		t.Errorf("Min = %v Max = %v, want [1 4] [3 5]", mn, mx)
	}
}

func TestCompute_TimeWeightedMean(t *testing.T) {
	// The first value held for most of the bucket and must dominate the
	// mean: weights 100, 60, 20 give (3*100)/(180) not (3+0+0)/3.
	ch := numericChannel(types.DTypeFloat64)
	times := []float64{0, 100, 120}
	vals := types.Float64s{3, 0, 0}

	b, _, err := Compute(ch, types.Res5Min, times, vals)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("rows = %d, want 1", b.Len())
	}
	want := 300.0 / 180.0
	if math.Abs(float64(b.Mean[0])-want) > 1e-6 {
		t.Errorf("Mean = %v, want %v", b.Mean[0], want)
	}
}

func TestCompute_DailyExtras(t *testing.T) {
	// One daily bucket over a uniform ramp 0..999 sampled every 10 s.
	ch := numericChannel(types.DTypeFloat64)
	n := 1000
	times := make([]float64, n)
	vals := make(types.Float64s, n)
	for i := 0; i < n; i++ {
		times[i] = float64(i) * 10
		vals[i] = float64(i)
	}

	b, _, err := Compute(ch, types.ResDaily, times, vals)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("rows = %d, want 1", b.Len())
	}
	if b.N[0] != 1000 {
		t.Errorf("N = %d, want 1000", b.N[0])
	}
	if b.Mean[0] != 499.5 {
		t.Errorf("Mean = %v, want 499.5", b.Mean[0])
	}

	// Biased std of a uniform ramp of n values is sqrt((n*n-1)/12).
	wantStd := math.Sqrt((1000.0*1000.0 - 1) / 12)
	if math.Abs(float64(b.Std[0])-wantStd) > 0.5 {
		t.Errorf("Std = %v, want about %v", b.Std[0], wantStd)
	}

	p01 := b.P01.(types.Float64s)[0]
	p50 := b.P50.(types.Float64s)[0]
	p99 := b.P99.(types.Float64s)[0]
	if p01 < 5 || p01 > 15 {
		t.Errorf("P01 = %v, want near 10", p01)
	}
	if p50 < 480 || p50 > 520 {
		t.Errorf("P50 = %v, want near 500", p50)
	}
	if p99 < 975 || p99 > 1000 {
		t.Errorf("P99 = %v, want near 990", p99)
	}
}

func TestCompute_SingleSampleBucket(t *testing.T) {
	ch := numericChannel(types.DTypeFloat64)
	b, _, err := Compute(ch, types.ResDaily, []float64{50}, types.Float64s{7})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if b.Len() != 1 || b.N[0] != 1 {
		t.Fatalf("rows = %d N = %v, want one single-sample row", b.Len(), b.N)
	}
	if b.Mean[0] != 7 {
		t.Errorf("Mean = %v, want 7", b.Mean[0])
	}
	if b.Std[0] != 0 {
		t.Errorf("Std = %v, want 0", b.Std[0])
	}
	if v := b.Val.(types.Float64s)[0]; v != 7 {
		t.Errorf("Val = %v, want 7", v)
	}
	if p := b.P50.(types.Float64s)[0]; math.Abs(p-7) > 0.1 {
		t.Errorf("P50 = %v, want about 7", p)
	}
}

func TestCompute_IntegerPercentiles(t *testing.T) {
	// Integer channels store percentiles rounded to the native dtype.
	ch := types.Channel{Msid: "COBSRQID", Content: "ccdm4eng", DType: types.DTypeInt32}
	n := 200
	times := make([]float64, n)
	vals := make(types.Int32s, n)
	for i := 0; i < n; i++ {
		times[i] = float64(i) * 10
		vals[i] = 100
	}

	b, _, err := Compute(ch, types.ResDaily, times, vals)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	p50 := b.P50.(types.Int32s)[0]
	if p50 < 99 || p50 > 101 {
		t.Errorf("P50 = %d, want within 1 of 100", p50)
	}
	if mn := b.Min.(types.Int32s)[0]; mn != 100 {
		t.Errorf("Min = %d, want exactly 100", mn)
	}
}

func TestCompute_StateChannel(t *testing.T) {
	ch := types.Channel{Msid: "AOPCADMD", Content: "pcad3eng", DType: types.DTypeString, Width: 4}
	times := []float64{0, 50, 100, 150, 200, 250, 328, 360, 392}
	vals := types.Strings{"NPNT", "NPNT", "NPNT", "NMAN", "NMAN", "NPNT", "NSUN", "NSUN", "NSUN"}

	b, states, err := Compute(ch, types.Res5Min, times, vals)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("rows = %d, want 2", b.Len())
	}
	wantStates := []string{"NMAN", "NPNT", "NSUN"}
	if len(states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", states, wantStates)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Fatalf("states = %v, want %v", states, wantStates)
		}
	}

	checkCounts := func(state string, want []int32) {
		t.Helper()
		got := b.Counts[state]
		if len(got) != len(want) {
			t.Fatalf("Counts[%s] = %v, want %v", state, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Counts[%s] = %v, want %v", state, got, want)
			}
		}
	}
	checkCounts("NPNT", []int32{4, 0})
	checkCounts("NMAN", []int32{2, 0})
	checkCounts("NSUN", []int32{0, 3})

	val := b.Val.(types.Strings)
	if val[0] != "NMAN" || val[1] != "NSUN" {
		t.Errorf("Val = %v, want [NMAN NSUN]", val)
	}
}

func TestCompute_BoolChannel(t *testing.T) {
	ch := types.Channel{Msid: "CTUFMTSL", Content: "ccdm4eng", DType: types.DTypeBool}
	b, states, err := Compute(ch, types.Res5Min,
		[]float64{0, 10, 20}, types.Bools{false, true, true})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(states) != 2 || states[0] != "F" || states[1] != "T" {
		t.Fatalf("states = %v, want [F T]", states)
	}
	if b.Counts["F"][0] != 1 || b.Counts["T"][0] != 2 {
		t.Errorf("Counts = F:%v T:%v, want F:[1] T:[2]", b.Counts["F"], b.Counts["T"])
	}
	if v := b.Val.(types.Bools)[0]; v != true {
		t.Errorf("Val = %v, want true", v)
	}
}

func TestCompute_Empty(t *testing.T) {
	ch := numericChannel(types.DTypeFloat64)
	b, _, err := Compute(ch, types.Res5Min, nil, types.Float64s{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("rows = %d, want 0", b.Len())
	}
}

func TestCompute_RejectsUnsortedBuckets(t *testing.T) {
	ch := numericChannel(types.DTypeFloat64)
	_, _, err := Compute(ch, types.Res5Min, []float64{400, 10}, types.Float64s{1, 2})
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestCompute_RejectsDTypeMismatch(t *testing.T) {
	ch := numericChannel(types.DTypeFloat32)
	_, _, err := Compute(ch, types.Res5Min, []float64{10}, types.Float64s{1})
	if !errors.Is(err, errors.ErrDTypeMismatch) {
		t.Fatalf("err = %v, want ErrDTypeMismatch", err)
	}
}

func TestCompute_RejectsFullResolution(t *testing.T) {
	ch := numericChannel(types.DTypeFloat64)
	_, _, err := Compute(ch, types.ResFull, []float64{10}, types.Float64s{1})
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}
