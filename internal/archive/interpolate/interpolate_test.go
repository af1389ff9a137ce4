package interpolate

import (
	"testing"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

func TestGrid_ByMultiplication(t *testing.T) {
	g := Grid(0, 100, 10)
	if len(g) != 10 {
		t.Fatalf("len = %d, want 10 (half-open)", len(g))
	}
	if g[0] != 0 || g[9] != 90 {
		t.Errorf("grid = [%v .. %v], want [0 .. 90]", g[0], g[9])
	}

	// Every point must be start + i*dt exactly, even with an inexact dt
	// far from zero.
	start, dt := 5.0e8, 0.1
	g = Grid(start, start+100, dt)
	for i, got := range g {
		if want := start + float64(i)*dt; got != want {
			t.Fatalf("g[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestGrid_Degenerate(t *testing.T) {
	if g := Grid(10, 10, 1); g != nil {
		t.Errorf("Grid(10,10,1) = %v, want nil", g)
	}
	if g := Grid(10, 5, 1); g != nil {
		t.Errorf("Grid(10,5,1) = %v, want nil", g)
	}
	if g := Grid(0, 10, 0); g != nil {
		t.Errorf("Grid with dt=0 = %v, want nil", g)
	}
}

func TestAlign_Nearest(t *testing.T) {
	times := []float64{0, 10, 20}
	grid := []float64{-5, 0, 4, 5, 6, 10, 14, 15, 16, 25}
	// Ties at 5 and 15 resolve to the earlier sample.
	want := []int{0, 0, 0, 0, 1, 1, 1, 1, 2, 2}

	got := Align(grid, times)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Align[%d] (grid %v) = %d, want %d", i, grid[i], got[i], want[i])
		}
	}
}

func TestAlign_SingleSample(t *testing.T) {
	got := Align([]float64{0, 100, 200}, []float64{7})
	for i, j := range got {
		if j != 0 {
			t.Errorf("Align[%d] = %d, want 0", i, j)
		}
	}
}

func TestRequest_Validate(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"dt grid", Request{DT: 10, Start: 0, Stop: 100}, true},
		{"dt grid unbounded", Request{DT: 10}, true},
		{"explicit times", Request{Times: []float64{1, 2, 3}}, true},
		{"times plus dt", Request{DT: 10, Times: []float64{1, 2}}, false},
		{"times plus window", Request{Start: 1, Times: []float64{1, 2}}, false},
		{"unsorted times", Request{Times: []float64{2, 1}}, false},
		{"zero dt", Request{DT: 0}, false},
		{"inverted window", Request{DT: 1, Start: 10, Stop: 5}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && !errors.Is(err, errors.ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestResolveGrid_IntersectionSpan(t *testing.T) {
	series := []Series{
		{Msid: "A", Times: []float64{0, 50, 100}, Vals: types.Float64s{1, 2, 3}},
		{Msid: "B", Times: []float64{50, 100, 150}, Vals: types.Float64s{4, 5, 6}},
	}
	g, err := ResolveGrid(Request{DT: 10}, series)
	if err != nil {
		t.Fatalf("ResolveGrid: %v", err)
	}
	want := []float64{50, 60, 70, 80, 90}
	if len(g) != len(want) {
		t.Fatalf("grid = %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("grid = %v, want %v", g, want)
		}
	}
}

func TestResolveGrid_ClampsToRequest(t *testing.T) {
	series := []Series{
		{Msid: "A", Times: []float64{0, 200}, Vals: types.Float64s{1, 2}},
	}
	g, err := ResolveGrid(Request{DT: 10, Start: 65, Stop: 85}, series)
	if err != nil {
		t.Fatalf("ResolveGrid: %v", err)
	}
	if len(g) != 2 || g[0] != 65 || g[1] != 75 {
		t.Fatalf("grid = %v, want [65 75]", g)
	}
}

func TestResolveGrid_ExplicitTimesOutsideSpan(t *testing.T) {
	series := []Series{
		{Msid: "A", Times: []float64{50, 150}, Vals: types.Float64s{1, 2}},
	}
	_, err := ResolveGrid(Request{Times: []float64{0, 40}}, series)
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}

	g, err := ResolveGrid(Request{Times: []float64{60, 90}}, series)
	if err != nil {
		t.Fatalf("ResolveGrid inside span: %v", err)
	}
	if len(g) != 2 || g[0] != 60 {
		t.Fatalf("grid = %v, want the explicit times", g)
	}
}

func TestResolveGrid_EmptyChannel(t *testing.T) {
	series := []Series{
		{Msid: "A", Times: nil, Vals: types.Float64s{}},
	}
	_, err := ResolveGrid(Request{DT: 10}, series)
	if !errors.Is(err, errors.ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestInterpolate_PerChannelFilter(t *testing.T) {
	// The bad sample at t=10 is dropped before alignment, so grid point
	// 10 resolves to the tie between 0 and 20 and takes the earlier.
	s := Series{
		Msid:    "TEPHIN",
		Times:   []float64{0, 10, 20},
		Vals:    types.Float64s{1, 2, 3},
		Quality: []bool{false, true, false},
	}
	out, err := Interpolate([]Series{s}, []float64{0, 10, 20}, false, true)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	ch := out.Channels[0]
	vals := ch.Vals.(types.Float64s)
	if vals[0] != 1 || vals[1] != 1 || vals[2] != 3 {
		t.Errorf("Vals = %v, want [1 1 3]", vals)
	}
	if ch.SourceTimes[1] != 0 {
		t.Errorf("SourceTimes[1] = %v, want 0", ch.SourceTimes[1])
	}
	for i, b := range ch.Quality {
		if b {
			t.Errorf("Quality[%d] = true, want all good after filtering", i)
		}
	}
}

func TestInterpolate_CarriesQualityUnfiltered(t *testing.T) {
	s := Series{
		Msid:    "TEPHIN",
		Times:   []float64{0, 10, 20},
		Vals:    types.Float64s{1, 2, 3},
		Quality: []bool{false, true, false},
	}
	out, err := Interpolate([]Series{s}, []float64{0, 10, 20}, false, false)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	ch := out.Channels[0]
	if vals := ch.Vals.(types.Float64s); vals[1] != 2 {
		t.Errorf("Vals[1] = %v, want the bad sample kept", vals[1])
	}
	wantQ := []bool{false, true, false}
	for i := range wantQ {
		if ch.Quality[i] != wantQ[i] {
			t.Errorf("Quality = %v, want %v", ch.Quality, wantQ)
		}
	}
}

func TestInterpolate_UnionMarksAllChannels(t *testing.T) {
	a := Series{
		Msid:    "AOATTQT1",
		Times:   []float64{0, 10, 20},
		Vals:    types.Float64s{1, 2, 3},
		Quality: []bool{false, true, false},
	}
	b := Series{
		Msid:    "AOATTQT2",
		Times:   []float64{0, 10, 20},
		Vals:    types.Float64s{4, 5, 6},
		Quality: []bool{false, false, false},
	}
	out, err := Interpolate([]Series{a, b}, []float64{0, 10, 20}, true, false)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}

	// The index bad in one quaternion component must be bad in both.
	wantQ := []bool{false, true, false}
	for _, ch := range out.Channels {
		for i := range wantQ {
			if ch.Quality[i] != wantQ[i] {
				t.Errorf("%s Quality = %v, want %v", ch.Msid, ch.Quality, wantQ)
			}
		}
	}
	if vals := out.Channels[1].Vals.(types.Float64s); vals[1] != 5 {
		t.Errorf("Vals[1] = %v, values stay when only marking", vals[1])
	}
}

func TestInterpolate_UnionDropsRows(t *testing.T) {
	a := Series{
		Msid:    "AOATTQT1",
		Times:   []float64{0, 10, 20},
		Vals:    types.Float64s{1, 2, 3},
		Quality: []bool{false, true, false},
	}
	b := Series{
		Msid:    "AOATTQT2",
		Times:   []float64{0, 10, 20},
		Vals:    types.Float64s{4, 5, 6},
		Quality: []bool{false, false, false},
	}
	out, err := Interpolate([]Series{a, b}, []float64{0, 10, 20}, true, true)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	if len(out.Times) != 2 || out.Times[0] != 0 || out.Times[1] != 20 {
		t.Fatalf("Times = %v, want [0 20]", out.Times)
	}
	for _, ch := range out.Channels {
		if ch.Vals.Len() != 2 || len(ch.Quality) != 2 || len(ch.SourceTimes) != 2 {
			t.Fatalf("%s: columns not trimmed with the grid", ch.Msid)
		}
		for i, q := range ch.Quality {
			if q {
				t.Errorf("%s Quality[%d] = true after dropping", ch.Msid, i)
			}
		}
	}
	if vals := out.Channels[0].Vals.(types.Float64s); vals[0] != 1 || vals[1] != 3 {
		t.Errorf("Vals = %v, want [1 3]", vals)
	}
}

func TestInterpolate_Idempotent(t *testing.T) {
	s := Series{
		Msid:  "TEPHIN",
		Times: []float64{0, 7, 13, 26},
		Vals:  types.Float64s{1, 2, 3, 4},
	}
	grid := []float64{0, 5, 10, 15, 20, 25}

	once, err := Interpolate([]Series{s}, grid, false, true)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	again, err := Interpolate([]Series{{
		Msid:  "TEPHIN",
		Times: once.Times,
		Vals:  once.Channels[0].Vals,
	}}, grid, false, true)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	v1 := once.Channels[0].Vals.(types.Float64s)
	v2 := again.Channels[0].Vals.(types.Float64s)
	if len(v1) != len(v2) {
		t.Fatalf("lengths differ: %d vs %d", len(v1), len(v2))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Errorf("vals[%d]: %v then %v, want identical", i, v1[i], v2[i])
		}
	}
}

func TestInterpolate_AllBadChannel(t *testing.T) {
	s := Series{
		Msid:    "TEPHIN",
		Times:   []float64{0, 10},
		Vals:    types.Float64s{1, 2},
		Quality: []bool{true, true},
	}
	_, err := Interpolate([]Series{s}, []float64{0, 10}, false, true)
	if !errors.Is(err, errors.ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestInterpolate_StateChannel(t *testing.T) {
	// Alignment is dtype-agnostic; a state channel resamples the same way.
	s := Series{
		Msid:  "AOPCADMD",
		Times: []float64{0, 100},
		Vals:  types.Strings{"NPNT", "NMAN"},
	}
	out, err := Interpolate([]Series{s}, []float64{0, 49, 51, 100}, false, true)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	vals := out.Channels[0].Vals.(types.Strings)
	want := types.Strings{"NPNT", "NPNT", "NMAN", "NMAN"}
	for i := range want {
		if vals[i] != want[i] {
			t.Errorf("Vals = %v, want %v", vals, want)
		}
	}
}
