package remote

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"

	"github.com/sattrk/telarc/internal/archive/fetch"
	"github.com/sattrk/telarc/internal/archive/interpolate"
	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/errors"
)

// ================================================================
// Arguments
// ================================================================

// fetchArgs is the wire form of fetch.Request.
type fetchArgs struct {
	Msid      string  `json:"msid"`
	Start     float64 `json:"start"`
	Stop      float64 `json:"stop"`
	FilterBad bool    `json:"filter_bad"`
	Stat      string  `json:"stat"`
}

func fetchArgsFrom(req fetch.Request) fetchArgs {
	return fetchArgs{
		Msid:      req.Msid,
		Start:     req.Start,
		Stop:      req.Stop,
		FilterBad: req.FilterBad,
		Stat:      req.Stat.String(),
	}
}

func (a fetchArgs) request() (fetch.Request, error) {
	stat, err := types.ParseResolution(a.Stat)
	if err != nil {
		return fetch.Request{}, errors.Wrapf(errors.ErrInvalidArgument, "stat %q", a.Stat)
	}
	return fetch.Request{
		Msid:      a.Msid,
		Start:     a.Start,
		Stop:      a.Stop,
		FilterBad: a.FilterBad,
		Stat:      stat,
	}, nil
}

// manyArgs is the wire form of fetch.ManyRequest.
type manyArgs struct {
	Msids     []string `json:"msids"`
	Start     float64  `json:"start"`
	Stop      float64  `json:"stop"`
	FilterBad bool     `json:"filter_bad"`
	Stat      string   `json:"stat"`
}

func manyArgsFrom(req fetch.ManyRequest) manyArgs {
	return manyArgs{
		Msids:     req.Msids,
		Start:     req.Start,
		Stop:      req.Stop,
		FilterBad: req.FilterBad,
		Stat:      req.Stat.String(),
	}
}

func (a manyArgs) request() (fetch.ManyRequest, error) {
	stat, err := types.ParseResolution(a.Stat)
	if err != nil {
		return fetch.ManyRequest{}, errors.Wrapf(errors.ErrInvalidArgument, "stat %q", a.Stat)
	}
	return fetch.ManyRequest{
		Msids:     a.Msids,
		Start:     a.Start,
		Stop:      a.Stop,
		FilterBad: a.FilterBad,
		Stat:      stat,
	}, nil
}

// interpolateArgs is the wire form of fetch.InterpolateRequest.
type interpolateArgs struct {
	Msids     []string  `json:"msids"`
	Start     float64   `json:"start"`
	Stop      float64   `json:"stop"`
	DT        float64   `json:"dt"`
	Times     []float64 `json:"times"`
	BadUnion  bool      `json:"bad_union"`
	FilterBad bool      `json:"filter_bad"`
}

func interpolateArgsFrom(req fetch.InterpolateRequest) interpolateArgs {
	return interpolateArgs{
		Msids:     req.Msids,
		Start:     req.Start,
		Stop:      req.Stop,
		DT:        req.DT,
		Times:     req.Times,
		BadUnion:  req.BadUnion,
		FilterBad: req.FilterBad,
	}
}

func (a interpolateArgs) request() fetch.InterpolateRequest {
	return fetch.InterpolateRequest{
		Msids:     a.Msids,
		Start:     a.Start,
		Stop:      a.Stop,
		DT:        a.DT,
		Times:     a.Times,
		BadUnion:  a.BadUnion,
		FilterBad: a.FilterBad,
	}
}

// ================================================================
// Columns
// ================================================================

// wireArray carries one typed column. Value columns travel as packed
// little-endian bytes because JSON has no rendering for NaN; state
// codes travel as plain strings. Timestamp and mean columns elsewhere
// stay JSON numbers, which is safe: timestamps obey the ascending
// invariant and aggregates are computed from good samples only.
type wireArray struct {
	DType string   `json:"dtype"`
	Data  []byte   `json:"data,omitempty"`
	Strs  []string `json:"strs,omitempty"`
}

func packArray(a types.Array) *wireArray {
	if a == nil {
		return nil
	}
	w := &wireArray{DType: a.DType().String()}
	switch v := a.(type) {
	case types.Float64s:
		w.Data = make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(w.Data[8*i:], math.Float64bits(x))
		}
	case types.Float32s:
		w.Data = make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(w.Data[4*i:], math.Float32bits(x))
		}
	case types.Int64s:
		w.Data = make([]byte, 8*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint64(w.Data[8*i:], uint64(x))
		}
	case types.Int32s:
		w.Data = make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(w.Data[4*i:], uint32(x))
		}
	case types.Bools:
		w.Data = make([]byte, len(v))
		for i, x := range v {
			if x {
				w.Data[i] = 1
			}
		}
	case types.Strings:
		w.Strs = v
	}
	return w
}

func unpackArray(w *wireArray) (types.Array, error) {
	if w == nil {
		return nil, nil
	}
	d, err := types.ParseDType(w.DType)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRemote, "column dtype %q", w.DType)
	}
	if d == types.DTypeString {
		if w.Strs == nil {
			return types.Strings{}, nil
		}
		return types.Strings(w.Strs), nil
	}

	size := d.ItemSize(0)
	if len(w.Data)%size != 0 {
		return nil, errors.Wrapf(errors.ErrRemote,
			"%s column has %d bytes", w.DType, len(w.Data))
	}
	n := len(w.Data) / size

	switch d {
	case types.DTypeFloat64:
		out := make(types.Float64s, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(w.Data[8*i:]))
		}
		return out, nil
	case types.DTypeFloat32:
		out := make(types.Float32s, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(w.Data[4*i:]))
		}
		return out, nil
	case types.DTypeInt64:
		out := make(types.Int64s, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(w.Data[8*i:]))
		}
		return out, nil
	case types.DTypeInt32:
		out := make(types.Int32s, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(w.Data[4*i:]))
		}
		return out, nil
	default:
		out := make(types.Bools, n)
		for i, b := range w.Data {
			out[i] = b != 0
		}
		return out, nil
	}
}

// ================================================================
// Results
// ================================================================

// The wire structs mirror their types counterparts field for field,
// without omitempty: nil and empty slices round-trip unchanged, so a
// decoded result compares equal to what the engine produced.

type wireSeries struct {
	Full      *wireFull  `json:"full"`
	Stats     *wireStats `json:"stats"`
	RecentErr string     `json:"recent_err"`
}

type wireFull struct {
	Msid        string     `json:"msid"`
	Content     string     `json:"content"`
	Times       []float64  `json:"times"`
	Values      *wireArray `json:"values"`
	Quality     []bool     `json:"quality"`
	SourceTimes []float64  `json:"source_times"`
}

type wireStats struct {
	Msid    string             `json:"msid"`
	Content string             `json:"content"`
	Res     string             `json:"res"`
	Index   []int64            `json:"index"`
	Times   []float64          `json:"times"`
	N       []int32            `json:"n"`
	Val     *wireArray         `json:"val"`
	Min     *wireArray         `json:"min"`
	Max     *wireArray         `json:"max"`
	Mean    []float64          `json:"mean"`
	Std     []float64          `json:"std"`
	Pcts    *wirePcts          `json:"pcts"`
	States  map[string][]int32 `json:"states"`
}

type wirePcts struct {
	P01 *wireArray `json:"p01"`
	P05 *wireArray `json:"p05"`
	P16 *wireArray `json:"p16"`
	P50 *wireArray `json:"p50"`
	P84 *wireArray `json:"p84"`
	P95 *wireArray `json:"p95"`
	P99 *wireArray `json:"p99"`
}

type wireAligned struct {
	Times    []float64     `json:"times"`
	Channels []wireChannel `json:"channels"`
}

type wireChannel struct {
	Msid        string     `json:"msid"`
	Vals        *wireArray `json:"vals"`
	Quality     []bool     `json:"quality"`
	SourceTimes []float64  `json:"source_times"`
}

func packSeries(ts *types.TimeSeries) *wireSeries {
	if ts == nil {
		return nil
	}
	w := &wireSeries{
		Full:  packFull(ts.Full),
		Stats: packStats(ts.Stats),
	}
	if ts.RecentErr != nil {
		w.RecentErr = ts.RecentErr.Error()
	}
	return w
}

func unpackSeries(w *wireSeries) (*types.TimeSeries, error) {
	if w == nil {
		return nil, nil
	}
	full, err := unpackFull(w.Full)
	if err != nil {
		return nil, err
	}
	stats, err := unpackStats(w.Stats)
	if err != nil {
		return nil, err
	}
	ts := &types.TimeSeries{Full: full, Stats: stats}
	if w.RecentErr != "" {
		// The message already ends in the sentinel text added by the
		// server-side wrap; strip it before re-wrapping.
		msg := strings.TrimSuffix(w.RecentErr, ": "+errors.ErrRecentUnavailable.Error())
		ts.RecentErr = errors.Wrap(errors.ErrRecentUnavailable, msg)
	}
	return ts, nil
}

func packFull(s *types.FullSeries) *wireFull {
	if s == nil {
		return nil
	}
	return &wireFull{
		Msid:        s.Msid,
		Content:     s.Content,
		Times:       s.Times,
		Values:      packArray(s.Values),
		Quality:     s.Quality,
		SourceTimes: s.SourceTimes,
	}
}

func unpackFull(w *wireFull) (*types.FullSeries, error) {
	if w == nil {
		return nil, nil
	}
	vals, err := unpackArray(w.Values)
	if err != nil {
		return nil, errors.Wrapf(err, "channel %s", w.Msid)
	}
	return &types.FullSeries{
		Msid:        w.Msid,
		Content:     w.Content,
		Times:       w.Times,
		Values:      vals,
		Quality:     w.Quality,
		SourceTimes: w.SourceTimes,
	}, nil
}

func packStats(s *types.StatsSeries) *wireStats {
	if s == nil {
		return nil
	}
	w := &wireStats{
		Msid:    s.Msid,
		Content: s.Content,
		Res:     s.Res.String(),
		Index:   s.Index,
		Times:   s.Times,
		N:       s.N,
		Val:     packArray(s.Val),
		Min:     packArray(s.Min),
		Max:     packArray(s.Max),
		Mean:    s.Mean,
		Std:     s.Std,
		States:  s.States,
	}
	if s.Pcts != nil {
		w.Pcts = &wirePcts{
			P01: packArray(s.Pcts.P01),
			P05: packArray(s.Pcts.P05),
			P16: packArray(s.Pcts.P16),
			P50: packArray(s.Pcts.P50),
			P84: packArray(s.Pcts.P84),
			P95: packArray(s.Pcts.P95),
			P99: packArray(s.Pcts.P99),
		}
	}
	return w
}

func unpackStats(w *wireStats) (*types.StatsSeries, error) {
	if w == nil {
		return nil, nil
	}
	res, err := types.ParseResolution(w.Res)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrRemote, "resolution %q", w.Res)
	}
	s := &types.StatsSeries{
		Msid:    w.Msid,
		Content: w.Content,
		Res:     res,
		Index:   w.Index,
		Times:   w.Times,
		N:       w.N,
		Mean:    w.Mean,
		Std:     w.Std,
		States:  w.States,
	}
	if s.Val, err = unpackArray(w.Val); err != nil {
		return nil, errors.Wrapf(err, "channel %s", w.Msid)
	}
	if s.Min, err = unpackArray(w.Min); err != nil {
		return nil, errors.Wrapf(err, "channel %s", w.Msid)
	}
	if s.Max, err = unpackArray(w.Max); err != nil {
		return nil, errors.Wrapf(err, "channel %s", w.Msid)
	}
	if w.Pcts != nil {
		p := &types.Percentiles{}
		for _, col := range []struct {
			src *wireArray
			dst *types.Array
		}{
			{w.Pcts.P01, &p.P01}, {w.Pcts.P05, &p.P05}, {w.Pcts.P16, &p.P16},
			{w.Pcts.P50, &p.P50}, {w.Pcts.P84, &p.P84}, {w.Pcts.P95, &p.P95},
			{w.Pcts.P99, &p.P99},
		} {
			if *col.dst, err = unpackArray(col.src); err != nil {
				return nil, errors.Wrapf(err, "channel %s percentiles", w.Msid)
			}
		}
		s.Pcts = p
	}
	return s, nil
}

func packAligned(a *interpolate.Aligned) *wireAligned {
	if a == nil {
		return nil
	}
	w := &wireAligned{Times: a.Times}
	if a.Channels != nil {
		w.Channels = make([]wireChannel, len(a.Channels))
		for i, ch := range a.Channels {
			w.Channels[i] = wireChannel{
				Msid:        ch.Msid,
				Vals:        packArray(ch.Vals),
				Quality:     ch.Quality,
				SourceTimes: ch.SourceTimes,
			}
		}
	}
	return w
}

func unpackAligned(w *wireAligned) (*interpolate.Aligned, error) {
	if w == nil {
		return nil, nil
	}
	a := &interpolate.Aligned{Times: w.Times}
	if w.Channels != nil {
		a.Channels = make([]interpolate.AlignedChannel, len(w.Channels))
		for i, ch := range w.Channels {
			vals, err := unpackArray(ch.Vals)
			if err != nil {
				return nil, errors.Wrapf(err, "channel %s", ch.Msid)
			}
			a.Channels[i] = interpolate.AlignedChannel{
				Msid:        ch.Msid,
				Vals:        vals,
				Quality:     ch.Quality,
				SourceTimes: ch.SourceTimes,
			}
		}
	}
	return a, nil
}

// marshalResult renders a packed result for the envelope.
func marshalResult(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode result")
	}
	return raw, nil
}
