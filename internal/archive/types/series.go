package types

// FullSeries holds full-resolution samples for one channel. Times, Values
// and Quality are position-aligned; Quality true marks a known-bad sample.
type FullSeries struct {
	// Identity
	Msid    string
	Content string

	// Columns
	Times   []float64
	Values  Array
	Quality []bool

	// SourceTimes records, for resampled output, the timestamp each value
	// was actually sampled from. Nil for direct fetches.
	SourceTimes []float64
}

// Len returns the number of samples.
func (s *FullSeries) Len() int {
	return len(s.Times)
}

// TimeRange returns the first and last timestamps. ok is false for an
// empty series.
func (s *FullSeries) TimeRange() (first, last float64, ok bool) {
	if len(s.Times) == 0 {
		return 0, 0, false
	}
	return s.Times[0], s.Times[len(s.Times)-1], true
}

// CountBad returns the number of samples flagged bad.
func (s *FullSeries) CountBad() int {
	n := 0
	for _, q := range s.Quality {
		if q {
			n++
		}
	}
	return n
}

// Percentiles holds the daily weighted percentiles in the channel's dtype.
type Percentiles struct {
	P01 Array
	P05 Array
	P16 Array
	P50 Array
	P84 Array
	P95 Array
	P99 Array
}

// StatsSeries holds pre-aggregated statistics rows for one channel. Bad
// samples were excluded during aggregation, so there is no quality column.
// Index values ascend but may have gaps where a bucket held no good
// samples.
type StatsSeries struct {
	// Identity
	Msid    string
	Content string
	Res     Resolution

	// Bucket identity
	Index []int64
	Times []float64 // bucket midpoints, (index + 0.5) * dt

	// Basic statistics (always present)
	N   []int32
	Val Array // middle sample of each bucket, channel dtype

	// Numeric statistics (nil for state-valued channels)
	Min  Array
	Max  Array
	Mean []float64

	// Daily extras (nil otherwise)
	Std  []float64
	Pcts *Percentiles

	// Per-state sample counts (state-valued channels only)
	States map[string][]int32
}

// Len returns the number of statistics rows.
func (s *StatsSeries) Len() int {
	return len(s.Index)
}

// IsState returns true if the series carries per-state counts instead of
// numeric aggregates.
func (s *StatsSeries) IsState() bool {
	return s.States != nil
}

// TimeSeries is the result of a fetch: exactly one of Full or Stats is
// non-nil depending on the requested resolution.
type TimeSeries struct {
	Full  *FullSeries
	Stats *StatsSeries

	// RecentErr records a non-fatal failure of the recent-data source.
	// The primary-source result is complete and usable when it is set.
	RecentErr error
}

// Msid returns the channel name of whichever shape is present.
func (ts *TimeSeries) Msid() string {
	if ts.Full != nil {
		return ts.Full.Msid
	}
	if ts.Stats != nil {
		return ts.Stats.Msid
	}
	return ""
}

// Len returns the number of samples or statistics rows.
func (ts *TimeSeries) Len() int {
	if ts.Full != nil {
		return ts.Full.Len()
	}
	if ts.Stats != nil {
		return ts.Stats.Len()
	}
	return 0
}

// IsStats returns true if the result holds statistics rows.
func (ts *TimeSeries) IsStats() bool {
	return ts.Stats != nil
}
