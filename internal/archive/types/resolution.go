package types

import (
	"fmt"
	"math"
)

// Resolution selects between full-resolution samples and the two
// pre-aggregated statistics resolutions.
type Resolution int

const (
	// ResFull returns every stored sample.
	ResFull Resolution = iota

	// Res5Min returns "5-minute" statistics. Buckets are 328 s wide,
	// ten 32.8 s telemetry major frames.
	Res5Min

	// ResDaily returns daily statistics. Buckets are 86400 s wide.
	ResDaily
)

// String returns the string representation of the resolution.
func (r Resolution) String() string {
	switch r {
	case ResFull:
		return "full"
	case Res5Min:
		return "5min"
	case ResDaily:
		return "daily"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// DT returns the bucket width in seconds, or 0 for full resolution.
func (r Resolution) DT() float64 {
	switch r {
	case Res5Min:
		return 328.0
	case ResDaily:
		return 86400.0
	default:
		return 0
	}
}

// BucketIndex returns the statistics bucket index for a timestamp:
// floor(t / dt).
func (r Resolution) BucketIndex(t float64) int64 {
	return int64(math.Floor(t / r.DT()))
}

// BucketStart returns the start time of a bucket.
func (r Resolution) BucketStart(index int64) float64 {
	return float64(index) * r.DT()
}

// BucketMid returns the midpoint time of a bucket, the timestamp a
// statistics row carries in query results.
func (r Resolution) BucketMid(index int64) float64 {
	return (float64(index) + 0.5) * r.DT()
}

// HasExtras returns true if rows at this resolution carry standard
// deviation and percentiles in addition to the basic statistics.
func (r Resolution) HasExtras() bool {
	return r == ResDaily
}

// IsStat returns true for the two statistics resolutions.
func (r Resolution) IsStat() bool {
	return r == Res5Min || r == ResDaily
}

// ParseResolution parses a string into a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "full", "":
		return ResFull, nil
	case "5min":
		return Res5Min, nil
	case "daily":
		return ResDaily, nil
	default:
		return ResFull, fmt.Errorf("unknown resolution: %s", s)
	}
}

// StatResolutions returns the statistics resolutions in ascending bucket
// width order.
func StatResolutions() []Resolution {
	return []Resolution{Res5Min, ResDaily}
}
