// Package types defines the core data types used throughout the archive.
//
// Key types:
//   - Channel: A single telemetry channel (MSID) and its storage dtype
//   - Array: A typed column of values, one concrete type per DType
//   - FullSeries / StatsSeries: The two query result shapes
//   - Resolution: Query resolution (full, 5min, daily)
package types
