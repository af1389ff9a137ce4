package types

import "strings"

// TimeMsid is the shared timestamp channel present in every content type.
// Its values are float64 seconds since the mission epoch and its rows are
// position-aligned with every sibling channel in the same content type.
const TimeMsid = "TIME"

// Channel describes a single telemetry channel (MSID) and where it lives.
type Channel struct {
	// Identity
	Msid    string // canonical (upper-case) channel name
	Content string // content type the channel belongs to

	// Storage
	DType DType
	Width int // byte width for string channels, 0 otherwise
}

// IsTime returns true for the shared timestamp channel.
func (c Channel) IsTime() bool {
	return c.Msid == TimeMsid
}

// ItemSize returns the on-disk size of one element.
func (c Channel) ItemSize() int {
	return c.DType.ItemSize(c.Width)
}

// NormalizeMsid returns the canonical form of a channel name or pattern.
// Channel lookups are case-insensitive.
func NormalizeMsid(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// IsGlob reports whether name contains glob metacharacters (* ? [).
func IsGlob(name string) bool {
	return strings.ContainsAny(name, "*?[")
}
