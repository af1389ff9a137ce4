package fetch

// DefaultSteppedOn lists channels whose bad-quality flag lands one
// sample early relative to the true bad interval, so the last corrupted
// sample escapes flagging. The root cause is upstream in telemetry
// decommutation; the list is maintained by hand as affected channels
// are identified.
var DefaultSteppedOn = []string{
	"AIRU1G1I", "AIRU1G2I",
	"AIRU2G1I", "AIRU2G2I",
	"AOATTQT1", "AOATTQT2", "AOATTQT3", "AOATTQT4",
}

// extendBadRuns stretches every bad run one sample later. Iterating
// backwards keeps the extension at exactly one sample: a flag set at
// i+1 is never itself examined.
func extendBadRuns(q []bool) {
	for i := len(q) - 2; i >= 0; i-- {
		if q[i] {
			q[i+1] = true
		}
	}
}
