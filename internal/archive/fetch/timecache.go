package fetch

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sattrk/telarc/internal/archive/types"
	"github.com/sattrk/telarc/internal/metrics"
)

// timeKey identifies one TIME column slice. The catalog revision is part
// of the key, so a truncate-and-reappend during sync apply can never
// serve a stale slice for the same row numbers.
type timeKey struct {
	content string
	row0    int64
	row1    int64
	rev     int64
}

// timeEntry holds a cached TIME slice. Entries are shared between
// concurrent fetches and must be treated as read-only.
type timeEntry struct {
	times types.Float64s
	qual  []bool
}

type timeCache struct {
	cache *ttlcache.Cache[timeKey, timeEntry]
}

func newTimeCache(ttl time.Duration, capacity int) *timeCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if capacity < 1 {
		capacity = 1
	}
	c := ttlcache.New[timeKey, timeEntry](
		ttlcache.WithTTL[timeKey, timeEntry](ttl),
		ttlcache.WithCapacity[timeKey, timeEntry](uint64(capacity)),
	)
	go c.Start()
	return &timeCache{cache: c}
}

func (tc *timeCache) get(key timeKey) (timeEntry, bool) {
	item := tc.cache.Get(key)
	if item == nil {
		metrics.TimeCacheMisses.Inc()
		return timeEntry{}, false
	}
	metrics.TimeCacheHits.Inc()
	return item.Value(), true
}

func (tc *timeCache) put(key timeKey, e timeEntry) {
	tc.cache.Set(key, e, ttlcache.DefaultTTL)
}

func (tc *timeCache) stop() {
	tc.cache.Stop()
}
