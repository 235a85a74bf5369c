package proxy

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kasperience/kdapp-sub000/chainclient"
	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/metrics"
)

// outputKey identifies one output of one transaction, the unit episodes
// repeatedly re-scan while validating a payment (spec §4.3 "episodes may
// repeatedly scan outputs").
type outputKey struct {
	TxID  episode.TxID
	Index uint32
}

// OutputCache memoizes TxOutputInfo lookups for the lifetime of one
// acceptance pass, grounded on history_reader_v3.go's read-through-cache
// shape. A zero-capacity cache is a legal, fully functional "disabled"
// cache: Get always misses, Put is a no-op, so callers don't need a
// separate code path.
type OutputCache struct {
	cache   *lru.Cache[outputKey, chainclient.TxOutput]
	metrics *metrics.ProxyMetrics
}

// NewOutputCache builds a cache with room for capacity entries. capacity <=
// 0 disables memoization without changing behavior.
func NewOutputCache(capacity int, m *metrics.ProxyMetrics) *OutputCache {
	oc := &OutputCache{metrics: m}
	if capacity > 0 {
		c, err := lru.New[outputKey, chainclient.TxOutput](capacity)
		if err == nil {
			oc.cache = c
		}
	}
	return oc
}

func (oc *OutputCache) get(txID episode.TxID, index uint32) (chainclient.TxOutput, bool) {
	if oc.cache == nil {
		return chainclient.TxOutput{}, false
	}
	v, ok := oc.cache.Get(outputKey{TxID: txID, Index: index})
	if oc.metrics != nil {
		if ok {
			oc.metrics.CacheHits.Inc()
		} else {
			oc.metrics.CacheMisses.Inc()
		}
	}
	return v, ok
}

func (oc *OutputCache) put(txID episode.TxID, index uint32, out chainclient.TxOutput) {
	if oc.cache == nil {
		return
	}
	oc.cache.Add(outputKey{TxID: txID, Index: index}, out)
}
