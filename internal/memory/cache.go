package memory

import (
	"fmt"
	"strconv"

	"github.com/dgraph-io/ristretto"
)

// DefaultCacheEntries bounds the number of cached retrieval results.
const DefaultCacheEntries = 1024

// resultCache memoizes retrieval results by store generation, so any
// mutation of the tiers makes earlier entries unreachable.
type resultCache struct {
	cache *ristretto.Cache
}

func newResultCache(maxEntries int64) (*resultCache, error) {
	if maxEntries <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &resultCache{cache: c}, nil
}

func cacheKey(gen uint64, query string, limit int) string {
	return strconv.FormatUint(gen, 10) + "|" + strconv.Itoa(limit) + "|" + query
}

func (c *resultCache) get(gen uint64, query string, limit int) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(cacheKey(gen, query, limit))
	if !ok {
		return nil, false
	}
	ids, ok := v.([]string)
	return ids, ok
}

func (c *resultCache) put(gen uint64, query string, limit int, ids []string) {
	if c == nil {
		return
	}
	c.cache.Set(cacheKey(gen, query, limit), ids, 1)
	c.cache.Wait()
}

func (c *resultCache) enabled() bool { return c != nil }

func (c *resultCache) close() {
	if c != nil {
		c.cache.Close()
	}
}
