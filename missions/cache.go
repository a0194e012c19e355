package missions

import (
	"sync"
	"time"

	"github.com/debriefhq/debrief/log"
	"github.com/debriefhq/debrief/model"
	"golang.org/x/sync/singleflight"
)

// FetchFunc resolves a cache miss. It always settles to a ToolResult;
// backend failures come back with Status set to ToolStatusError.
type FetchFunc func(key string) model.ToolResult

// cacheEntry is one settled lookup
type cacheEntry struct {
	result     model.ToolResult
	insertedAt time.Time
}

// ContextCache memoizes tool lookups by key. For any key, at most one fetch
// is ever in flight: concurrent callers for the same missing key wait on the
// single fetch and all observe the same settled result. Error results are
// cached like successes, so repeating an unknown mission ID never re-reads
// the backing store. Entries never expire; Invalidate is the explicit
// escape hatch.
type ContextCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewContextCache creates an empty cache
func NewContextCache() *ContextCache {
	return &ContextCache{
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached result for key, fetching it at most once on a miss
func (c *ContextCache) Get(key string, fetch FetchFunc) model.ToolResult {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		log.Log.Debugf("mission cache hit for %s", key)
		return entry.result
	}

	v, _, shared := c.group.Do(key, func() (interface{}, error) {
		result := fetch(key)
		c.mu.Lock()
		c.entries[key] = cacheEntry{result: result, insertedAt: time.Now()}
		c.mu.Unlock()
		return result, nil
	})
	if shared {
		log.Log.Debugf("mission cache fetch for %s shared with concurrent callers", key)
	}
	return v.(model.ToolResult)
}

// Invalidate removes a key so the next Get fetches again.
// Reports whether the key was present.
func (c *ContextCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Len returns the number of settled entries
func (c *ContextCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
