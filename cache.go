package cardano

import (
	"fmt"
	"sync"
	"time"
)

// DefaultUtxoCacheTTL keeps a burst of queries within one slot on a single
// fetch while letting calls that span slot boundaries re-fetch.
const DefaultUtxoCacheTTL = time.Second

// DefaultTipRefetchInterval bounds how often the bridge and cli adapters
// re-derive the epoch from a fresh tip.
const DefaultTipRefetchInterval = 1000 * time.Second

// ttlCache is a mutex-guarded string-keyed cache with per-entry expiry.
// Concurrent fetches for the same key are not deduplicated; both write
// equivalent data for the same key, so last write wins harmlessly.
type ttlCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]ttlEntry
	now     func() time.Time
}

type ttlEntry struct {
	value   any
	expires time.Time
}

func newTtlCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		ttl:     ttl,
		entries: map[string]ttlEntry{},
		now:     time.Now,
	}
}

func (c *ttlCache) get(key string) (value any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, present := c.entries[key]
	if !present {
		return
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return
	}
	return entry.value, true
}

func (c *ttlCache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry{value: value, expires: c.now().Add(c.ttl)}
}

// utxoCacheKey includes every input that affects the result so stale data
// can never cross slots or addresses.
func utxoCacheKey(slot uint64, address string) string {
	return fmt.Sprintf("%d:%s", slot, address)
}

const lastBlockSlotCacheKey = "lastBlockSlot"
