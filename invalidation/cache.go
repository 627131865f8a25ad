package invalidation

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Entry is one cached query result.
type Entry struct {
	Key   Key
	Value []byte
	Stale bool
}

// Cache is the query cache the dispatcher invalidates.
type Cache interface {
	// Invalidate marks every entry whose key starts with prefix as stale.
	Invalidate(prefix Key)
	// Entries returns the entries whose key starts with prefix.
	Entries(prefix Key) []Entry
}

// DefaultCacheSize is the number of query results an LRUCache keeps.
const DefaultCacheSize = 512

// LRUCache is a bounded Cache of raw JSON query results.
type LRUCache struct {
	// guards the read-modify-write in Invalidate
	mu    sync.Mutex
	cache *lru.Cache[string, *Entry]
}

// NewLRUCache creates an LRUCache holding up to size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: c}, nil
}

func cacheID(k Key) string {
	return strings.Join(k, "\x1f")
}

// Put stores a fresh result for key.
func (c *LRUCache) Put(key Key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := append(Key(nil), key...)
	c.cache.Add(cacheID(k), &Entry{Key: k, Value: value})
}

// Get returns the cached value for key and whether it has been invalidated
// since it was stored.
func (c *LRUCache) Get(key Key) (value []byte, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Get(cacheID(key))
	if !ok {
		return nil, false, false
	}
	return e.Value, e.Stale, true
}

// Invalidate implements Cache.
func (c *LRUCache) Invalidate(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range c.cache.Keys() {
		e, ok := c.cache.Peek(id)
		if !ok || !e.Key.HasPrefix(prefix) {
			continue
		}
		e.Stale = true
		n++
	}
	log.Debug().Str("key", prefix.String()).Int("matched", n).Msg("Invalidated cached queries")
}

// Entries implements Cache.
func (c *LRUCache) Entries(prefix Key) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for _, id := range c.cache.Keys() {
		e, ok := c.cache.Peek(id)
		if ok && e.Key.HasPrefix(prefix) {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int {
	return c.cache.Len()
}

// Purge drops every entry, e.g. on logout.
func (c *LRUCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}
