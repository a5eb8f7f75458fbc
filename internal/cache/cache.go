// Package cache implements the Communitas core's bounded plaintext
// cache (C11): a byte-budget LRU over decrypted object bytes keyed by
// (policy tag, oid). PrivateMax content is never admitted, and the
// cache is dropped wholesale on identity switch.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/saorsalabs/communitas/internal/policy"
)

// Key identifies one cached plaintext.
type Key struct {
	PolicyTag string
	OID       string
}

type entry struct {
	key  Key
	data []byte
}

// Cache is a byte-budgeted LRU; eviction is by recency, not by entry
// count, since object sizes vary from a few bytes to whole manifests.
type Cache struct {
	mu        sync.Mutex
	inner  *lru.Cache[Key, *entry]
	budget int64
	used   int64
}

// New builds a cache with the given byte budget. The LRU's own entry
// cap is set generously high (budget/1KiB, minimum 64) since eviction
// is driven by OnEvict accounting against budget, not entry count.
func New(budgetBytes int64) *Cache {
	capEntries := int(budgetBytes / 1024)
	if capEntries < 64 {
		capEntries = 64
	}
	c := &Cache{budget: budgetBytes}
	inner, _ := lru.NewWithEvict(capEntries, c.onEvict)
	c.inner = inner
	return c
}

func (c *Cache) onEvict(_ Key, e *entry) {
	c.used -= int64(len(e.data))
}

// Put admits plaintext into the cache unless its policy is PrivateMax.
func (c *Cache) Put(tag policy.Kind, key Key, data []byte) {
	if tag == policy.KindPrivateMax {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if int64(len(data)) > c.budget {
		return // single object larger than the whole budget: never cache it
	}
	if _, ok := c.inner.Peek(key); ok {
		c.inner.Remove(key) // onEvict subtracts the old entry's size
	}
	for c.used+int64(len(data)) > c.budget {
		_, _, evicted := c.inner.RemoveOldest()
		if !evicted {
			break
		}
	}
	c.inner.Add(key, &entry{key: key, data: data})
	c.used += int64(len(data))
}

// Get returns cached plaintext for key, if present.
func (c *Cache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Clear drops every cached entry, used on identity switch.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
	c.used = 0
}

// UsedBytes reports current occupancy, for metrics/status reporting.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}
