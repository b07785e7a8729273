package schema

import (
	"container/list"
	"sync"

	"github.com/smoosense/smoosense/internal/dataset"
	"github.com/smoosense/smoosense/pkg/types"
)

// Cache is an LRU of inspected schemas keyed by dataset ID. An entry is
// only valid for the fingerprint it was computed against; a failure is
// cached the same way so a broken dataset is not re-inspected until its
// files change.
type Cache struct {
	mu         sync.Mutex
	maxEntries int

	// items maps dataset ID → list element (whose value is *cacheEntry)
	items map[string]*list.Element
	order *list.List // front = most recently used
}

type cacheEntry struct {
	datasetID   string
	fingerprint dataset.Fingerprint
	schema      types.Schema
	err         error
}

// NewCache creates a cache holding at most maxEntries schemas.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &Cache{
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Entry is a cached inspection outcome. Err is set for a cached failure.
type Entry struct {
	Schema types.Schema
	Err    error
}

// Get returns the entry for id if it was computed for fp. On hit, the entry
// is promoted to most-recently-used. A stale entry is left in place for the
// next Put to replace.
func (c *Cache) Get(id string, fp dataset.Fingerprint) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[id]
	if !ok {
		return Entry{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if entry.fingerprint != fp {
		return Entry{}, false
	}
	c.order.MoveToFront(elem)
	return Entry{Schema: entry.schema.Clone(), Err: entry.err}, true
}

// Put stores a schema or a failure for id at fp, replacing any previous
// entry wholesale.
func (c *Cache) Put(id string, fp dataset.Fingerprint, schema types.Schema, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{datasetID: id, fingerprint: fp, schema: schema.Clone(), err: err}
	if elem, ok := c.items[id]; ok {
		elem.Value = entry
		c.order.MoveToFront(elem)
	} else {
		c.items[id] = c.order.PushFront(entry)
	}

	for c.order.Len() > c.maxEntries {
		back := c.order.Back()
		c.order.Remove(back)
		delete(c.items, back.Value.(*cacheEntry).datasetID)
	}
}

// Invalidate drops the entry for id.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[id]; ok {
		c.order.Remove(elem)
		delete(c.items, id)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
