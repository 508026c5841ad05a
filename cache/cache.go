// Package cache provides a byte-oriented LRU over immutable segment file
// contents. Entries are keyed by a segment descriptor revision, so a
// rewritten segment is never served stale: its new descriptor addresses a
// new key and the old entry ages out of the cache.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/strataio/strata/resource"
)

// Key identifies one revision of a segment file. Records and Modified are
// taken from the segment descriptor at read time; every rewrite changes
// Modified, so a key addresses exactly one file state.
type Key struct {
	Entity    string
	SegmentID uint64
	Records   int64
	Modified  int64
}

// BlockCache caches immutable file contents. Returned slices are shared
// between callers and must be treated as read-only.
type BlockCache interface {
	Get(key Key) ([]byte, bool)
	Set(key Key, data []byte)
}

// LRU is a size-bounded BlockCache with least-recently-used eviction. When
// a resource controller is given, entries also count against the global
// memory budget and insertion is skipped while that budget is exhausted.
// The zero value is not usable; construct with NewLRU.
type LRU struct {
	mu    sync.Mutex
	cap   int64
	size  int64
	items map[Key]*list.Element
	order *list.List
	rc    *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

var _ BlockCache = (*LRU)(nil)

type block struct {
	key  Key
	data []byte
}

// NewLRU creates a cache holding at most capacity bytes of values. rc may
// be nil, in which case only the local capacity bounds the cache.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		cap:   capacity,
		items: make(map[Key]*list.Element),
		order: list.New(),
		rc:    rc,
	}
}

// Get returns the cached bytes for key and marks the entry recently used.
func (c *LRU) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.order.MoveToFront(elem)
	return elem.Value.(*block).data, true
}

// Set inserts data under key, evicting older entries to make room. Values
// larger than the whole capacity are not cached, and neither are values the
// resource controller has no budget left for after eviction.
func (c *LRU) Set(key Key, data []byte) {
	size := int64(len(data))
	if size == 0 || size > c.cap {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		b := elem.Value.(*block)
		old := int64(len(b.data))
		if size > old && !c.reserve(size-old) {
			return
		}
		if size < old {
			c.release(old - size)
		}
		c.size += size - old
		b.data = data
		c.evictOver()
		return
	}

	for c.size+size > c.cap {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
	}
	if !c.reserve(size) {
		return
	}
	c.items[key] = c.order.PushFront(&block{key: key, data: data})
	c.size += size
}

// Size returns the bytes currently held.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns cumulative hit and miss counts.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every entry and returns the reserved memory to the
// controller.
func (c *LRU) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		c.remove(oldest)
	}
}

func (c *LRU) evictOver() {
	for c.size > c.cap {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		c.remove(oldest)
	}
}

// remove must run with the lock held.
func (c *LRU) remove(elem *list.Element) {
	b := elem.Value.(*block)
	c.order.Remove(elem)
	delete(c.items, b.key)
	c.size -= int64(len(b.data))
	c.release(int64(len(b.data)))
}

func (c *LRU) reserve(bytes int64) bool {
	if c.rc == nil {
		return true
	}
	return c.rc.TryAcquireMemory(bytes)
}

func (c *LRU) release(bytes int64) {
	if c.rc != nil {
		c.rc.ReleaseMemory(bytes)
	}
}
