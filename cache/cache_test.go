package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strataio/strata/resource"
)

func key(id uint64) Key {
	return Key{Entity: "orders", SegmentID: id, Records: 10, Modified: int64(id)}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRU(50, rc)

	c.Set(key(1), make([]byte, 20))
	c.Set(key(2), make([]byte, 20))
	assert.Equal(t, int64(40), c.Size())
	assert.Equal(t, int64(40), rc.MemoryUsage())

	// Touch key 1 so key 2 becomes the eviction candidate.
	_, ok := c.Get(key(1))
	assert.True(t, ok)

	c.Set(key(3), make([]byte, 20))
	assert.Equal(t, int64(40), c.Size())

	_, ok = c.Get(key(2))
	assert.False(t, ok)
	_, ok = c.Get(key(1))
	assert.True(t, ok)
	_, ok = c.Get(key(3))
	assert.True(t, ok)
}

func TestLRU_RevisionChangesMiss(t *testing.T) {
	c := NewLRU(1024, nil)

	old := Key{Entity: "orders", SegmentID: 1, Records: 5, Modified: 100}
	c.Set(old, []byte("old contents"))

	rewritten := old
	rewritten.Modified = 200
	_, ok := c.Get(rewritten)
	assert.False(t, ok)

	data, ok := c.Get(old)
	assert.True(t, ok)
	assert.Equal(t, "old contents", string(data))
}

func TestLRU_SkipsOversizeValues(t *testing.T) {
	c := NewLRU(10, nil)

	c.Set(key(1), make([]byte, 11))
	assert.Equal(t, int64(0), c.Size())

	_, ok := c.Get(key(1))
	assert.False(t, ok)
}

func TestLRU_RespectsGlobalBudget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 30})
	c := NewLRU(100, rc)

	// An outside reservation leaves no budget for the cache.
	assert.True(t, rc.TryAcquireMemory(25))
	c.Set(key(1), make([]byte, 20))
	assert.Equal(t, int64(0), c.Size())

	rc.ReleaseMemory(25)
	c.Set(key(1), make([]byte, 20))
	assert.Equal(t, int64(20), c.Size())
}

func TestLRU_UpdateExistingKey(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRU(50, rc)

	c.Set(key(1), make([]byte, 20))
	c.Set(key(1), make([]byte, 30))
	assert.Equal(t, int64(30), c.Size())
	assert.Equal(t, int64(30), rc.MemoryUsage())

	c.Set(key(1), make([]byte, 10))
	assert.Equal(t, int64(10), c.Size())
	assert.Equal(t, int64(10), rc.MemoryUsage())
}

func TestLRU_PurgeReturnsBudget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRU(100, rc)

	c.Set(key(1), make([]byte, 20))
	c.Set(key(2), make([]byte, 20))
	c.Purge()

	assert.Equal(t, int64(0), c.Size())
	assert.Equal(t, int64(0), rc.MemoryUsage())

	hits, misses := c.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(0), misses)
}
