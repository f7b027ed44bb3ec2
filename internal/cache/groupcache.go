// Package cache is a small LRU accelerator in front of metastore.Store's
// group lookups, grounded on the teacher's use of
// github.com/hashicorp/golang-lru/v2 as its in-process cache layer.
// It is strictly a cache: internal/metastore remains the source of truth,
// and every mutation that changes a Group row must call Invalidate for
// that id in the same call that performs the write.
package cache

import (
	"sync"

	"groupbin/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
)

// GroupCache caches model.Group rows keyed by group id.
type GroupCache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, model.Group]
}

// NewGroupCache builds a cache holding up to size entries. size must be
// positive.
func NewGroupCache(size int) (*GroupCache, error) {
	inner, err := lru.New[string, model.Group](size)
	if err != nil {
		return nil, err
	}
	return &GroupCache{inner: inner}, nil
}

// Get returns the cached group and true, or the zero value and false on a
// miss.
func (c *GroupCache) Get(id string) (model.Group, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(id)
}

// Put stores or refreshes g in the cache.
func (c *GroupCache) Put(g model.Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(g.ID, g)
}

// Invalidate removes id from the cache — callers must invoke this on
// every refresh, convert-to-readonly or delete so stale reads never
// outlive a mutation.
func (c *GroupCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(id)
}

// Len reports the current number of cached entries, used by tests.
func (c *GroupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}
