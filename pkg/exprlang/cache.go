package exprlang

import (
	"container/list"
	"sync"

	"github.com/expr-lang/expr/vm"
)

// programCache is an LRU cache of compiled expr-lang programs, generalized from
// pkg/engine/condition_cache.go's ConditionCache: the reference codebase keys
// compiled programs only by the condition string itself (every condition shares
// the same `{"output": ...}` environment shape), whereas this cache keys by
// (expression, envShape) since predicates, data mappings, and multi-instance
// expressions each expose a different environment shape and a true boolean
// condition must not collide in cache with a non-boolean data-mapping expression
// that happens to have identical text.
type programCache struct {
	capacity int
	mu       sync.RWMutex
	entries  map[string]*list.Element
	order    *list.List
}

type cacheEntry struct {
	key     string
	program *vm.Program
}

func newProgramCache(capacity int) *programCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &programCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *programCache) get(key string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).program, true
}

func (c *programCache) put(key string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).program = program
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: key, program: program})
	c.entries[key] = el
	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *programCache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.order.Remove(back)
	delete(c.entries, back.Value.(*cacheEntry).key)
}

func (c *programCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}
