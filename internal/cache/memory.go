package cache

import (
	"container/list"
	"sync"
)

type memoryEntry struct {
	key   string
	value []byte
}

// MemoryLRU is the fast tier: a capacity-bounded map with least-recently-used eviction.
type MemoryLRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

// NewMemoryLRU creates a fast tier holding at most capacity entries.
// A capacity <= 0 defaults to 100.
func NewMemoryLRU(capacity int) *MemoryLRU {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryLRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the stored bytes and marks the entry most recently used.
func (c *MemoryLRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*memoryEntry).value, true
}

// Set stores a copy of value, evicting the least recently used entry when full.
func (c *MemoryLRU) Set(key string, value []byte) {
	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*memoryEntry).value = valueCopy
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&memoryEntry{key: key, value: valueCopy})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryEntry).key)
	}
}

// Len returns the number of items currently in the cache.
func (c *MemoryLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes all items. The durable tier is unaffected.
func (c *MemoryLRU) Clear() {
	c.mu.Lock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.mu.Unlock()
}
