package profile

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheCapacity bounds the number of cached summaries per session.
const DefaultCacheCapacity = 500

// Cache is a bounded, concurrency-safe LRU of profile summaries.
type Cache struct {
	entries *lru.Cache[string, Summary]
}

// NewCache creates a cache holding at most capacity summaries.
func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	entries, err := lru.New[string, Summary](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating profile cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

func (c *Cache) Get(id string) (Summary, bool) {
	return c.entries.Get(id)
}

func (c *Cache) Add(s Summary) {
	c.entries.Add(s.ID, s)
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every cached summary.
func (c *Cache) Purge() {
	c.entries.Purge()
}
