package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultMaxSize = 10000

// LRUCache is an in-process, size-bounded cache with per-entry expiry and a
// per-user index so a user's verdicts can be purged without a scan.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List                          // front is most recently used
	byUser  map[string]map[string]*list.Element // userID -> key -> element
	now     func() time.Time
	stats   Stats
}

// Stats counts cache traffic since creation.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type lruEntry struct {
	userID    string
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &LRUCache{
		maxSize: maxSize,
		order:   list.New(),
		byUser:  make(map[string]map[string]*list.Element),
		now:     time.Now,
	}
}

func (c *LRUCache) Get(ctx context.Context, userID, key string) ([]byte, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byUser[userID][key]
	if !ok {
		c.stats.Misses++
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if !c.now().Before(entry.expiresAt) {
		c.unlink(elem)
		c.stats.Misses++
		return nil, nil
	}

	c.order.MoveToFront(elem)
	c.stats.Hits++
	return entry.value, nil
}

func (c *LRUCache) Set(ctx context.Context, userID, key string, value []byte, ttl time.Duration) error {
	if userID == "" {
		return ErrUserRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.byUser[userID][key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	keys := c.byUser[userID]
	if keys == nil {
		keys = make(map[string]*list.Element)
		c.byUser[userID] = keys
	}
	keys[key] = c.order.PushFront(&lruEntry{
		userID:    userID,
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})

	for c.order.Len() > c.maxSize {
		c.unlink(c.order.Back())
		c.stats.Evictions++
	}
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, userID, key string) error {
	if userID == "" {
		return ErrUserRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byUser[userID][key]; ok {
		c.unlink(elem)
	}
	return nil
}

func (c *LRUCache) Purge(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, elem := range c.byUser[userID] {
		c.order.Remove(elem)
	}
	delete(c.byUser, userID)
	return nil
}

func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.byUser = make(map[string]map[string]*list.Element)
	return nil
}

func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.order.Len()
	s.Capacity = c.maxSize
	return s
}

// unlink removes elem from both the recency list and the user index.
func (c *LRUCache) unlink(elem *list.Element) {
	entry := c.order.Remove(elem).(*lruEntry)
	keys := c.byUser[entry.userID]
	delete(keys, entry.key)
	if len(keys) == 0 {
		delete(c.byUser, entry.userID)
	}
}
