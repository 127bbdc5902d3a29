// ABOUTME: TTL cache recording which writes the gateway has already accepted
// ABOUTME: Keys are collection/id pairs; a repeated key inside the window is a duplicate

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers keys for a TTL, bounded by maxSize. The oldest key is
// evicted first when the cache is full.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSweepInterval starts a background goroutine that drops expired keys
// every interval. Without it expired keys are dropped lazily.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Cache) {
		if interval <= 0 {
			return
		}
		c.wg.Add(1)
		go c.sweepLoop(interval)
	}
}

// New creates a cache. Non-positive ttl or maxSize fall back to five
// minutes and 10000 keys.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key joins a collection and record id.
func Key(collection, id string) string {
	return collection + "/" + id
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.seen[key]
	return ok && c.live(elem)
}

// CheckAndMark marks key and reports whether it was already marked within
// the TTL. The check and the mark happen under one lock.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.seen[key]; ok {
		if c.live(elem) {
			return true
		}
		c.removeLocked(elem)
	}

	if c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.seen[key] = c.order.PushBack(&entry{key: key, seenAt: c.now()})
	return false
}

// Forget unmarks key so a failed write can be retried.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.seen[key]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of keys held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep drops every expired key and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	// Entries are in mark order, so the first live one ends the scan.
	for elem := c.order.Front(); elem != nil; {
		if c.live(elem) {
			break
		}
		next := elem.Next()
		c.removeLocked(elem)
		n++
		elem = next
	}
	return n
}

// Close stops the sweeper, if any. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Cache) live(elem *list.Element) bool {
	e, _ := elem.Value.(*entry)
	return c.now().Sub(e.seenAt) < c.ttl
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	e, _ := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.seen, e.key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}
