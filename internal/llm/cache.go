package llm

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/lueurxax/newspipe/internal/platform/observability"
)

// resultCache is a bounded LRU with per-entry TTL. Identical prompts within
// the TTL window never reach the provider twice.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]*list.Element
	order   *list.List

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	key     string
	value   any
	addedAt time.Time
}

func newResultCache(maxSize int, ttl time.Duration) *resultCache {
	c := &resultCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		stop:    make(chan struct{}),
	}

	go c.janitor()

	return c
}

// cacheKey hashes the prompt version and all inputs; the kind prefix keeps
// operations from ever colliding.
func cacheKey(kind, version string, inputs ...string) string {
	h := sha256.New()
	io.WriteString(h, version) //nolint:errcheck // sha256 writes never fail

	for _, in := range inputs {
		h.Write([]byte{0})      //nolint:errcheck // sha256 writes never fail
		io.WriteString(h, in)   //nolint:errcheck // sha256 writes never fail
	}

	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}

func (c *resultCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		observability.AICacheMisses.Inc()
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Since(entry.addedAt) > c.ttl {
		c.removeLocked(elem)
		observability.AICacheMisses.Inc()

		return nil, false
	}

	c.order.MoveToFront(elem)
	observability.AICacheHits.Inc()

	return entry.value, true
}

func (c *resultCache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.addedAt = time.Now()
		c.order.MoveToFront(elem)

		return
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value, addedAt: time.Now()})

	for c.order.Len() > c.maxSize {
		c.removeLocked(c.order.Back())
	}
}

func (c *resultCache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}

	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}

func (c *resultCache) janitor() {
	ticker := time.NewTicker(cacheJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *resultCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The list is in recency order, not insertion order, so every element
	// has to be checked.
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()

		if time.Since(elem.Value.(*cacheEntry).addedAt) > c.ttl {
			c.removeLocked(elem)
		}

		elem = prev
	}
}

func (c *resultCache) close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
