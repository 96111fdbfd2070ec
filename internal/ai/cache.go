package ai

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
)

// ResponseCache memoizes model replies keyed by prompt hash. The knowledge
// document is static per process lifetime, so identical prompts may soundly
// return identical replies until evicted. Concurrent misses on the same key
// collapse to a single in-flight generation.
type ResponseCache struct {
	capacity int
	logger   *slog.Logger

	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	inflight map[string]*inflightCall
}

type cacheEntry struct {
	key   string
	value string
}

type inflightCall struct {
	done  chan struct{}
	value string
	err   error
}

func NewResponseCache(capacity int, logger *slog.Logger) *ResponseCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &ResponseCache{
		capacity: capacity,
		logger:   logger,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		inflight: make(map[string]*inflightCall),
	}
}

// GetOrGenerate returns the cached reply for key, or invokes generate exactly
// once per key across concurrent callers and caches the result. The returned
// bool reports whether this call avoided a generator invocation.
func (c *ResponseCache) GetOrGenerate(ctx context.Context, key string, generate func() (string, error)) (string, bool, error) {
	c.mu.Lock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		value := elem.Value.(*cacheEntry).value
		c.mu.Unlock()
		return value, true, nil
	}

	if call, ok := c.inflight[key]; ok {
		// Another goroutine is already generating this key; wait for it.
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.value, true, call.err
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	value, err := generate()

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.store(key, value)
	}
	c.mu.Unlock()

	call.value = value
	call.err = err
	close(call.done)

	return value, false, err
}

// store inserts under c.mu, evicting the least-recently-used entry at capacity.
func (c *ResponseCache) store(key, value string) {
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.order.MoveToFront(elem)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := c.order.Remove(oldest).(*cacheEntry)
			delete(c.entries, evicted.key)
			c.logger.Debug("cache evicted", "key", evicted.key)
		}
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
}

// Len returns the number of cached replies.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear drops every cached reply. Exposed to the operator flush task so
// regeneration can be forced after a knowledge reload.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.logger.Info("response cache cleared")
}
