package hmacauth

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// NonceStore admits a nonce exactly once within its TTL.
type NonceStore interface {
	// CheckAndAdmit returns true when the nonce is fresh and records it.
	// A false return means the nonce was already seen (replay).
	CheckAndAdmit(ctx context.Context, nonce string, ttl time.Duration) (bool, error)

	// Size reports the current number of tracked nonces, best effort.
	Size() int
}

type nonceEntry struct {
	nonce    string
	deadline time.Time
}

// LRUNonceCache is an in-process nonce store with bounded memory. Entries
// expire after their TTL; when full, the oldest entry is evicted. Insertion
// order doubles as expiry order because every entry carries the same TTL.
type LRUNonceCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // oldest at front
	index    map[string]*list.Element // nonce -> element

	now func() time.Time
}

const DefaultNonceCacheSize = 10000

func NewLRUNonceCache(capacity int) *LRUNonceCache {
	if capacity <= 0 {
		capacity = DefaultNonceCacheSize
	}
	return &LRUNonceCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (c *LRUNonceCache) CheckAndAdmit(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictExpired(now)

	if _, seen := c.index[nonce]; seen {
		return false, nil
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(nonceEntry).nonce)
	}

	elem := c.order.PushBack(nonceEntry{nonce: nonce, deadline: now.Add(ttl)})
	c.index[nonce] = elem
	return true, nil
}

// evictExpired scans from the oldest end and stops at the first live entry.
func (c *LRUNonceCache) evictExpired(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(nonceEntry)
		if entry.deadline.After(now) {
			return
		}
		c.order.Remove(front)
		delete(c.index, entry.nonce)
	}
}

func (c *LRUNonceCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired(c.now())
	return c.order.Len()
}
