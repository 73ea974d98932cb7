// Package session threads multi-turn conversations. Clients resend the whole
// history each turn, so the cache keys on a hash of the history prefix
// (everything except the newest message) and maps it to the upstream response
// id of the turn that produced that prefix. A hit lets the next request carry
// previous_response_id instead of replaying context server-side state already
// covers.
package session

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const hashLength = 32

// Cache is a bounded TTL map from conversation-prefix hashes to upstream
// response ids. Overflow evicts the oldest entry by insertion order; a
// background sweep drops expired entries so idle conversations do not pin
// memory.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	max     int
	sweeper *time.Ticker
	done    chan struct{}
	closed  bool
}

type cacheEntry struct {
	key        string
	taskID     string
	responseID string
	expiresAt  time.Time
}

// NewCache creates a cache holding at most max entries for ttl each, sweeping
// expired entries every sweepInterval.
func NewCache(ttl, sweepInterval time.Duration, max int) *Cache {
	if max <= 0 {
		max = 1000
	}
	c := &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		max:     max,
		sweeper: time.NewTicker(sweepInterval),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// HashInputPrefix hashes a Responses input array minus its final element. An
// input with fewer than two elements has no prefix to thread on.
func HashInputPrefix(input gjson.Result) (string, bool) {
	items := input.Array()
	if len(items) < 2 {
		return "", false
	}
	h := sha256.New()
	for _, item := range items[:len(items)-1] {
		h.Write([]byte(item.Raw))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:hashLength], true
}

// Lookup returns the stored response id for a prefix hash. A hit neither
// extends the entry's TTL nor changes its eviction position; expiry and
// overflow both run from insertion.
func (c *Cache) Lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(el)
		return "", false
	}
	return entry.responseID, true
}

// Store records the upstream response id under the given hash, evicting the
// oldest-inserted entry when full. Updating an existing key keeps its
// insertion position and original expiry.
func (c *Cache) Store(key, responseID string) {
	if key == "" || responseID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).responseID = responseID
		return
	}

	for len(c.entries) >= c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
	el := c.order.PushFront(&cacheEntry{
		key:        key,
		taskID:     uuid.NewString(),
		responseID: responseID,
		expiresAt:  time.Now().Add(c.ttl),
	})
	c.entries[key] = el
}

// Len returns the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweeper.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.sweeper.Stop()
	close(c.done)
}

func (c *Cache) sweepLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.sweeper.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*cacheEntry).expiresAt) {
			c.removeLocked(el)
		}
		el = prev
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, entry.key)
}
