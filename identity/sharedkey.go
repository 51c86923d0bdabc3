package identity

import (
	"time"

	"github.com/toxgo/toxgo/monotime"
)

// keysPerSlot bounds how many distinct peers sharing a first-byte slot can
// have a cached shared key simultaneously before LRU eviction kicks in.
const keysPerSlot = 8

// slotCount partitions the cache by the first byte of the peer public key.
const slotCount = 256

// DefaultCacheTimeout is how long an entry remains valid before it is
// considered absent, forcing recomputation.
const DefaultCacheTimeout = 10 * time.Minute

type cacheEntry struct {
	peer     PublicKey
	shared   [32]byte
	lastUsed time.Time
	used     bool
}

// SharedKeyCache maps a peer public key to its precomputed X25519 shared
// secret against a single self secret key, fixed at construction. This
// amortizes the dominant CPU cost of DHT packet processing.
type SharedKeyCache struct {
	self    SecretKey
	timeout time.Duration
	clock   monotime.Clock
	slots   [slotCount][keysPerSlot]cacheEntry
}

// NewSharedKeyCache creates a cache keyed to self, the given entry
// timeout, and a clock source (use monotime.System{} outside tests).
func NewSharedKeyCache(self SecretKey, timeout time.Duration, clock monotime.Clock) *SharedKeyCache {
	if timeout <= 0 {
		timeout = DefaultCacheTimeout
	}
	return &SharedKeyCache{self: self, timeout: timeout, clock: clock}
}

// Get returns the shared key for peer, computing and caching it on miss.
// Entries older than the cache timeout are treated as absent and
// recomputed.
func (c *SharedKeyCache) Get(peer PublicKey) *[32]byte {
	slot := &c.slots[peer[0]]
	now := c.clock.Now()

	// Linear scan of the slot for a live hit.
	for i := range slot {
		e := &slot[i]
		if !e.used || e.peer != peer {
			continue
		}
		if now.Sub(e.lastUsed) > c.timeout {
			continue // expired: treat as absent, fall through to recompute
		}
		e.lastUsed = now
		shared := e.shared
		return &shared
	}

	shared := Precompute(peer, c.self)
	c.insert(slot, peer, *shared, now)
	return shared
}

// insert places a freshly computed shared key into slot, evicting the
// least-recently-used entry (or an expired one) if the slot is full.
func (c *SharedKeyCache) insert(slot *[keysPerSlot]cacheEntry, peer PublicKey, shared [32]byte, now time.Time) {
	// Prefer an empty or expired slot over evicting a live entry.
	for i := range slot {
		e := &slot[i]
		if !e.used || now.Sub(e.lastUsed) > c.timeout {
			*e = cacheEntry{peer: peer, shared: shared, lastUsed: now, used: true}
			return
		}
	}

	// All live: evict the least-recently-used.
	oldest := 0
	for i := 1; i < keysPerSlot; i++ {
		if slot[i].lastUsed.Before(slot[oldest].lastUsed) {
			oldest = i
		}
	}
	slot[oldest] = cacheEntry{peer: peer, shared: shared, lastUsed: now, used: true}
}

// Len reports how many live (non-expired) entries the cache currently
// holds, for tests and diagnostics.
func (c *SharedKeyCache) Len() int {
	now := c.clock.Now()
	n := 0
	for i := range c.slots {
		for j := range c.slots[i] {
			e := &c.slots[i][j]
			if e.used && now.Sub(e.lastUsed) <= c.timeout {
				n++
			}
		}
	}
	return n
}
