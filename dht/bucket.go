package dht

import (
	"sort"
	"time"

	"github.com/toxgo/toxgo/identity"
)

// CloseList is a fixed-capacity (KBucketSize) list of nodes sorted by
// closeness to a target key. A DHT maintains one
// toward self (to be findable) and one per known friend (to reach them).
//
// Eviction policy: when full, replace the worst
// bad entry; if none bad, replace the entry farthest from target; if the
// candidate is farther than every current entry, drop it. No node
// appears twice.
type CloseList struct {
	Target  identity.PublicKey
	entries []*NodeEntry
}

// NewCloseList creates an empty close list targeting the given key.
func NewCloseList(target identity.PublicKey) *CloseList {
	return &CloseList{Target: target}
}

// Len returns the number of entries currently held.
func (c *CloseList) Len() int { return len(c.entries) }

// Entries returns the list's entries sorted closest-first. Callers must
// not mutate the returned slice's backing entries' identity.
func (c *CloseList) Entries() []*NodeEntry {
	out := make([]*NodeEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Find returns the existing entry for pk, or nil.
func (c *CloseList) Find(pk identity.PublicKey) *NodeEntry {
	for _, e := range c.entries {
		if e.PublicKey == pk {
			return e
		}
	}
	return nil
}

// Add inserts or updates an entry for candidate's public key, applying
// the eviction policy when the list is already at capacity. Returns true
// if the candidate is present (inserted, updated, or already the entry).
func (c *CloseList) Add(candidate *NodeEntry, now time.Time) bool {
	if existing := c.Find(candidate.PublicKey); existing != nil {
		mergeEntry(existing, candidate)
		c.resort()
		return true
	}

	if len(c.entries) < KBucketSize {
		c.entries = append(c.entries, candidate)
		c.resort()
		return true
	}

	// Full: replace the worst bad entry if one exists.
	if idx := c.worstBadIndex(now); idx >= 0 {
		c.entries[idx] = candidate
		c.resort()
		return true
	}

	// No bad entries: replace the farthest-from-target entry if the
	// candidate is closer than it.
	farthest := c.farthestIndex()
	if farthest >= 0 && identity.Closer(candidate.PublicKey, c.entries[farthest].PublicKey, c.Target) {
		c.entries[farthest] = candidate
		c.resort()
		return true
	}

	// Candidate is farther than everything already present: drop it.
	return false
}

// Remove deletes the entry for pk, if present.
func (c *CloseList) Remove(pk identity.PublicKey) {
	for i, e := range c.entries {
		if e.PublicKey == pk {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}

// RemoveBad evicts every entry that has gone bad as of now.
func (c *CloseList) RemoveBad(now time.Time) {
	kept := c.entries[:0:0]
	for _, e := range c.entries {
		if !e.IsBad(now) {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}

// Closest returns up to n entries closest to target (normally c.Target,
// but nodes-request handling reuses the list against an arbitrary
// requested target).
func (c *CloseList) Closest(target identity.PublicKey, n int) []*NodeEntry {
	sorted := make([]*NodeEntry, len(c.entries))
	copy(sorted, c.entries)
	sort.Slice(sorted, func(i, j int) bool {
		return identity.Closer(sorted[i].PublicKey, sorted[j].PublicKey, target)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func (c *CloseList) resort() {
	sort.Slice(c.entries, func(i, j int) bool {
		return identity.Closer(c.entries[i].PublicKey, c.entries[j].PublicKey, c.Target)
	})
}

func (c *CloseList) worstBadIndex(now time.Time) int {
	worst := -1
	for i, e := range c.entries {
		if !e.IsBad(now) {
			continue
		}
		if worst < 0 || identity.Closer(c.entries[worst].PublicKey, e.PublicKey, c.Target) {
			// entries[worst] closer than e means e is farther -> e is worse
			worst = i
		}
	}
	return worst
}

func (c *CloseList) farthestIndex() int {
	if len(c.entries) == 0 {
		return -1
	}
	farthest := 0
	for i := 1; i < len(c.entries); i++ {
		if identity.Closer(c.entries[farthest].PublicKey, c.entries[i].PublicKey, c.Target) {
			farthest = i
		}
	}
	return farthest
}

func mergeEntry(existing, fresh *NodeEntry) {
	if fresh.IPv4 != nil {
		existing.IPv4 = fresh.IPv4
		existing.LastSeenV4 = fresh.LastSeenV4
	}
	if fresh.IPv6 != nil {
		existing.IPv6 = fresh.IPv6
		existing.LastSeenV6 = fresh.LastSeenV6
	}
}
