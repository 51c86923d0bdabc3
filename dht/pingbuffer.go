package dht

import (
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// TimeToPing is the cadence at which queued (unverified) nodes are pinged.
const TimeToPing = 2 * time.Second

// MaxToPing bounds the anti-amplification queue. When full, the entry
// farthest from self is replaced by a closer candidate.
const MaxToPing = 32

type pingBufferEntry struct {
	pk       identity.PublicKey
	addr     wire.IPPort
	queuedAt time.Time
	lastPing time.Time
}

// PingBuffer is the anti-amplification gate for newly-heard nodes.
// Entries are pinged at TimeToPing cadence and only admitted to
// routing tables once a pong authenticates them (see DHT.DoDHT).
type PingBuffer struct {
	self    identity.PublicKey
	entries []*pingBufferEntry
}

// NewPingBuffer creates a buffer anchored to self, used to judge
// "farthest from self" when the queue is full.
func NewPingBuffer(self identity.PublicKey) *PingBuffer {
	return &PingBuffer{self: self}
}

// Add queues a candidate for verification, replacing the farthest entry
// if the buffer is already full and the candidate is closer to self.
func (b *PingBuffer) Add(pk identity.PublicKey, addr wire.IPPort, now time.Time) {
	for _, e := range b.entries {
		if e.pk == pk {
			e.addr = addr
			return
		}
	}

	entry := &pingBufferEntry{pk: pk, addr: addr, queuedAt: now}

	if len(b.entries) < MaxToPing {
		b.entries = append(b.entries, entry)
		return
	}

	farthest := 0
	for i := 1; i < len(b.entries); i++ {
		if identity.Closer(b.entries[farthest].pk, b.entries[i].pk, b.self) {
			farthest = i
		}
	}
	if identity.Closer(pk, b.entries[farthest].pk, b.self) {
		b.entries[farthest] = entry
	}
}

// Remove drops pk from the buffer, typically once it's been admitted to
// a close list via a verified pong.
func (b *PingBuffer) Remove(pk identity.PublicKey) {
	for i, e := range b.entries {
		if e.pk == pk {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// Due returns entries that haven't been pinged within TimeToPing,
// marking them as pinged-now.
func (b *PingBuffer) Due(now time.Time) []*pingBufferEntry {
	var due []*pingBufferEntry
	for _, e := range b.entries {
		if now.Sub(e.lastPing) >= TimeToPing {
			e.lastPing = now
			due = append(due, e)
		}
	}
	return due
}

// Len reports the current queue size.
func (b *PingBuffer) Len() int { return len(b.entries) }
