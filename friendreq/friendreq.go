// Package friendreq implements the nospam-filtered friend request layer
//:
// a friend request is an onion data packet carrying a 4-byte nospam value
// followed by a free-form message. Filter drops requests whose nospam
// doesn't match our current value and deduplicates retransmitted requests
// from the same sender within a cooldown window.
package friendreq

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/monotime"
)

// NospamSize is the width of the anti-spam prefix carried ahead of every
// friend request's message body.
const NospamSize = 4

// MaxMessageSize bounds a friend request's free-form message, mirroring
// the onion data packet payload budget it travels in.
const MaxMessageSize = 1024

// DedupWindow is how long a sender's public key is remembered after a
// request from it is accepted, so a retransmitting sender doesn't have
// its request re-delivered to the callback repeatedly.
const DedupWindow = 2 * time.Minute

// maxTrackedSenders bounds the dedup set the way identity.SharedKeyCache
// bounds its own per-peer slots, so a flood of distinct senders can't
// grow it unboundedly.
const maxTrackedSenders = 256

// Handler is invoked once per accepted, non-duplicate friend request.
type Handler func(from identity.PublicKey, message []byte)

// Filter holds the receiving side of friend requests: the current
// nospam value, the accept callback, and recent-sender dedup state.
type Filter struct {
	mu sync.Mutex

	nospam  uint32
	handler Handler

	clock monotime.Clock
	log   *slog.Logger

	seen map[identity.PublicKey]time.Time
}

// NewFilter creates a Filter seeded with the given nospam value.
func NewFilter(nospam uint32, clock monotime.Clock, logger *slog.Logger) *Filter {
	if clock == nil {
		clock = monotime.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		nospam: nospam,
		clock:  clock,
		log:    logger,
		seen:   make(map[identity.PublicKey]time.Time),
	}
}

// SetNospam rotates the nospam value without touching the long-term
// identity key (GLOSSARY "nospam").
func (f *Filter) SetNospam(n uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nospam = n
}

// Nospam returns the current nospam value.
func (f *Filter) Nospam() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nospam
}

// SetHandler installs the callback invoked for accepted requests.
func (f *Filter) SetHandler(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// BuildRequest encodes a friend request payload: our current nospam
// value followed by message, ready to be carried as an onion data
// packet's payload toward the recipient's DHT_temp_pk.
func (f *Filter) BuildRequest(message []byte) ([]byte, error) {
	if len(message) > MaxMessageSize {
		return nil, fmt.Errorf("friendreq: message too long: %d bytes", len(message))
	}
	f.mu.Lock()
	nospam := f.nospam
	f.mu.Unlock()

	out := make([]byte, NospamSize+len(message))
	out[0] = byte(nospam >> 24)
	out[1] = byte(nospam >> 16)
	out[2] = byte(nospam >> 8)
	out[3] = byte(nospam)
	copy(out[NospamSize:], message)
	return out, nil
}

// HandleIncoming parses and filters an inbound friend request payload
// (the onion data packet's body, already decrypted by the caller). It
// returns false without error for a payload correctly formed but
// rejected by the nospam check or dedup window.
func (f *Filter) HandleIncoming(from identity.PublicKey, payload []byte) (accepted bool, err error) {
	if len(payload) < NospamSize {
		return false, fmt.Errorf("friendreq: payload too short: %d bytes", len(payload))
	}
	got := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	message := payload[NospamSize:]
	if len(message) > MaxMessageSize {
		return false, fmt.Errorf("friendreq: message too long: %d bytes", len(message))
	}

	now := f.clock.Now()

	f.mu.Lock()
	if got != f.nospam {
		f.mu.Unlock()
		f.log.Debug("friend request rejected: nospam mismatch")
		return false, nil
	}
	f.pruneLocked(now)
	if last, ok := f.seen[from]; ok && now.Sub(last) < DedupWindow {
		f.mu.Unlock()
		return false, nil
	}
	f.seen[from] = now
	handler := f.handler
	f.mu.Unlock()

	if handler != nil {
		handler(from, message)
	}
	return true, nil
}

// RemoveReceived forgets from, letting a subsequent request from it be
// delivered immediately instead of waiting out the dedup window
// (mirrors toxcore's remove_request_received).
func (f *Filter) RemoveReceived(from identity.PublicKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[from]; !ok {
		return false
	}
	delete(f.seen, from)
	return true
}

// pruneLocked drops dedup entries older than DedupWindow, and if still
// over capacity, the single oldest entry — called with f.mu held.
func (f *Filter) pruneLocked(now time.Time) {
	for pk, t := range f.seen {
		if now.Sub(t) >= DedupWindow {
			delete(f.seen, pk)
		}
	}
	if len(f.seen) <= maxTrackedSenders {
		return
	}
	var oldestPK identity.PublicKey
	var oldestT time.Time
	first := true
	for pk, t := range f.seen {
		if first || t.Before(oldestT) {
			oldestPK, oldestT, first = pk, t, false
		}
	}
	delete(f.seen, oldestPK)
}
