package dht

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/monotime"
	"github.com/toxgo/toxgo/wire"
)

// Sender delivers a packet to an address. It is the networking
// component's outbound hook.
type Sender func(addr wire.IPPort, pkt wire.Packet) error

// pingIDSize is the size of the anti-replay token carried by ping/nodes
// requests and echoed in their responses.
const pingIDSize = 8

// pingRequestTTL bounds how long an outstanding ping_id is accepted in a
// response before being treated as stale.
const pingRequestTTL = 10 * time.Second

type pendingRequest struct {
	pingID  [pingIDSize]byte
	target  identity.PublicKey // for nodes requests: the key we probed
	peer    identity.PublicKey
	addr    wire.IPPort
	sentAt  time.Time
	isNodes bool
}

// DHT implements the Kademlia-style routing table and ping/nodes protocol.
type DHT struct {
	Self      identity.KeyPair
	SharedKey *identity.SharedKeyCache
	Clock     monotime.Clock
	Logger    *slog.Logger
	Send      Sender

	selfClose    *CloseList
	friendClose  map[identity.PublicKey]*CloseList
	toPing       *PingBuffer
	pending      map[[pingIDSize]byte]*pendingRequest
	lastPingTime map[identity.PublicKey]time.Time
}

// New creates a DHT bound to the given identity and send hook.
func New(self identity.KeyPair, clock monotime.Clock, logger *slog.Logger, send Sender) *DHT {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = monotime.System{}
	}
	return &DHT{
		Self:         self,
		SharedKey:    identity.NewSharedKeyCache(self.Secret, identity.DefaultCacheTimeout, clock),
		Clock:        clock,
		Logger:       logger,
		Send:         send,
		selfClose:    NewCloseList(self.Public),
		friendClose:  make(map[identity.PublicKey]*CloseList),
		toPing:       NewPingBuffer(self.Public),
		pending:      make(map[[pingIDSize]byte]*pendingRequest),
		lastPingTime: make(map[identity.PublicKey]time.Time),
	}
}

// Bootstrap seeds the DHT with a single known-good node, the way a fresh
// client joins the network.
func (d *DHT) Bootstrap(addr wire.IPPort, pk identity.PublicKey) error {
	d.toPing.Add(pk, addr, d.Clock.Now())
	return d.sendPingRequest(pk, addr)
}

// AddFriend registers interest in finding a friend's IP_Port, creating a
// dedicated close list toward their key.
func (d *DHT) AddFriend(pk identity.PublicKey) {
	if _, ok := d.friendClose[pk]; ok {
		return
	}
	d.friendClose[pk] = NewCloseList(pk)
}

// RemoveFriend drops the per-friend close list.
func (d *DHT) RemoveFriend(pk identity.PublicKey) {
	delete(d.friendClose, pk)
}

// GetFriendIP returns a known-good address for pk, if the DHT has one.
func (d *DHT) GetFriendIP(pk identity.PublicKey) (wire.IPPort, bool) {
	now := d.Clock.Now()
	if fc, ok := d.friendClose[pk]; ok {
		if e := fc.Find(pk); e != nil && !e.IsBad(now) {
			if a := e.BestAddr(); a != nil {
				return *a, true
			}
		}
	}
	if e := d.selfClose.Find(pk); e != nil && !e.IsBad(now) {
		if a := e.BestAddr(); a != nil {
			return *a, true
		}
	}
	return wire.IPPort{}, false
}

// ClosestNodes returns up to n of our self close list's entries nearest
// target, the routing destinations a caller (e.g. the friend-connection
// orchestrator picking where to send an onion lookup) selects against.
func (d *DHT) ClosestNodes(target identity.PublicKey, n int) []*NodeEntry {
	return d.selfClose.Closest(target, n)
}

// DoDHT is the periodic driver step: it pings due close-list entries,
// drains the anti-amplification queue, and expires stale pending
// requests / bad nodes.
func (d *DHT) DoDHT() {
	now := d.Clock.Now()

	d.pingDueEntries(d.selfClose, now)
	for _, fc := range d.friendClose {
		d.pingDueEntries(fc, now)
	}

	for _, e := range d.toPing.Due(now) {
		_ = d.sendPingRequest(e.pk, e.addr)
	}

	d.selfClose.RemoveBad(now)
	for _, fc := range d.friendClose {
		fc.RemoveBad(now)
	}

	for id, req := range d.pending {
		if now.Sub(req.sentAt) > pingRequestTTL {
			delete(d.pending, id)
		}
	}
}

func (d *DHT) pingDueEntries(list *CloseList, now time.Time) {
	for _, e := range list.Entries() {
		last, ok := d.lastPingTime[e.PublicKey]
		if ok && now.Sub(last) < PingInterval {
			continue
		}
		if e.LastPinged.After(now) {
			// Invariant (c): last_pinged never in the future; defensively skip.
			continue
		}
		addr := e.BestAddr()
		if addr == nil {
			continue
		}
		d.lastPingTime[e.PublicKey] = now
		e.LastPinged = now
		_ = d.sendPingRequest(e.PublicKey, *addr)
	}
}

func newPingID() ([pingIDSize]byte, error) {
	var id [pingIDSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate ping_id: %w", err)
	}
	return id, nil
}

func encryptToPeer(cache *identity.SharedKeyCache, peer identity.PublicKey, nonce identity.Nonce, plaintext []byte) []byte {
	shared := cache.Get(peer)
	return identity.SealPrecomputed(plaintext, nonce, shared)
}

func decryptFromPeer(cache *identity.SharedKeyCache, peer identity.PublicKey, nonce identity.Nonce, ciphertext []byte) ([]byte, error) {
	shared := cache.Get(peer)
	return identity.OpenPrecomputed(ciphertext, nonce, shared)
}

// heard records that we received an authenticated packet from pk at addr,
// updating last-seen and offering the node to the relevant close lists.
func (d *DHT) heard(pk identity.PublicKey, addr wire.IPPort, now time.Time) {
	entry := &NodeEntry{PublicKey: pk}
	if addr.Family == wire.FamilyIPv6 {
		entry.IPv6 = &addr
		entry.LastSeenV6 = now
	} else {
		entry.IPv4 = &addr
		entry.LastSeenV4 = now
	}

	d.selfClose.Add(entry, now)
	if fc, ok := d.friendClose[pk]; ok {
		fc.Add(entry, now)
	}
	d.toPing.Remove(pk)
}
