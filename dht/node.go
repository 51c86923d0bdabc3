package dht

import (
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// BadNodeTimeout is how long since last_seen before an entry is "bad".
const BadNodeTimeout = 162 * time.Second

// PingInterval is the cadence at which every close-list node is repinged.
const PingInterval = 60 * time.Second

// KBucketSize is the fixed capacity of a close list.
const KBucketSize = 8

// MaxSentNodes is the number of entries returned in a nodes-response.
const MaxSentNodes = 4

// NodeEntry is one DHT routing-table row.
type NodeEntry struct {
	PublicKey  identity.PublicKey
	IPv4       *wire.IPPort
	IPv6       *wire.IPPort
	LastSeenV4 time.Time
	LastSeenV6 time.Time
	LastPinged time.Time
}

// IsBad reports whether the entry has not been seen on either address
// family within BadNodeTimeout of now.
func (n *NodeEntry) IsBad(now time.Time) bool {
	last := n.LastSeenV4
	if n.LastSeenV6.After(last) {
		last = n.LastSeenV6
	}
	if last.IsZero() {
		return true
	}
	return now.Sub(last) > BadNodeTimeout
}

// BestAddr returns the most recently confirmed address for this node,
// preferring whichever family was last seen, or nil if neither is known.
func (n *NodeEntry) BestAddr() *wire.IPPort {
	switch {
	case n.IPv4 != nil && n.IPv6 != nil:
		if n.LastSeenV6.After(n.LastSeenV4) {
			return n.IPv6
		}
		return n.IPv4
	case n.IPv4 != nil:
		return n.IPv4
	case n.IPv6 != nil:
		return n.IPv6
	default:
		return nil
	}
}
