// Package landiscovery implements LAN peer discovery: a
// periodic broadcast of our own DHT public key to every port in
// 33445-33545, and a listener that feeds discovered peers into the DHT
// the same way an unauthenticated pong would.
package landiscovery

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/toxgo/toxgo/dht"
	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/monotime"
	"github.com/toxgo/toxgo/wire"
)

// BroadcastInterval is how often we announce ourselves to the LAN.
const BroadcastInterval = 10 * time.Second

// PortRangeStart and PortRangeEnd bound the ports a broadcast is sent to.
const (
	PortRangeStart = 33445
	PortRangeEnd   = 33545
)

// BuildBroadcast encodes the `[0x21][dht_pk:32]` announcement packet.
func BuildBroadcast(self identity.PublicKey) wire.Packet {
	return wire.NewPacket(wire.TagLANDiscovery, self[:])
}

// ParseBroadcast decodes an inbound LAN discovery packet, returning the
// announcing peer's DHT public key.
func ParseBroadcast(pkt wire.Packet) (identity.PublicKey, error) {
	tag, err := pkt.Tag()
	if err != nil {
		return identity.PublicKey{}, err
	}
	if tag != wire.TagLANDiscovery {
		return identity.PublicKey{}, fmt.Errorf("landiscovery: not a LAN discovery packet")
	}
	body := pkt.Body()
	if len(body) != identity.PublicKeySize {
		return identity.PublicKey{}, fmt.Errorf("landiscovery: wrong body size %d", len(body))
	}
	var pk identity.PublicKey
	copy(pk[:], body)
	return pk, nil
}

// BroadcastSender sends one already-built packet to one address,
// realized by the networking package's UDP socket.
type BroadcastSender func(addr wire.IPPort, pkt wire.Packet) error

// Broadcaster periodically announces our DHT key to the LAN and feeds
// discovered peers' announcements back into the DHT.
type Broadcaster struct {
	Self  identity.KeyPair
	DHT   *dht.DHT
	Clock monotime.Clock
	Log   *slog.Logger
	Send  BroadcastSender

	// BroadcastAddrs are the destination IPs to broadcast to (typically
	// the subnet broadcast address of each local interface); the port is
	// varied across PortRangeStart-PortRangeEnd by DoLANDiscovery.
	BroadcastAddrs []wire.IPPort

	lastSent time.Time
}

// NewBroadcaster creates a Broadcaster for self, driving discovery
// through d.
func NewBroadcaster(self identity.KeyPair, d *dht.DHT, clock monotime.Clock, logger *slog.Logger) *Broadcaster {
	if clock == nil {
		clock = monotime.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{Self: self, DHT: d, Clock: clock, Log: logger}
}

// DoLANDiscovery sends one round of broadcasts across every configured
// address and the full port range, if BroadcastInterval has elapsed
// since the last round.
func (b *Broadcaster) DoLANDiscovery() {
	now := b.Clock.Now()
	if !b.lastSent.IsZero() && now.Sub(b.lastSent) < BroadcastInterval {
		return
	}
	b.lastSent = now

	if b.Send == nil || len(b.BroadcastAddrs) == 0 {
		return
	}
	pkt := BuildBroadcast(b.Self.Public)
	for _, base := range b.BroadcastAddrs {
		for port := PortRangeStart; port <= PortRangeEnd; port++ {
			addr := base
			addr.Port = uint16(port)
			if err := b.Send(addr, pkt); err != nil {
				b.Log.Debug("lan broadcast failed", "addr", addr, "err", err)
			}
		}
	}
}

// HandleBroadcast ingests an inbound LAN discovery packet from fromAddr,
// feeding the announcing peer into the DHT's ping queue exactly as an
// unauthenticated pong would.
func (b *Broadcaster) HandleBroadcast(fromAddr wire.IPPort, pkt wire.Packet) error {
	pk, err := ParseBroadcast(pkt)
	if err != nil {
		return err
	}
	if pk == b.Self.Public {
		return nil
	}
	return b.DHT.Bootstrap(fromAddr, pk)
}
