package landiscovery

import (
	"net"
	"testing"
	"time"

	"github.com/toxgo/toxgo/dht"
	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/monotime"
	"github.com/toxgo/toxgo/wire"
)

func mkAddr(port uint16) wire.IPPort {
	return wire.IPPort{Family: wire.FamilyIPv4, IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestBuildAndParseBroadcastRoundTrip(t *testing.T) {
	kp, _ := identity.GenerateKeyPair()
	pkt := BuildBroadcast(kp.Public)
	got, err := ParseBroadcast(pkt)
	if err != nil {
		t.Fatalf("parse broadcast: %v", err)
	}
	if got != kp.Public {
		t.Fatalf("parsed key mismatch")
	}
}

func TestParseBroadcastRejectsWrongTag(t *testing.T) {
	pkt := wire.NewPacket(wire.TagPingRequest, make([]byte, 32))
	if _, err := ParseBroadcast(pkt); err == nil {
		t.Fatalf("expected wrong-tag packet to be rejected")
	}
}

func TestDoLANDiscoverySendsAcrossPortRangeOncePerInterval(t *testing.T) {
	clock := monotime.NewFrozen(time.Unix(0, 0))
	selfKP, _ := identity.GenerateKeyPair()
	d := dht.New(*selfKP, clock, nil, nil)
	b := NewBroadcaster(*selfKP, d, clock, nil)
	b.BroadcastAddrs = []wire.IPPort{mkAddr(0)}

	var sent []wire.IPPort
	b.Send = func(addr wire.IPPort, pkt wire.Packet) error {
		sent = append(sent, addr)
		return nil
	}

	b.DoLANDiscovery()
	wantCount := PortRangeEnd - PortRangeStart + 1
	if len(sent) != wantCount {
		t.Fatalf("expected %d broadcasts, got %d", wantCount, len(sent))
	}

	sent = nil
	b.DoLANDiscovery()
	if len(sent) != 0 {
		t.Fatalf("expected no broadcasts before interval elapses, got %d", len(sent))
	}

	clock.Advance(BroadcastInterval + time.Second)
	b.DoLANDiscovery()
	if len(sent) != wantCount {
		t.Fatalf("expected another full round after interval elapses, got %d", len(sent))
	}
}

func TestHandleBroadcastFeedsDHT(t *testing.T) {
	clock := monotime.NewFrozen(time.Unix(0, 0))
	selfKP, _ := identity.GenerateKeyPair()
	peerKP, _ := identity.GenerateKeyPair()

	var sentPing bool
	d := dht.New(*selfKP, clock, nil, func(addr wire.IPPort, pkt wire.Packet) error {
		sentPing = true
		return nil
	})
	b := NewBroadcaster(*selfKP, d, clock, nil)

	pkt := BuildBroadcast(peerKP.Public)
	if err := b.HandleBroadcast(mkAddr(33445), pkt); err != nil {
		t.Fatalf("handle broadcast: %v", err)
	}
	if !sentPing {
		t.Fatalf("expected discovered peer to trigger a bootstrap ping")
	}
}

func TestHandleBroadcastIgnoresOwnAnnouncement(t *testing.T) {
	clock := monotime.NewFrozen(time.Unix(0, 0))
	selfKP, _ := identity.GenerateKeyPair()
	d := dht.New(*selfKP, clock, nil, func(wire.IPPort, wire.Packet) error {
		t.Fatalf("should not ping ourselves")
		return nil
	})
	b := NewBroadcaster(*selfKP, d, clock, nil)

	pkt := BuildBroadcast(selfKP.Public)
	if err := b.HandleBroadcast(mkAddr(33445), pkt); err != nil {
		t.Fatalf("handle broadcast: %v", err)
	}
}
