package core

import (
	"net"
	"testing"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/networking"
	"github.com/toxgo/toxgo/wire"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	nospam, err := identity.RandomNospam()
	if err != nil {
		t.Fatalf("generate nospam: %v", err)
	}
	var n uint32
	for _, b := range nospam {
		n = n<<8 | uint32(b)
	}
	c, err := New(Config{Self: *kp, Nospam: n})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(func() { c.Socket.Close() })
	return c
}

func selfAddr(c *Core) wire.IPPort {
	return wire.IPPort{Family: wire.FamilyIPv4, IP: net.IPv4(127, 0, 0, 1), Port: uint16(c.Socket.BoundPort)}
}

func TestNewBuildsIdleRunnableCore(t *testing.T) {
	c := newTestCore(t)
	for i := 0; i < 3; i++ {
		if err := c.Iterate(); err != nil {
			t.Fatalf("iterate: %v", err)
		}
	}
}

func TestTwoCoresBootstrapAndDiscoverEachOther(t *testing.T) {
	a := newTestCore(t)
	b := newTestCore(t)

	if err := a.DHT.Bootstrap(selfAddr(b), b.Self.Public); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := a.Iterate(); err != nil {
			t.Fatalf("a.Iterate: %v", err)
		}
		if err := b.Iterate(); err != nil {
			t.Fatalf("b.Iterate: %v", err)
		}
		if len(a.DHT.ClosestNodes(b.Self.Public, 1)) > 0 && len(b.DHT.ClosestNodes(a.Self.Public, 1)) > 0 {
			return
		}
	}
	t.Fatalf("a and b never both learned about each other after bootstrap")
}

func TestBootstrapInfoRespondsOverSocket(t *testing.T) {
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	c, err := New(Config{Self: *kp, Version: 7, MOTD: "hello"})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	defer c.Socket.Close()

	probe, err := networking.Open(nil)
	if err != nil {
		t.Fatalf("open probe socket: %v", err)
	}
	defer probe.Close()

	received := make(chan wire.Packet, 1)
	probe.RegisterHandler(wire.TagBootstrapInfo, func(from wire.IPPort, pkt wire.Packet) error {
		received <- pkt
		return nil
	})

	if err := probe.Send(selfAddr(c), wire.NewPacket(wire.TagBootstrapInfo, nil)); err != nil {
		t.Fatalf("send bootstrap-info request: %v", err)
	}

	var got wire.Packet
	deadline := time.Now().Add(2 * time.Second)
	for got == nil && time.Now().Before(deadline) {
		if err := c.Iterate(); err != nil {
			t.Fatalf("iterate: %v", err)
		}
		if err := probe.ReadOnce(); err != nil {
			t.Fatalf("probe read: %v", err)
		}
		select {
		case got = <-received:
		default:
		}
	}
	if got == nil {
		t.Fatalf("never received a bootstrap-info response")
	}
	info, err := networking.ParseBootstrapInfoResponse(got)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if info.Version != 7 || info.MOTD != "hello" {
		t.Fatalf("got %+v, want version=7 motd=hello", info)
	}
}

func TestLANDiscoveryFeedsPeerIntoDHT(t *testing.T) {
	a := newTestCore(t)
	b := newTestCore(t)

	// a announces itself directly to b's socket, the way a real LAN
	// broadcast would arrive; b's dispatch table should feed the
	// announcing key into its DHT exactly as landiscovery.HandleBroadcast
	// does on its own.
	pkt := wire.NewPacket(wire.TagLANDiscovery, a.Self.Public[:])
	if err := a.Socket.Send(selfAddr(b), pkt); err != nil {
		t.Fatalf("send lan broadcast: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := a.Iterate(); err != nil {
			t.Fatalf("a.Iterate: %v", err)
		}
		if err := b.Iterate(); err != nil {
			t.Fatalf("b.Iterate: %v", err)
		}
		if len(b.DHT.ClosestNodes(a.Self.Public, 1)) > 0 {
			return
		}
	}
	t.Fatalf("b never learned about a via LAN discovery")
}
