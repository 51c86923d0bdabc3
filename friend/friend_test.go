package friend

import (
	"net"
	"testing"
	"time"

	"github.com/toxgo/toxgo/dht"
	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/monotime"
	"github.com/toxgo/toxgo/onion"
	"github.com/toxgo/toxgo/wire"
)

func mkAddr(port uint16) wire.IPPort {
	return wire.IPPort{Family: wire.FamilyIPv4, IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func newTestManager(t *testing.T, clock monotime.Clock) (*identity.KeyPair, *Manager) {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	d := dht.New(*kp, clock, nil, nil)
	mgr, err := NewManager(*kp, d, nil, clock, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return kp, mgr
}

func TestFriendConnectionLockCounting(t *testing.T) {
	clock := monotime.NewFrozen(time.Unix(0, 0))
	_, mgr := newTestManager(t, clock)
	peerKP, _ := identity.GenerateKeyPair()

	mgr.NewFriendConnection(peerKP.Public)
	mgr.NewFriendConnection(peerKP.Public)

	if _, ok := mgr.Get(peerKP.Public); !ok {
		t.Fatalf("expected connection to exist")
	}

	mgr.KillFriendConnection(peerKP.Public)
	if _, ok := mgr.Get(peerKP.Public); !ok {
		t.Fatalf("connection should survive one kill with lock count 2")
	}

	mgr.KillFriendConnection(peerKP.Public)
	if _, ok := mgr.Get(peerKP.Public); ok {
		t.Fatalf("connection should be gone once lock count reaches 0")
	}
}

func TestFriendConnectionHandshakeAndDataRoundTrip(t *testing.T) {
	clock := monotime.NewFrozen(time.Unix(1000, 0))
	aliceKP, aliceMgr := newTestManager(t, clock)
	bobKP, bobMgr := newTestManager(t, clock)

	aliceAddr := mkAddr(33445)
	bobAddr := mkAddr(33446)

	aliceConn := aliceMgr.NewFriendConnection(bobKP.Public)
	bobConn := bobMgr.NewFriendConnection(aliceKP.Public)

	if err := aliceMgr.HandleLookupResult(bobKP.Public, onion.DataSearchResponse{Found: true, Target: bobKP.Public}); err != nil {
		t.Fatalf("alice lookup result: %v", err)
	}
	if err := bobMgr.HandleLookupResult(aliceKP.Public, onion.DataSearchResponse{Found: true, Target: aliceKP.Public}); err != nil {
		t.Fatalf("bob lookup result: %v", err)
	}
	if !aliceConn.hasDHTTemp || !bobConn.hasDHTTemp {
		t.Fatalf("expected both sides to have discovered a dht temp key")
	}

	var cookieReq, cookieResp, handshake, handshakeReply wire.Packet

	aliceMgr.SendUDP = func(addr wire.IPPort, pkt wire.Packet) error {
		tag, _ := pkt.Tag()
		switch tag {
		case wire.TagCookieRequest:
			cookieReq = pkt
		case wire.TagHandshake:
			handshake = pkt
		}
		return nil
	}
	bobMgr.SendUDP = func(addr wire.IPPort, pkt wire.Packet) error {
		tag, _ := pkt.Tag()
		switch tag {
		case wire.TagCookieResponse:
			cookieResp = pkt
		case wire.TagHandshake:
			handshakeReply = pkt
		}
		return nil
	}

	if err := aliceMgr.startHandshake(aliceConn, bobAddr, clock.Now()); err != nil {
		t.Fatalf("alice start handshake: %v", err)
	}
	if cookieReq == nil {
		t.Fatalf("expected alice to send a cookie request")
	}

	if err := bobMgr.HandleCookieRequest(aliceAddr, cookieReq); err != nil {
		t.Fatalf("bob handle cookie request: %v", err)
	}
	if cookieResp == nil {
		t.Fatalf("expected bob to send a cookie response")
	}

	if err := aliceMgr.HandleCookieResponse(bobKP.Public, bobAddr, cookieResp); err != nil {
		t.Fatalf("alice handle cookie response: %v", err)
	}
	if handshake == nil {
		t.Fatalf("expected alice to send a handshake")
	}

	if err := bobMgr.HandleHandshake(aliceKP.Public, aliceAddr, handshake); err != nil {
		t.Fatalf("bob handle handshake: %v", err)
	}
	if handshakeReply == nil {
		t.Fatalf("expected bob to reply with its own handshake")
	}
	if !bobConn.IsConnected() {
		t.Fatalf("expected bob to be connected after receiving alice's handshake")
	}

	if err := aliceMgr.HandleHandshake(bobKP.Public, bobAddr, handshakeReply); err != nil {
		t.Fatalf("alice handle handshake reply: %v", err)
	}
	if !aliceConn.IsConnected() {
		t.Fatalf("expected alice to be connected after receiving bob's reply")
	}

	var bobGotData []byte
	bobMgr.RegisterCallback(0, func(e Event) {
		if e.Kind == EventLosslessData {
			bobGotData = e.Data
		}
	})

	// Route alice's subsequent session packets straight to bob's session
	// handler, as the networking component would once a session is live.
	var aliceOutbound wire.Packet
	aliceMgr.SendUDP = func(addr wire.IPPort, pkt wire.Packet) error {
		aliceOutbound = pkt
		return nil
	}
	aliceMgr.SendSession = func(pk identity.PublicKey, pkt wire.Packet) error {
		aliceOutbound = pkt
		return nil
	}

	dataPkt, err := aliceMgr.SendData(bobKP.Public, []byte("hello bob"))
	if err != nil {
		t.Fatalf("alice send data: %v", err)
	}
	if err := bobMgr.HandleSessionData(aliceKP.Public, dataPkt); err != nil {
		t.Fatalf("bob handle session data: %v", err)
	}
	if string(bobGotData) != "hello bob" {
		t.Fatalf("bob did not receive alice's message: %q", bobGotData)
	}

	relayKP, _ := identity.GenerateKeyPair()
	aliceMgr.AddKnownRelay(relayKP.Public, mkAddr(33500))
	aliceMgr.sendShareRelays(aliceConn, clock.Now())
	if aliceOutbound == nil {
		t.Fatalf("expected share-relays to produce an outbound packet")
	}
	if err := bobMgr.HandleSessionData(aliceKP.Public, aliceOutbound); err != nil {
		t.Fatalf("bob handle share-relays packet: %v", err)
	}
	if bobConn.relayCount != 1 || bobConn.relays[0].PK != relayKP.Public {
		t.Fatalf("expected bob to have learned alice's shared relay")
	}

	var bobDisconnected bool
	bobMgr.RegisterCallback(1, func(e Event) {
		if e.Kind == EventDisconnected {
			bobDisconnected = true
		}
	})
	clock.Advance(FriendConnectionTimeout + time.Second)
	bobMgr.stepConnection(bobConn, clock.Now())
	if !bobDisconnected {
		t.Fatalf("expected bob's connection to time out and disconnect")
	}
	if bobConn.Status != StatusConnecting {
		t.Fatalf("expected bob's connection to fall back to connecting, got %v", bobConn.Status)
	}
}
