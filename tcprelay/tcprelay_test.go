package tcprelay

import (
	"testing"
	"time"

	"github.com/toxgo/toxgo/identity"
)

func TestHandshakeAndFrameRoundTrip(t *testing.T) {
	clientKP, _ := identity.GenerateKeyPair()
	relayKP, _ := identity.GenerateKeyPair()

	clientSession, _ := identity.GenerateKeyPair()
	clientNonce, _ := identity.RandomNonce()
	msg, err := BuildHandshake(clientKP, relayKP.Public, *clientSession, clientNonce)
	if err != nil {
		t.Fatalf("build handshake: %v", err)
	}

	parsed, err := ParseHandshake(relayKP, msg)
	if err != nil {
		t.Fatalf("parse handshake: %v", err)
	}
	if parsed.PeerPK != clientKP.Public || parsed.SessionPK != clientSession.Public {
		t.Fatalf("handshake fields mismatch")
	}

	relaySession, _ := identity.GenerateKeyPair()
	clientKey := DeriveSharedKey(clientSession.Secret, relaySession.Public)
	relayKey := DeriveSharedKey(relaySession.Secret, clientSession.Public)
	if clientKey != relayKey {
		t.Fatalf("derived keys disagree")
	}

	frame, err := sealFrame([]byte("hello relay"), &clientKey)
	if err != nil {
		t.Fatalf("seal frame: %v", err)
	}
	plain, err := openFrame(frame, &relayKey)
	if err != nil {
		t.Fatalf("open frame: %v", err)
	}
	if string(plain) != "hello relay" {
		t.Fatalf("frame payload mismatch: %q", plain)
	}
}

func TestServerRoutesDataBetweenTwoClients(t *testing.T) {
	relayKP, _ := identity.GenerateKeyPair()
	srv := NewServer(relayKP, nil)

	aliceKP, _ := identity.GenerateKeyPair()
	bobKP, _ := identity.GenerateKeyPair()
	var aliceKey, bobKey identity.SymmetricKey
	aliceKey[0], bobKey[0] = 1, 2

	if err := srv.AddClient(aliceKP.Public, aliceKey); err != nil {
		t.Fatalf("add alice: %v", err)
	}
	if err := srv.AddClient(bobKP.Public, bobKey); err != nil {
		t.Fatalf("add bob: %v", err)
	}

	outs, err := srv.HandleRouteRequest(aliceKP.Public, BuildRouteRequest(bobKP.Public))
	if err != nil {
		t.Fatalf("alice route request: %v", err)
	}
	if len(outs) != 1 || outs[0].To != aliceKP.Public {
		t.Fatalf("expected only a route response to alice, got %v", outs)
	}
	aliceConnID, _, err := ParseRouteResponse(outs[0].Plain)
	if err != nil {
		t.Fatalf("parse route response: %v", err)
	}
	if aliceConnID == 0 {
		t.Fatalf("expected a non-zero connection id")
	}

	outs, err = srv.HandleRouteRequest(bobKP.Public, BuildRouteRequest(aliceKP.Public))
	if err != nil {
		t.Fatalf("bob route request: %v", err)
	}
	// Bob's route response plus connect notifications to both sides now
	// that the route is reciprocal.
	if len(outs) != 3 {
		t.Fatalf("expected 3 outbound messages once route is reciprocal, got %d", len(outs))
	}

	out, err := srv.HandleData(aliceKP.Public, BuildData(aliceConnID, []byte("ping")))
	if err != nil {
		t.Fatalf("relay data: %v", err)
	}
	if out.To != bobKP.Public {
		t.Fatalf("expected data routed to bob")
	}
	connID, payload, ok := ParseData(out.Plain)
	if !ok || string(payload) != "ping" {
		t.Fatalf("unexpected relayed payload: %v ok=%v", payload, ok)
	}
	if pk, found := srv.clients[bobKP.Public].peerByConnID[connID]; !found || pk != aliceKP.Public {
		t.Fatalf("bob's routing table doesn't resolve back to alice")
	}
}

func TestMuxPicksHotRelayAndSleepsIdle(t *testing.T) {
	mux := NewMux()
	now := time.Unix(0, 0)

	relayKP, _ := identity.GenerateKeyPair()
	idx, ok := mux.AddRelay(relayKP.Public, &Client{}, now)
	if !ok {
		t.Fatalf("expected relay to be added")
	}
	if _, _, ok := mux.PickHot(); ok {
		t.Fatalf("expected no hot relay before MarkHot")
	}

	mux.MarkHot(idx, now)
	if _, client, ok := mux.PickHot(); !ok || client == nil {
		t.Fatalf("expected a hot relay after MarkHot")
	}

	mux.SweepIdle(now.Add(SleepAfter + time.Second))
	if _, _, ok := mux.PickHot(); ok {
		t.Fatalf("expected relay to have gone to sleep")
	}
}

func TestSlotAddrRoundTrip(t *testing.T) {
	mux := NewMux()
	addr := mux.SlotAddr(3)
	idx, err := SlotForAddr(addr)
	if err != nil {
		t.Fatalf("slot for addr: %v", err)
	}
	if idx != 3 {
		t.Fatalf("expected slot 3, got %d", idx)
	}
}
