package netcrypto

import (
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/toxgo/toxgo/identity"
)

func TestCookieMintAndOpen(t *testing.T) {
	jar, err := NewCookieJar()
	if err != nil {
		t.Fatalf("new cookie jar: %v", err)
	}
	realKP, _ := identity.GenerateKeyPair()
	dhtKP, _ := identity.GenerateKeyPair()
	now := time.Unix(1000, 0)

	cookie, err := jar.Mint(realKP.Public, dhtKP.Public, now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(cookie) != CookieSize {
		t.Fatalf("cookie size %d, want %d", len(cookie), CookieSize)
	}

	realPK, dhtPK, err := jar.Open(cookie, now.Add(time.Second))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if realPK != realKP.Public || dhtPK != dhtKP.Public {
		t.Fatalf("cookie payload mismatch")
	}

	if _, _, err := jar.Open(cookie, now.Add(CookieLifetime+time.Second)); err == nil {
		t.Fatalf("expected expired cookie to be rejected")
	}
}

func TestCookieRequestResponseRoundTrip(t *testing.T) {
	clientKP, _ := identity.GenerateKeyPair()
	clientDHT, _ := identity.GenerateKeyPair()
	serverKP, _ := identity.GenerateKeyPair()
	jar, _ := NewCookieJar()

	var echoID [echoIDSize]byte
	echoID[0] = 0xab

	reqPkt, err := BuildCookieRequest(clientKP, clientDHT.Public, serverKP.Public, echoID)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	parsed, err := HandleCookieRequest(serverKP, reqPkt)
	if err != nil {
		t.Fatalf("handle request: %v", err)
	}
	if parsed.RealPK != clientKP.Public || parsed.EchoID != echoID {
		t.Fatalf("request fields mismatch")
	}

	respPkt, err := BuildCookieResponse(serverKP, jar, parsed, time.Unix(2000, 0))
	if err != nil {
		t.Fatalf("build response: %v", err)
	}
	resp, err := HandleCookieResponse(clientKP, serverKP.Public, respPkt)
	if err != nil {
		t.Fatalf("handle response: %v", err)
	}
	if resp.EchoID != echoID {
		t.Fatalf("echo id mismatch")
	}

	realPK, dhtPK, err := jar.Open(resp.Cookie, time.Unix(2000, 0))
	if err != nil {
		t.Fatalf("open minted cookie: %v", err)
	}
	if realPK != clientKP.Public || dhtPK != clientDHT.Public {
		t.Fatalf("minted cookie fields mismatch")
	}
}

func TestHandshakeAndSessionRoundTrip(t *testing.T) {
	aliceKP, _ := identity.GenerateKeyPair()
	bobKP, _ := identity.GenerateKeyPair()
	jar, _ := NewCookieJar()
	now := time.Unix(3000, 0)

	aliceDHT, _ := identity.GenerateKeyPair()
	cookie, err := jar.Mint(aliceKP.Public, aliceDHT.Public, now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	aliceHS, alicePkt, err := BuildHandshake(aliceKP, bobKP.Public, cookie)
	if err != nil {
		t.Fatalf("build handshake: %v", err)
	}

	parsed, err := ParseHandshake(bobKP, alicePkt, CookieSize)
	if err != nil {
		t.Fatalf("parse handshake: %v", err)
	}
	if _, _, err := jar.Open(parsed.Cookie, now); err != nil {
		t.Fatalf("bob failed to validate cookie: %v", err)
	}

	bobHS, bobPkt, err := BuildHandshake(bobKP, aliceKP.Public, nil)
	if err != nil {
		t.Fatalf("build bob handshake: %v", err)
	}

	bobSession, err := CompleteResponder(bobHS.session, bobHS.baseNonce, parsed.SessionPK, parsed.BaseNonce, now)
	if err != nil {
		t.Fatalf("bob complete: %v", err)
	}

	parsedByAlice, err := ParseHandshake(aliceKP, bobPkt, 0)
	if err != nil {
		t.Fatalf("alice parse bob's handshake: %v", err)
	}
	aliceSession, err := aliceHS.Complete(parsedByAlice.SessionPK, parsedByAlice.BaseNonce, now)
	if err != nil {
		t.Fatalf("alice complete: %v", err)
	}

	msg := []byte("hello from alice")
	pkt, err := aliceSession.SealData(msg)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := bobSession.OpenData(pkt)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("payload mismatch: %q", got)
	}

	// A replayed packet must be rejected.
	if _, err := bobSession.OpenData(pkt); err == nil {
		t.Fatalf("expected replay to be rejected")
	}
}

func TestReliableSendReceiveAckAndRetransmit(t *testing.T) {
	now := time.Unix(0, 0)
	sendKey := identity.SymmetricKey{1}
	recvKey := identity.SymmetricKey{2}
	var base identity.Nonce

	sessionA := newSession(sendKey, recvKey, base, base, now)
	sessionB := newSession(recvKey, sendKey, base, base, now)

	relA := NewReliable(sessionA, rate.Limit(100), 100)
	relB := NewReliable(sessionB, rate.Limit(100), 100)

	frame, ok, err := relA.Send([]byte("payload-1"), now)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !ok {
		t.Fatalf("expected send to be admitted by congestion window")
	}

	delivered, err := relB.Receive(frame, now)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(delivered) != 1 || string(delivered[0]) != "payload-1" {
		t.Fatalf("unexpected delivery: %v", delivered)
	}

	ackFrame, ok, err := relB.Send([]byte("ack-carrier"), now)
	if err != nil || !ok {
		t.Fatalf("send ack carrier: %v ok=%v", err, ok)
	}
	if _, err := relA.Receive(ackFrame, now); err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	if len(relA.outstanding) != 0 {
		t.Fatalf("expected original send to be acked, still outstanding: %d", len(relA.outstanding))
	}

	// Nothing is due for retransmission immediately after sending.
	if due := relA.DueRetransmits(now); len(due) != 0 {
		t.Fatalf("expected no due retransmits yet, got %d", len(due))
	}

	relA.Send([]byte("payload-2"), now)
	late := now.Add(time.Hour)
	due := relA.DueRetransmits(late)
	if len(due) != 1 {
		t.Fatalf("expected one due retransmit, got %d", len(due))
	}
}
