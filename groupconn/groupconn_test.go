package groupconn

import (
	"bytes"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/netcrypto"
)

func connectedSessions(t *testing.T) (*netcrypto.Session, *netcrypto.Session) {
	t.Helper()
	aliceKP, _ := identity.GenerateKeyPair()
	bobKP, _ := identity.GenerateKeyPair()
	jar, err := netcrypto.NewCookieJar()
	if err != nil {
		t.Fatalf("new cookie jar: %v", err)
	}
	now := time.Unix(3000, 0)
	aliceDHT, _ := identity.GenerateKeyPair()
	cookie, err := jar.Mint(aliceKP.Public, aliceDHT.Public, now)
	if err != nil {
		t.Fatalf("mint cookie: %v", err)
	}

	aliceHS, alicePkt, err := netcrypto.BuildHandshake(aliceKP, bobKP.Public, cookie)
	if err != nil {
		t.Fatalf("build alice handshake: %v", err)
	}
	parsed, err := netcrypto.ParseHandshake(bobKP, alicePkt, netcrypto.CookieSize)
	if err != nil {
		t.Fatalf("parse alice handshake: %v", err)
	}
	bobSessionKP, _ := identity.GenerateKeyPair()
	bobNonce, _ := identity.RandomNonce()
	bobSession, err := netcrypto.CompleteResponder(*bobSessionKP, bobNonce, parsed.SessionPK, parsed.BaseNonce, now)
	if err != nil {
		t.Fatalf("bob complete: %v", err)
	}
	bobPkt, err := netcrypto.BuildHandshakeReply(bobKP, aliceKP.Public, nil, *bobSessionKP, bobNonce)
	if err != nil {
		t.Fatalf("build bob handshake reply: %v", err)
	}
	parsedByAlice, err := netcrypto.ParseHandshake(aliceKP, bobPkt, 0)
	if err != nil {
		t.Fatalf("alice parse bob handshake: %v", err)
	}
	aliceSession, err := aliceHS.Complete(parsedByAlice.SessionPK, parsedByAlice.BaseNonce, now)
	if err != nil {
		t.Fatalf("alice complete: %v", err)
	}
	return aliceSession, bobSession
}

func TestChannelSmallPayloadRoundTrip(t *testing.T) {
	aliceSession, bobSession := connectedSessions(t)
	aliceCh := New(NewNetcryptoTransport(aliceSession), nil)
	bobCh := New(NewNetcryptoTransport(bobSession), nil)

	var got []byte
	bobCh.SetHandler(func(e Event) { got = e.Payload })

	fragments, err := aliceCh.Send([]byte("hello group"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fragments) != 1 {
		t.Fatalf("expected a single fragment for a short payload, got %d", len(fragments))
	}
	if err := bobCh.Deliver(fragments[0]); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if string(got) != "hello group" {
		t.Fatalf("got %q, want %q", got, "hello group")
	}
}

func TestChannelLargePayloadFragmentsAndReassembles(t *testing.T) {
	aliceSession, bobSession := connectedSessions(t)
	aliceCh := New(NewNetcryptoTransport(aliceSession), nil)
	bobCh := New(NewNetcryptoTransport(bobSession), nil)

	payload := bytes.Repeat([]byte("x"), maxFragmentBody*3+17)

	var got []byte
	bobCh.SetHandler(func(e Event) { got = e.Payload })

	fragments, err := aliceCh.Send(payload)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fragments) != 4 {
		t.Fatalf("expected 4 fragments, got %d", len(fragments))
	}

	// Deliver out of order to exercise reassembly independent of arrival
	// sequence.
	order := []int{2, 0, 3, 1}
	for _, i := range order {
		if err := bobCh.Deliver(fragments[i]); err != nil {
			t.Fatalf("deliver fragment %d: %v", i, err)
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestChannelDuplicateFragmentSuppressed(t *testing.T) {
	aliceSession, bobSession := connectedSessions(t)
	aliceCh := New(NewNetcryptoTransport(aliceSession), nil)
	bobCh := New(NewNetcryptoTransport(bobSession), nil)

	calls := 0
	bobCh.SetHandler(func(Event) { calls++ })

	fragments, err := aliceCh.Send([]byte("once"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	// Net-crypto sessions are replay-protected per packet, so redeliver
	// the plaintext fragment path directly through the reassembler to
	// exercise the duplicate-message suppression in isolation.
	header, chunk, ok := decodeFragment([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1, 'h', 'i'})
	if !ok {
		t.Fatalf("expected synthetic fragment to decode")
	}
	r := newReassembler()
	if _, complete, err := r.Feed(header, chunk); err != nil || !complete {
		t.Fatalf("expected first feed to complete: ok=%v err=%v", complete, err)
	}
	if _, complete, err := r.Feed(header, chunk); err != nil || complete {
		t.Fatalf("expected duplicate feed to be suppressed: ok=%v err=%v", complete, err)
	}

	if err := bobCh.Deliver(fragments[0]); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", calls)
	}
}

func TestChannelSignedMessageVerifiesAndBatchVerifies(t *testing.T) {
	aliceSession, bobSession := connectedSessions(t)
	aliceCh := New(NewNetcryptoTransport(aliceSession), nil)
	bobCh := New(NewNetcryptoTransport(bobSession), nil)

	authorKP, err := identity.GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("generate sign keypair: %v", err)
	}
	aliceCh.Signer = authorKP
	bobCh.PeerSignPK = authorKP.Public

	var got Event
	bobCh.SetHandler(func(e Event) { got = e })

	fragments, err := aliceCh.Send([]byte("signed group message"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, f := range fragments {
		if err := bobCh.Deliver(f); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
	if string(got.Payload) != "signed group message" {
		t.Fatalf("got payload %q", got.Payload)
	}
	if !identity.Verify(authorKP.Public, got.Payload, got.Signature) {
		t.Fatalf("delivered signature did not verify")
	}

	ok, err := VerifyBatch([]Event{got}, []ed25519.PublicKey{authorKP.Public})
	if err != nil {
		t.Fatalf("verify batch: %v", err)
	}
	if !ok {
		t.Fatalf("batch verification of a valid signed event failed")
	}

	tampered := got
	tampered.Payload = []byte("tampered group message!")
	ok, err = VerifyBatch([]Event{tampered}, []ed25519.PublicKey{authorKP.Public})
	if err != nil {
		t.Fatalf("verify batch: %v", err)
	}
	if ok {
		t.Fatalf("batch verification accepted a tampered payload")
	}
}
