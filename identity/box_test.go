package identity

import (
	"bytes"
	"testing"
	"time"

	"github.com/toxgo/toxgo/monotime"
)

func TestSealOpenRoundTrip(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate alice: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate bob: %v", err)
	}
	nonce, err := RandomNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}

	msg := []byte("hello tox")
	ct := Seal(msg, nonce, bob.Public, alice.Secret)
	pt, err := Open(ct, nonce, alice.Public, bob.Secret)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(pt, msg) {
		t.Fatalf("roundtrip mismatch: got %q want %q", pt, msg)
	}
}

func TestOpenFailsOnTamper(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	nonce, _ := RandomNonce()
	msg := []byte("hello tox")

	ct := Seal(msg, nonce, bob.Public, alice.Secret)

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := append([]byte(nil), ct...)
		tampered[0] ^= 0xff
		if _, err := Open(tampered, nonce, alice.Public, bob.Secret); err == nil {
			t.Fatal("expected open to fail on tampered ciphertext")
		}
	})

	t.Run("wrong nonce", func(t *testing.T) {
		var wrong Nonce
		copy(wrong[:], nonce[:])
		wrong[0] ^= 0xff
		if _, err := Open(ct, wrong, alice.Public, bob.Secret); err == nil {
			t.Fatal("expected open to fail on wrong nonce")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		mallory, _ := GenerateKeyPair()
		if _, err := Open(ct, nonce, alice.Public, mallory.Secret); err == nil {
			t.Fatal("expected open to fail with wrong secret key")
		}
	})
}

func TestPrecomputedMatchesDirect(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	nonce, _ := RandomNonce()
	msg := []byte("precomputed path")

	direct := Seal(msg, nonce, bob.Public, alice.Secret)

	shared := Precompute(bob.Public, alice.Secret)
	precomputed := SealPrecomputed(msg, nonce, shared)

	if !bytes.Equal(direct, precomputed) {
		t.Fatalf("precomputed seal diverges from direct seal")
	}

	bobShared := Precompute(alice.Public, bob.Secret)
	pt, err := OpenPrecomputed(precomputed, nonce, bobShared)
	if err != nil {
		t.Fatalf("open precomputed: %v", err)
	}
	if !bytes.Equal(pt, msg) {
		t.Fatalf("precomputed roundtrip mismatch")
	}
}

func TestSymmetricRoundTrip(t *testing.T) {
	var key SymmetricKey
	nonce, _ := RandomNonce()
	copy(key[:], bytes.Repeat([]byte{0x42}, 32))

	msg := []byte("onion return stub")
	ct := SealSymmetric(msg, nonce, &key)
	pt, err := OpenSymmetric(ct, nonce, &key)
	if err != nil {
		t.Fatalf("open symmetric: %v", err)
	}
	if !bytes.Equal(pt, msg) {
		t.Fatalf("symmetric roundtrip mismatch")
	}
}

func TestDistanceAndCloser(t *testing.T) {
	var a, b, target PublicKey
	a[0] = 0x01
	b[0] = 0x02
	target[0] = 0x00

	if !Closer(a, b, target) {
		t.Fatalf("expected a closer to target than b")
	}
	if Closer(b, a, target) {
		t.Fatalf("expected b not closer to target than a")
	}
}

func TestSharedKeyCacheHitAndExpiry(t *testing.T) {
	self, _ := GenerateKeyPair()
	peer, _ := GenerateKeyPair()

	clock := monotime.NewFrozen(time.Unix(0, 0))
	cache := NewSharedKeyCache(self.Secret, 5*time.Minute, clock)

	k1 := cache.Get(peer.Public)
	k2 := cache.Get(peer.Public)
	if *k1 != *k2 {
		t.Fatalf("expected cached key to be stable across Get calls")
	}
	if cache.Len() != 1 {
		t.Fatalf("expected 1 live entry, got %d", cache.Len())
	}

	clock.Advance(10 * time.Minute)
	if cache.Len() != 0 {
		t.Fatalf("expected entry to expire after timeout, got %d live", cache.Len())
	}

	// Recompute after expiry should still produce the correct shared key.
	k3 := cache.Get(peer.Public)
	if *k3 != *k1 {
		t.Fatalf("recomputed shared key diverges from original")
	}
}

func TestSharedKeyCacheEvictsLRUWhenSlotFull(t *testing.T) {
	self, _ := GenerateKeyPair()
	clock := monotime.NewFrozen(time.Unix(0, 0))
	cache := NewSharedKeyCache(self.Secret, time.Hour, clock)

	// Force all peers into the same slot by fixing their first byte.
	var peers []PublicKey
	for i := 0; i < keysPerSlot+1; i++ {
		kp, _ := GenerateKeyPair()
		kp.Public[0] = 0x77
		peers = append(peers, kp.Public)
		cache.Get(kp.Public)
		clock.Advance(time.Second)
	}

	if cache.Len() != keysPerSlot {
		t.Fatalf("expected slot capacity %d, got %d", keysPerSlot, cache.Len())
	}
}
