package identity

import (
	"crypto/ed25519"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("generate sign keypair: %v", err)
	}
	msg := []byte("group message")
	sig := kp.Sign(msg)
	if !Verify(kp.Public, msg, sig) {
		t.Fatalf("signature did not verify")
	}
	if Verify(kp.Public, []byte("tampered"), sig) {
		t.Fatalf("signature verified against the wrong message")
	}
}

func TestBatchVerifyAllValid(t *testing.T) {
	const n = 5
	var msgs [][]byte
	var sigs [][]byte
	var keys []ed25519.PublicKey
	for i := 0; i < n; i++ {
		kp, err := GenerateSignKeyPair()
		if err != nil {
			t.Fatalf("generate sign keypair %d: %v", i, err)
		}
		msg := []byte{byte(i), byte(i + 1), byte(i + 2)}
		msgs = append(msgs, msg)
		sigs = append(sigs, kp.Sign(msg))
		keys = append(keys, kp.Public)
	}

	ok, err := BatchVerify(msgs, sigs, keys)
	if err != nil {
		t.Fatalf("batch verify: %v", err)
	}
	if !ok {
		t.Fatalf("batch of valid signatures reported invalid")
	}

	tampered := make([][]byte, len(sigs))
	copy(tampered, sigs)
	corrupted := append([]byte(nil), tampered[2]...)
	corrupted[0] ^= 0xff
	tampered[2] = corrupted

	ok, err = BatchVerify(msgs, tampered, keys)
	if err != nil {
		t.Fatalf("batch verify: %v", err)
	}
	if ok {
		t.Fatalf("batch with a corrupted signature reported valid")
	}
}

func TestBatchVerifyMismatchedLengths(t *testing.T) {
	if _, err := BatchVerify([][]byte{{1}}, nil, nil); err == nil {
		t.Fatalf("expected an error for mismatched slice lengths")
	}
}
