package identity

import (
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// Seal authenticates and encrypts plaintext to peer using our secret key,
//: X25519+XSalsa20+Poly1305 with a 24-byte nonce.
func Seal(plaintext []byte, nonce Nonce, peer PublicKey, ours SecretKey) []byte {
	n := [NonceSize]byte(nonce)
	p := [PublicKeySize]byte(peer)
	s := [SecretKeySize]byte(ours)
	return box.Seal(nil, plaintext, &n, &p, &s)
}

// Open authenticates and decrypts ciphertext sent by peer. It returns an
// error on any MAC mismatch. Callers must authenticate before any state
// update.
func Open(ciphertext []byte, nonce Nonce, peer PublicKey, ours SecretKey) ([]byte, error) {
	n := [NonceSize]byte(nonce)
	p := [PublicKeySize]byte(peer)
	s := [SecretKeySize]byte(ours)
	out, ok := box.Open(nil, ciphertext, &n, &p, &s)
	if !ok {
		return nil, fmt.Errorf("box open: authentication failed")
	}
	return out, nil
}

// SealPrecomputed is the shared-key-cache fast path: the caller has
// already computed the X25519 shared secret (identity.SharedKey) and
// skips the scalar multiplication box.Seal would otherwise repeat.
func SealPrecomputed(plaintext []byte, nonce Nonce, shared *[32]byte) []byte {
	n := [NonceSize]byte(nonce)
	return box.SealAfterPrecomputation(nil, plaintext, &n, shared)
}

// OpenPrecomputed is the shared-key-cache fast path for Open.
func OpenPrecomputed(ciphertext []byte, nonce Nonce, shared *[32]byte) ([]byte, error) {
	n := [NonceSize]byte(nonce)
	out, ok := box.OpenAfterPrecomputation(nil, ciphertext, &n, shared)
	if !ok {
		return nil, fmt.Errorf("box open (precomputed): authentication failed")
	}
	return out, nil
}

// Precompute derives the X25519 shared secret used by box.*Precomputation,
// the single scalar multiplication the shared-key cache amortizes.
func Precompute(peer PublicKey, ours SecretKey) *[32]byte {
	var shared [32]byte
	p := [PublicKeySize]byte(peer)
	s := [SecretKeySize]byte(ours)
	box.Precompute(&shared, &p, &s)
	return &shared
}

// SymmetricKey is a pre-shared key for secretbox operations: onion
// return-path stubs and TCP-relay frame encryption,
// where there is no peer public key to Diffie-Hellman against.
type SymmetricKey [32]byte

// SealSymmetric encrypts plaintext under a pre-shared symmetric key.
func SealSymmetric(plaintext []byte, nonce Nonce, key *SymmetricKey) []byte {
	n := [NonceSize]byte(nonce)
	k := [32]byte(*key)
	return secretbox.Seal(nil, plaintext, &n, &k)
}

// OpenSymmetric decrypts and authenticates ciphertext under a pre-shared
// symmetric key.
func OpenSymmetric(ciphertext []byte, nonce Nonce, key *SymmetricKey) ([]byte, error) {
	n := [NonceSize]byte(nonce)
	k := [32]byte(*key)
	out, ok := secretbox.Open(nil, ciphertext, &n, &k)
	if !ok {
		return nil, fmt.Errorf("secretbox open: authentication failed")
	}
	return out, nil
}
