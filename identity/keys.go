// Package identity implements the core crypto primitives: X25519
// keypairs and authenticated sealed boxes (XSalsa20-Poly1305 via NaCl),
// Ed25519 signature keypairs for group chats, nonce generation, and the
// shared-key cache that amortizes the DHT's dominant CPU cost.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	// PublicKeySize is the size of an X25519 public key, and the size of
	// a DHT key-space identifier.
	PublicKeySize = 32
	// SecretKeySize is the size of an X25519 secret key.
	SecretKeySize = 32
	// NonceSize is the size of an XSalsa20-Poly1305 nonce.
	NonceSize = 24
	// NospamSize is the size of the rotatable nospam tag appended to a
	// user's advertised ID (GLOSSARY).
	NospamSize = 4
)

// PublicKey is a node's long-term (or ephemeral) X25519 public key, and
// doubles as its DHT key-space identifier.
type PublicKey [PublicKeySize]byte

// SecretKey is an X25519 secret key. Callers should Zero it once no
// longer needed.
type SecretKey [SecretKeySize]byte

// Zero overwrites the secret key's bytes, clearing ephemeral keys on
// every exit path.
func (s *SecretKey) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// Nonce is the 24-byte XSalsa20-Poly1305 nonce used by every sealed box.
type Nonce [NonceSize]byte

// KeyPair is a long-term or ephemeral X25519 identity.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// GenerateKeyPair creates a fresh X25519 keypair using crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate X25519 keypair: %w", err)
	}
	return &KeyPair{Public: PublicKey(*pub), Secret: SecretKey(*sec)}, nil
}

// RandomNonce returns a fresh nonce drawn from crypto/rand. Nonces must
// never repeat within a session.
func RandomNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

// RandomNospam returns a fresh 4-byte nospam tag.
func RandomNospam() ([NospamSize]byte, error) {
	var n [NospamSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("generate nospam: %w", err)
	}
	return n, nil
}

// SignKeyPair is the Ed25519 signature keypair used for group-chat
// message authentication.
type SignKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSignKeyPair creates a fresh Ed25519 signature keypair, always
// seeded from crypto/rand.
func GenerateSignKeyPair() (*SignKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return &SignKeyPair{Public: pub, Private: priv}, nil
}

// Distance computes the XOR distance between two public keys, interpreted
// as a 256-bit big-endian integer. The returned value
// preserves ordering: Distance(a, t) < Distance(b, t) iff a is closer to t.
func Distance(a, b PublicKey) [PublicKeySize]byte {
	var d [PublicKeySize]byte
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Closer reports whether a is strictly closer to target than b, comparing
// XOR distances as big-endian integers.
func Closer(a, b, target PublicKey) bool {
	da := Distance(a, target)
	db := Distance(b, target)
	for i := range da {
		if da[i] != db[i] {
			return da[i] < db[i]
		}
	}
	return false
}

// x25519SharedSecret performs one scalar multiplication, the dominant CPU
// cost the shared-key cache (sharedkey.go) amortizes away.
func x25519SharedSecret(secret SecretKey, peer PublicKey) (PublicKey, error) {
	var out [32]byte
	shared, err := curve25519.X25519(secret[:], peer[:])
	if err != nil {
		return out, fmt.Errorf("curve25519 scalar mult: %w", err)
	}
	copy(out[:], shared)
	return out, nil
}
