// Package netcrypto implements the reliable, congestion-controlled
// encrypted transport used once two nodes have found each other: a
// cookie handshake that keeps the responder stateless until liveness
// is proven, per-packet nonce reconstruction with replay protection,
// and a windowed reliable layer with AIMD-style congestion control.
package netcrypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/toxgo/toxgo/identity"
)

// CookieLifetime bounds how long a minted cookie remains acceptable:
// Open rejects a cookie older than this. The jar keeps no record of
// cookies already used, so a cookie inside its lifetime opens again.
const CookieLifetime = 15 * time.Second

const cookiePlainSize = identity.PublicKeySize*2 + 8 // real_pk, dht_pk, unix timestamp

// CookieSize is the full wire size of a minted cookie: nonce(24) +
// secretbox(cookiePlainSize=72) with 16 bytes Poly1305 overhead.
const CookieSize = identity.NonceSize + cookiePlainSize + 16

// CookieJar mints and verifies cookies under a secret key known only to
// this node, so it never needs to remember who it handed a cookie to.
type CookieJar struct {
	key identity.SymmetricKey
}

// NewCookieJar generates a fresh cookie-signing key.
func NewCookieJar() (*CookieJar, error) {
	var key identity.SymmetricKey
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generate cookie key: %w", err)
	}
	return &CookieJar{key: key}, nil
}

// Mint produces an opaque cookie binding the requester's real and DHT
// public keys to the current time.
func (j *CookieJar) Mint(realPK, dhtPK identity.PublicKey, now time.Time) ([]byte, error) {
	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("cookie nonce: %w", err)
	}
	plain := make([]byte, cookiePlainSize)
	copy(plain[0:32], realPK[:])
	copy(plain[32:64], dhtPK[:])
	binary.BigEndian.PutUint64(plain[64:72], uint64(now.Unix()))

	ct := identity.SealSymmetric(plain, nonce, &j.key)
	out := make([]byte, 0, CookieSize)
	out = append(out, nonce[:]...)
	out = append(out, ct...)
	return out, nil
}

// Open verifies and decodes a cookie previously minted by this jar.
func (j *CookieJar) Open(cookie []byte, now time.Time) (realPK, dhtPK identity.PublicKey, err error) {
	if len(cookie) != CookieSize {
		return realPK, dhtPK, fmt.Errorf("cookie wrong size: %d", len(cookie))
	}
	var nonce identity.Nonce
	copy(nonce[:], cookie[:identity.NonceSize])
	plain, err := identity.OpenSymmetric(cookie[identity.NonceSize:], nonce, &j.key)
	if err != nil {
		return realPK, dhtPK, fmt.Errorf("open cookie: %w", err)
	}
	if len(plain) != cookiePlainSize {
		return realPK, dhtPK, fmt.Errorf("cookie payload wrong size: %d", len(plain))
	}
	copy(realPK[:], plain[0:32])
	copy(dhtPK[:], plain[32:64])
	issuedAt := time.Unix(int64(binary.BigEndian.Uint64(plain[64:72])), 0)
	if now.Sub(issuedAt) > CookieLifetime {
		return realPK, dhtPK, fmt.Errorf("cookie expired")
	}
	return realPK, dhtPK, nil
}
