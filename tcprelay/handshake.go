package tcprelay

import (
	"fmt"

	"github.com/toxgo/toxgo/identity"
)

// handshakePlainSize is the session-key-exchange payload: a fresh
// ephemeral session public key plus its base nonce.
const handshakePlainSize = identity.PublicKeySize + identity.NonceSize

// BuildHandshake seals our ephemeral session key and base nonce to the
// relay's long-term public key, the first message sent over a freshly
// dialed (and possibly SOCKS5-proxied) TCP connection.
func BuildHandshake(ours identity.KeyPair, relayPK identity.PublicKey, session identity.KeyPair, baseNonce identity.Nonce) ([]byte, error) {
	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("relay handshake nonce: %w", err)
	}
	plain := make([]byte, handshakePlainSize)
	copy(plain[0:32], session.Public[:])
	copy(plain[32:56], baseNonce[:])
	ct := identity.Seal(plain, nonce, relayPK, ours.Secret)

	out := make([]byte, 0, 32+24+len(ct))
	out = append(out, ours.Public[:]...)
	out = append(out, nonce[:]...)
	out = append(out, ct...)
	return out, nil
}

// ParsedHandshake is a decoded relay handshake message.
type ParsedHandshake struct {
	PeerPK    identity.PublicKey
	SessionPK identity.PublicKey
	BaseNonce identity.Nonce
}

// ParseHandshake decrypts an inbound handshake message using ours'
// secret key.
func ParseHandshake(ours identity.KeyPair, msg []byte) (ParsedHandshake, error) {
	if len(msg) < 32+24 {
		return ParsedHandshake{}, fmt.Errorf("relay handshake too short: %d", len(msg))
	}
	var out ParsedHandshake
	copy(out.PeerPK[:], msg[0:32])
	var nonce identity.Nonce
	copy(nonce[:], msg[32:56])
	plain, err := identity.Open(msg[56:], nonce, out.PeerPK, ours.Secret)
	if err != nil {
		return ParsedHandshake{}, fmt.Errorf("open relay handshake: %w", err)
	}
	if len(plain) != handshakePlainSize {
		return ParsedHandshake{}, fmt.Errorf("relay handshake payload wrong size: %d", len(plain))
	}
	copy(out.SessionPK[:], plain[0:32])
	copy(out.BaseNonce[:], plain[32:56])
	return out, nil
}

// DeriveSharedKey precomputes the symmetric key both sides use to seal
// every subsequent frame on this connection.
func DeriveSharedKey(ourSessionSecret identity.SecretKey, peerSessionPK identity.PublicKey) identity.SymmetricKey {
	shared := identity.Precompute(peerSessionPK, ourSessionSecret)
	return identity.SymmetricKey(*shared)
}
