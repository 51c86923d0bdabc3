package netcrypto

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// handshakeInfo is the HKDF context string separating net-crypto session
// key derivation from every other use of HKDF in this module.
const handshakeInfo = "toxgo-netcrypto-session-keys-v1"

// HandshakeState is a client's in-flight handshake: the ephemeral session
// keypair and base nonce it proposed, held until the peer's handshake
// packet completes the exchange.
type HandshakeState struct {
	ours      identity.KeyPair
	peer      identity.PublicKey
	cookie    []byte
	session   identity.KeyPair
	baseNonce identity.Nonce
}

// BuildHandshake starts (or answers) a handshake: it generates a fresh
// session keypair and base nonce, and seals them alongside cookie under
// the two parties' long-term real keys.
func BuildHandshake(ours identity.KeyPair, peer identity.PublicKey, cookie []byte) (*HandshakeState, wire.Packet, error) {
	sessionKP, err := identity.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("generate session keypair: %w", err)
	}
	baseNonce, err := identity.RandomNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("generate base nonce: %w", err)
	}
	pkt, err := buildHandshakePacket(ours, peer, cookie, *sessionKP, baseNonce)
	if err != nil {
		return nil, nil, err
	}
	hs := &HandshakeState{ours: ours, peer: peer, cookie: cookie, session: *sessionKP, baseNonce: baseNonce}
	return hs, pkt, nil
}

// BuildHandshakeReply seals a handshake packet using an already-chosen
// session keypair and base nonce, for a responder that has already
// called CompleteResponder with that same pair and must echo it on the
// wire rather than generate a fresh one BuildHandshake would discard.
func BuildHandshakeReply(ours identity.KeyPair, peer identity.PublicKey, cookie []byte, session identity.KeyPair, baseNonce identity.Nonce) (wire.Packet, error) {
	return buildHandshakePacket(ours, peer, cookie, session, baseNonce)
}

func buildHandshakePacket(ours identity.KeyPair, peer identity.PublicKey, cookie []byte, session identity.KeyPair, baseNonce identity.Nonce) (wire.Packet, error) {
	plain := make([]byte, 0, len(cookie)+32+24)
	plain = append(plain, cookie...)
	plain = append(plain, session.Public[:]...)
	plain = append(plain, baseNonce[:]...)

	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("handshake nonce: %w", err)
	}
	ct := identity.Seal(plain, nonce, peer, ours.Secret)

	body := make([]byte, 0, 32+24+len(ct))
	body = append(body, ours.Public[:]...)
	body = append(body, nonce[:]...)
	body = append(body, ct...)
	return wire.NewPacket(wire.TagHandshake, body), nil
}

// ParsedHandshake is a decoded inbound handshake packet.
type ParsedHandshake struct {
	RealPK       identity.PublicKey
	Cookie       []byte
	SessionPK    identity.PublicKey
	BaseNonce    identity.Nonce
}

// ParseHandshake decrypts an inbound handshake packet addressed to us.
func ParseHandshake(ours identity.KeyPair, pkt wire.Packet, cookieSize int) (ParsedHandshake, error) {
	body := pkt.Body()
	if len(body) < 32+24 {
		return ParsedHandshake{}, fmt.Errorf("handshake too short: %d", len(body))
	}
	var out ParsedHandshake
	copy(out.RealPK[:], body[0:32])
	var nonce identity.Nonce
	copy(nonce[:], body[32:56])
	plain, err := identity.Open(body[56:], nonce, out.RealPK, ours.Secret)
	if err != nil {
		return ParsedHandshake{}, fmt.Errorf("open handshake: %w", err)
	}
	want := cookieSize + 32 + 24
	if len(plain) != want {
		return ParsedHandshake{}, fmt.Errorf("handshake payload wrong size: %d, want %d", len(plain), want)
	}
	out.Cookie = append([]byte{}, plain[:cookieSize]...)
	copy(out.SessionPK[:], plain[cookieSize:cookieSize+32])
	copy(out.BaseNonce[:], plain[cookieSize+32:])
	return out, nil
}

// Complete derives the session from our proposed handshake and the
// peer's parsed handshake, producing a ready-to-use Session. It is the
// initiator's step: the peer's reply handshake carries no cookie, so
// there is none to validate here.
func (hs *HandshakeState) Complete(peerSessionPK identity.PublicKey, peerBaseNonce identity.Nonce, now time.Time) (*Session, error) {
	shared := identity.Precompute(peerSessionPK, hs.session.Secret)

	sendKey, recvKey, err := deriveDirectionalKeys(shared, hs.session.Public, peerSessionPK)
	if err != nil {
		return nil, err
	}

	return newSession(sendKey, recvKey, hs.baseNonce, peerBaseNonce, now), nil
}

// CompleteResponder mirrors Complete for the side that answered a
// handshake it received (rather than one it initiated): direction labels
// are swapped so both sides agree on which key encrypts which direction.
// The caller validates the initiator's cookie (via CookieJar.Open) and
// matches it to this peer before calling CompleteResponder.
func CompleteResponder(ourSession identity.KeyPair, ourBaseNonce identity.Nonce, peerSessionPK identity.PublicKey, peerBaseNonce identity.Nonce, now time.Time) (*Session, error) {
	shared := identity.Precompute(peerSessionPK, ourSession.Secret)
	recvKey, sendKey, err := deriveDirectionalKeys(shared, peerSessionPK, ourSession.Public)
	if err != nil {
		return nil, err
	}
	return newSession(sendKey, recvKey, ourBaseNonce, peerBaseNonce, now), nil
}

// deriveDirectionalKeys expands the X25519 shared secret into two
// independent symmetric keys via HKDF-SHA256, one per direction, keyed
// by the ordering of the two session public keys so both ends agree
// which is which.
func deriveDirectionalKeys(shared *[32]byte, lowSidePK, highSidePK identity.PublicKey) (a, b identity.SymmetricKey, err error) {
	salt := make([]byte, 0, 64)
	salt = append(salt, lowSidePK[:]...)
	salt = append(salt, highSidePK[:]...)

	kdf := hkdf.New(sha256.New, shared[:], salt, []byte(handshakeInfo))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(kdf, buf); err != nil {
		return a, b, fmt.Errorf("hkdf expand session keys: %w", err)
	}
	copy(a[:], buf[0:32])
	copy(b[:], buf[32:64])
	return a, b, nil
}
