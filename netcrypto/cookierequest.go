package netcrypto

import (
	"fmt"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

const echoIDSize = 8

// BuildCookieRequest asks peer (addressed via the DHT layer) to mint a
// cookie for us: [tag][our_real_pk:32][our_dht_pk:32][nonce:24][echo_id:8 encrypted].
func BuildCookieRequest(ours identity.KeyPair, ourDHT identity.PublicKey, peer identity.PublicKey, echoID [echoIDSize]byte) (wire.Packet, error) {
	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("cookie request nonce: %w", err)
	}
	ct := identity.Seal(echoID[:], nonce, peer, ours.Secret)

	body := make([]byte, 0, 32+32+24+len(ct))
	body = append(body, ours.Public[:]...)
	body = append(body, ourDHT[:]...)
	body = append(body, nonce[:]...)
	body = append(body, ct...)
	return wire.NewPacket(wire.TagCookieRequest, body), nil
}

// ParsedCookieRequest is a decoded inbound cookie request.
type ParsedCookieRequest struct {
	RealPK identity.PublicKey
	DHTPK  identity.PublicKey
	EchoID [echoIDSize]byte
}

// HandleCookieRequest decrypts pkt using our own real secret key. The
// responder does not remember having seen this request once answered.
func HandleCookieRequest(ours identity.KeyPair, pkt wire.Packet) (ParsedCookieRequest, error) {
	body := pkt.Body()
	if len(body) < 32+32+24 {
		return ParsedCookieRequest{}, fmt.Errorf("cookie request too short: %d", len(body))
	}
	var req ParsedCookieRequest
	copy(req.RealPK[:], body[0:32])
	copy(req.DHTPK[:], body[32:64])
	var nonce identity.Nonce
	copy(nonce[:], body[64:88])
	plain, err := identity.Open(body[88:], nonce, req.RealPK, ours.Secret)
	if err != nil {
		return ParsedCookieRequest{}, fmt.Errorf("open cookie request: %w", err)
	}
	if len(plain) != echoIDSize {
		return ParsedCookieRequest{}, fmt.Errorf("cookie request echo id wrong size: %d", len(plain))
	}
	copy(req.EchoID[:], plain)
	return req, nil
}

// BuildCookieResponse replies with the minted cookie plus the echoed id,
// encrypted to the requester's real key: [tag][our_real_pk:32][nonce:24][cookie||echo_id encrypted].
func BuildCookieResponse(ours identity.KeyPair, jar *CookieJar, req ParsedCookieRequest, now time.Time) (wire.Packet, error) {
	cookie, err := jar.Mint(req.RealPK, req.DHTPK, now)
	if err != nil {
		return nil, err
	}
	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("cookie response nonce: %w", err)
	}
	plain := append(append([]byte{}, cookie...), req.EchoID[:]...)
	ct := identity.Seal(plain, nonce, req.RealPK, ours.Secret)

	body := make([]byte, 0, 32+24+len(ct))
	body = append(body, ours.Public[:]...)
	body = append(body, nonce[:]...)
	body = append(body, ct...)
	return wire.NewPacket(wire.TagCookieResponse, body), nil
}

// ParsedCookieResponse is a decoded inbound cookie response.
type ParsedCookieResponse struct {
	Cookie []byte
	EchoID [echoIDSize]byte
}

// HandleCookieResponse decrypts a response we expect from peer.
func HandleCookieResponse(ours identity.KeyPair, peer identity.PublicKey, pkt wire.Packet) (ParsedCookieResponse, error) {
	body := pkt.Body()
	if len(body) < 32+24 {
		return ParsedCookieResponse{}, fmt.Errorf("cookie response too short: %d", len(body))
	}
	var nonce identity.Nonce
	copy(nonce[:], body[32:56])
	plain, err := identity.Open(body[56:], nonce, peer, ours.Secret)
	if err != nil {
		return ParsedCookieResponse{}, fmt.Errorf("open cookie response: %w", err)
	}
	if len(plain) != CookieSize+echoIDSize {
		return ParsedCookieResponse{}, fmt.Errorf("cookie response payload wrong size: %d", len(plain))
	}
	resp := ParsedCookieResponse{Cookie: append([]byte{}, plain[:CookieSize]...)}
	copy(resp.EchoID[:], plain[CookieSize:])
	return resp, nil
}
