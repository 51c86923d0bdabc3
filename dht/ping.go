package dht

import (
	"fmt"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// sendPingRequest sends [0x00][sender_dht_pk:32][nonce:24][encrypted{ping_id:8}]
// and records the outstanding ping_id so the eventual response
// can be matched and validated.
func (d *DHT) sendPingRequest(peer identity.PublicKey, addr wire.IPPort) error {
	pingID, err := newPingID()
	if err != nil {
		return err
	}
	nonce, err := identity.RandomNonce()
	if err != nil {
		return fmt.Errorf("ping request nonce: %w", err)
	}

	ciphertext := encryptToPeer(d.SharedKey, peer, nonce, pingID[:])

	body := make([]byte, 32+24+len(ciphertext))
	copy(body[0:32], d.Self.Public[:])
	copy(body[32:56], nonce[:])
	copy(body[56:], ciphertext)

	d.pending[pingID] = &pendingRequest{pingID: pingID, peer: peer, addr: addr, sentAt: d.Clock.Now()}

	d.Logger.Debug("sending ping request", "peer", shortKey(peer), "addr", addr)
	return d.Send(addr, wire.NewPacket(wire.TagPingRequest, body))
}

// HandlePingRequest processes an inbound 0x00 packet and replies with 0x01
// echoing the same ping_id.
func (d *DHT) HandlePingRequest(from wire.IPPort, pkt wire.Packet) error {
	body := pkt.Body()
	if len(body) < 32+24 {
		return fmt.Errorf("ping request too short: %d bytes", len(body))
	}
	var peer identity.PublicKey
	copy(peer[:], body[0:32])
	var nonce identity.Nonce
	copy(nonce[:], body[32:56])
	ciphertext := body[56:]

	plain, err := decryptFromPeer(d.SharedKey, peer, nonce, ciphertext)
	if err != nil {
		// Packet-level auth failures are logged and silently dropped.
		d.Logger.Debug("ping request auth failed", "peer", shortKey(peer), "error", err)
		return nil
	}
	if len(plain) != pingIDSize {
		d.Logger.Debug("ping request bad payload size", "peer", shortKey(peer), "size", len(plain))
		return nil
	}

	d.heard(peer, from, d.Clock.Now())

	respNonce, err := identity.RandomNonce()
	if err != nil {
		return fmt.Errorf("ping response nonce: %w", err)
	}
	respCipher := encryptToPeer(d.SharedKey, peer, respNonce, plain)

	respBody := make([]byte, 32+24+len(respCipher))
	copy(respBody[0:32], d.Self.Public[:])
	copy(respBody[32:56], respNonce[:])
	copy(respBody[56:], respCipher)

	return d.Send(from, wire.NewPacket(wire.TagPingResponse, respBody))
}

// HandlePingResponse processes an inbound 0x01 packet, validating that
// the echoed ping_id matches a recent outgoing ping request before
// admitting the sender to the routing table.
func (d *DHT) HandlePingResponse(from wire.IPPort, pkt wire.Packet) error {
	body := pkt.Body()
	if len(body) < 32+24 {
		return fmt.Errorf("ping response too short: %d bytes", len(body))
	}
	var peer identity.PublicKey
	copy(peer[:], body[0:32])
	var nonce identity.Nonce
	copy(nonce[:], body[32:56])
	ciphertext := body[56:]

	plain, err := decryptFromPeer(d.SharedKey, peer, nonce, ciphertext)
	if err != nil {
		d.Logger.Debug("ping response auth failed", "peer", shortKey(peer), "error", err)
		return nil
	}
	if len(plain) != pingIDSize {
		return nil
	}
	var echoed [pingIDSize]byte
	copy(echoed[:], plain)

	req, ok := d.pending[echoed]
	if !ok || req.peer != peer || req.isNodes {
		d.Logger.Debug("ping response id mismatch, discarding", "peer", shortKey(peer))
		return nil
	}
	delete(d.pending, echoed)

	d.heard(peer, from, d.Clock.Now())
	d.Logger.Debug("ping response verified", "peer", shortKey(peer))
	return nil
}

func shortKey(pk identity.PublicKey) string {
	return fmt.Sprintf("%x", pk[:4])
}
