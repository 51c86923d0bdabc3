package dht

import (
	"fmt"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// SendNodesRequest asks peer (at addr) for the nodes closest to target,
//: [0x02][sender_dht_pk:32][nonce:24][encrypted{target_pk:32, ping_id:8}].
func (d *DHT) SendNodesRequest(peer identity.PublicKey, addr wire.IPPort, target identity.PublicKey) error {
	pingID, err := newPingID()
	if err != nil {
		return err
	}
	nonce, err := identity.RandomNonce()
	if err != nil {
		return fmt.Errorf("nodes request nonce: %w", err)
	}

	plain := make([]byte, 32+pingIDSize)
	copy(plain[0:32], target[:])
	copy(plain[32:], pingID[:])
	ciphertext := encryptToPeer(d.SharedKey, peer, nonce, plain)

	body := make([]byte, 32+24+len(ciphertext))
	copy(body[0:32], d.Self.Public[:])
	copy(body[32:56], nonce[:])
	copy(body[56:], ciphertext)

	d.pending[pingID] = &pendingRequest{pingID: pingID, target: target, peer: peer, addr: addr, sentAt: d.Clock.Now(), isNodes: true}

	d.Logger.Debug("sending nodes request", "peer", shortKey(peer), "target", shortKey(target))
	return d.Send(addr, wire.NewPacket(wire.TagNodesRequest, body))
}

// HandleNodesRequest answers an inbound 0x02 packet with this node's
// own close list's closest MaxSentNodes entries to the requested target,
// including both IPv4 and IPv6 entries when present.
func (d *DHT) HandleNodesRequest(from wire.IPPort, pkt wire.Packet) error {
	body := pkt.Body()
	if len(body) < 32+24 {
		return fmt.Errorf("nodes request too short: %d bytes", len(body))
	}
	var peer identity.PublicKey
	copy(peer[:], body[0:32])
	var nonce identity.Nonce
	copy(nonce[:], body[32:56])
	ciphertext := body[56:]

	plain, err := decryptFromPeer(d.SharedKey, peer, nonce, ciphertext)
	if err != nil {
		d.Logger.Debug("nodes request auth failed", "peer", shortKey(peer), "error", err)
		return nil
	}
	if len(plain) != 32+pingIDSize {
		return nil
	}
	var target identity.PublicKey
	copy(target[:], plain[0:32])
	var pingID [pingIDSize]byte
	copy(pingID[:], plain[32:])

	d.heard(peer, from, d.Clock.Now())

	closest := d.selfClose.Closest(target, MaxSentNodes)
	var packed []byte
	count := 0
	for _, e := range closest {
		for _, addr := range []*wire.IPPort{e.IPv4, e.IPv6} {
			if addr == nil {
				continue
			}
			node, err := wire.PackNode(wire.PackedNode{IPPort: *addr, PK: e.PublicKey})
			if err != nil {
				continue
			}
			packed = append(packed, node...)
			count++
		}
	}

	respPlain := make([]byte, 0, 1+len(packed)+pingIDSize)
	respPlain = append(respPlain, byte(count))
	respPlain = append(respPlain, packed...)
	respPlain = append(respPlain, pingID[:]...)

	respNonce, err := identity.RandomNonce()
	if err != nil {
		return fmt.Errorf("nodes response nonce: %w", err)
	}
	respCipher := encryptToPeer(d.SharedKey, peer, respNonce, respPlain)

	respBody := make([]byte, 32+24+len(respCipher))
	copy(respBody[0:32], d.Self.Public[:])
	copy(respBody[32:56], respNonce[:])
	copy(respBody[56:], respCipher)

	return d.Send(from, wire.NewPacket(wire.TagNodesResponse, respBody))
}

// HandleNodesResponse validates and ingests an inbound 0x04 packet,
// adding every returned node to the anti-amplification queue for
// verification (nodes aren't trusted until they themselves answer a ping).
func (d *DHT) HandleNodesResponse(from wire.IPPort, pkt wire.Packet) error {
	body := pkt.Body()
	if len(body) < 32+24 {
		return fmt.Errorf("nodes response too short: %d bytes", len(body))
	}
	var peer identity.PublicKey
	copy(peer[:], body[0:32])
	var nonce identity.Nonce
	copy(nonce[:], body[32:56])
	ciphertext := body[56:]

	plain, err := decryptFromPeer(d.SharedKey, peer, nonce, ciphertext)
	if err != nil {
		d.Logger.Debug("nodes response auth failed", "peer", shortKey(peer), "error", err)
		return nil
	}
	if len(plain) < 1+pingIDSize {
		return nil
	}
	count := int(plain[0])
	rest := plain[1:]
	if len(rest) < pingIDSize {
		return nil
	}
	pingIDOffset := len(rest) - pingIDSize
	nodesBlob := rest[:pingIDOffset]
	var pingID [pingIDSize]byte
	copy(pingID[:], rest[pingIDOffset:])

	req, ok := d.pending[pingID]
	if !ok || req.peer != peer || !req.isNodes {
		d.Logger.Debug("nodes response id mismatch, discarding", "peer", shortKey(peer))
		return nil
	}
	delete(d.pending, pingID)

	d.heard(peer, from, d.Clock.Now())

	offset := 0
	parsed := 0
	now := d.Clock.Now()
	for offset < len(nodesBlob) && parsed < count {
		node, n, err := wire.UnpackNode(nodesBlob[offset:])
		if err != nil {
			break
		}
		offset += n
		parsed++
		if node.PK == d.Self.Public {
			continue // never add ourselves
		}
		d.toPing.Add(node.PK, node.IPPort, now)
	}

	return nil
}
