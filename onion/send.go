package onion

import (
	"fmt"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// BuildSendPacket wraps payload (a plain wire.Packet addressed to
// destAddr's protocol handler, e.g. an announce or data-search request)
// in three nested encrypted layers over path: destAddr plus payload
// sealed to hop 3's key, then hop 3's address plus that layer sealed to
// hop 2's key, then hop 2's address plus that layer sealed to hop 1's
// key, so each hop learns only the next address. It returns the packet
// to send and the address of path's first hop.
func BuildSendPacket(path *Path, destAddr wire.IPPort, payload wire.Packet) (wire.Packet, wire.IPPort, error) {
	layer3Plain, err := addrPrefixed(destAddr, encodeExitBody(nil, payload))
	if err != nil {
		return nil, wire.IPPort{}, err
	}
	inner3, err := sealLayer(path, 2, layer3Plain, TagSend3)
	if err != nil {
		return nil, wire.IPPort{}, err
	}

	layer2Plain, err := addrPrefixed(path.Hops[2].Addr, inner3)
	if err != nil {
		return nil, wire.IPPort{}, err
	}
	inner2, err := sealLayer(path, 1, layer2Plain, TagSend2)
	if err != nil {
		return nil, wire.IPPort{}, err
	}

	layer1Plain, err := addrPrefixed(path.Hops[1].Addr, inner2)
	if err != nil {
		return nil, wire.IPPort{}, err
	}
	outer, err := sealLayer(path, 0, layer1Plain, TagSend1)
	if err != nil {
		return nil, wire.IPPort{}, err
	}

	return outer, path.Hops[0].Addr, nil
}

func addrPrefixed(addr wire.IPPort, rest []byte) ([]byte, error) {
	packed, err := wire.PackIPPort(addr)
	if err != nil {
		return nil, fmt.Errorf("pack onion hop address: %w", err)
	}
	out := make([]byte, 0, len(packed)+len(rest))
	out = append(out, packed...)
	out = append(out, rest...)
	return out, nil
}

func sealLayer(path *Path, hop int, plain []byte, tag uint8) (wire.Packet, error) {
	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("onion layer %d nonce: %w", hop, err)
	}
	ct := identity.Seal(plain, nonce, path.Hops[hop].PK, path.Ephemeral[hop].Secret)
	return encodeEnvelope(tag, path.Ephemeral[hop].Public, nonce, ct, nil), nil
}
