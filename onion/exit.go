package onion

import "github.com/toxgo/toxgo/wire"

// DecodeExit unwraps an exit-delivered packet (server.HandleSend's
// forward return value when isExit is true) into the accumulated return
// stub chain and the inner protocol packet (an announce or data-search
// request) addressed to this node. It is the exported counterpart of
// decodeExitBody for callers outside this package driving the onion
// server's dispatch.
func DecodeExit(pkt wire.Packet) (stubs [][]byte, inner wire.Packet, err error) {
	stubs, payload, err := decodeExitBody(pkt.Body())
	if err != nil {
		return nil, nil, err
	}
	return stubs, wire.Packet(payload), nil
}

// BuildReturn wraps inner (an announce or data-search response) in a
// TagOnionRecv packet addressed back down stubs, the first hop of the
// return path a server.HandleReturn call later peels one layer at a time.
func BuildReturn(stubs [][]byte, inner wire.Packet) wire.Packet {
	return wire.NewPacket(TagOnionRecv, encodeExitBody(stubs, []byte(inner)))
}
