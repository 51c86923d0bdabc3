package tcprelay

import (
	"fmt"

	"github.com/toxgo/toxgo/identity"
)

// Control packet tags occupy the low IDs; data for connection slot k is
// tagged numReservedIDs+k, so control and data share one byte-wide
// namespace without a separate framing bit.
const (
	TagRouteRequest      uint8 = 0
	TagRouteResponse     uint8 = 1
	TagConnectNotify     uint8 = 2
	TagDisconnectNotify  uint8 = 3
	TagPingRequest       uint8 = 4
	TagPingResponse      uint8 = 5
	TagOOBSend           uint8 = 6
	TagOOBRecv           uint8 = 7
	TagOnionRequest      uint8 = 8
	TagOnionResponse     uint8 = 9
	numReservedIDs             = 16
)

// MaxConnections is the size of the data-tag range (240 connection_ids).
// connection_id 0 is reserved to report a failed route, so one relay
// connection carries at most MaxConnections-1 (239) peer routes.
const MaxConnections = 256 - numReservedIDs

// ConnIDToTag and TagToConnID convert between a 0-based routing slot and
// its wire tag.
func ConnIDToTag(id uint8) uint8 { return numReservedIDs + id }
func TagToConnID(tag uint8) (uint8, bool) {
	if tag < numReservedIDs {
		return 0, false
	}
	return tag - numReservedIDs, true
}

// BuildRouteRequest asks the relay to open a route to peerPK, assigning
// it whatever connection_id is next free on the relay's side.
func BuildRouteRequest(peerPK identity.PublicKey) []byte {
	return append([]byte{TagRouteRequest}, peerPK[:]...)
}

func ParseRouteRequest(plain []byte) (identity.PublicKey, error) {
	if len(plain) != 1+32 {
		return identity.PublicKey{}, fmt.Errorf("route request wrong size: %d", len(plain))
	}
	var pk identity.PublicKey
	copy(pk[:], plain[1:])
	return pk, nil
}

// BuildRouteResponse answers a route request with the assigned
// connection_id (0 means "routing failed, table full").
func BuildRouteResponse(connID uint8, peerPK identity.PublicKey) []byte {
	out := make([]byte, 1+1+32)
	out[0] = TagRouteResponse
	out[1] = connID
	copy(out[2:], peerPK[:])
	return out
}

func ParseRouteResponse(plain []byte) (connID uint8, peerPK identity.PublicKey, err error) {
	if len(plain) != 1+1+32 {
		return 0, identity.PublicKey{}, fmt.Errorf("route response wrong size: %d", len(plain))
	}
	connID = plain[1]
	copy(peerPK[:], plain[2:])
	return connID, peerPK, nil
}

// BuildConnectNotify/BuildDisconnectNotify announce a routed peer going
// online or offline on the relay.
func BuildConnectNotify(connID uint8) []byte    { return []byte{TagConnectNotify, connID} }
func BuildDisconnectNotify(connID uint8) []byte { return []byte{TagDisconnectNotify, connID} }

func ParseConnID(tag uint8, plain []byte) (uint8, error) {
	if len(plain) != 2 || plain[0] != tag {
		return 0, fmt.Errorf("malformed %d notification", tag)
	}
	return plain[1], nil
}

// BuildData wraps payload addressed to connID, the routing-table slot
// negotiated by BuildRouteRequest/BuildRouteResponse.
func BuildData(connID uint8, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = ConnIDToTag(connID)
	copy(out[1:], payload)
	return out
}

func ParseData(plain []byte) (connID uint8, payload []byte, ok bool) {
	if len(plain) < 1 {
		return 0, nil, false
	}
	id, isData := TagToConnID(plain[0])
	if !isData {
		return 0, nil, false
	}
	return id, plain[1:], true
}

// OOB (out-of-band) packets let a client reach a peer it has no routed
// connection_id for yet, addressed directly by public key — used for the
// onion path's hop-0 proxying.
func BuildOOBSend(destPK identity.PublicKey, payload []byte) []byte {
	out := make([]byte, 1+32+len(payload))
	out[0] = TagOOBSend
	copy(out[1:33], destPK[:])
	copy(out[33:], payload)
	return out
}

func ParseOOBSend(plain []byte) (destPK identity.PublicKey, payload []byte, err error) {
	if len(plain) < 1+32 {
		return identity.PublicKey{}, nil, fmt.Errorf("oob send too short: %d", len(plain))
	}
	copy(destPK[:], plain[1:33])
	return destPK, plain[33:], nil
}

func BuildOOBRecv(senderPK identity.PublicKey, payload []byte) []byte {
	out := make([]byte, 1+32+len(payload))
	out[0] = TagOOBRecv
	copy(out[1:33], senderPK[:])
	copy(out[33:], payload)
	return out
}

func ParseOOBRecv(plain []byte) (senderPK identity.PublicKey, payload []byte, err error) {
	if len(plain) < 1+32 {
		return identity.PublicKey{}, nil, fmt.Errorf("oob recv too short: %d", len(plain))
	}
	copy(senderPK[:], plain[1:33])
	return senderPK, plain[33:], nil
}

// BuildOnionRequest/BuildOnionResponse let a TCP-only client proxy its
// hop-0 onion traffic through the relay itself.
func BuildOnionRequest(payload []byte) []byte {
	return append([]byte{TagOnionRequest}, payload...)
}

func BuildOnionResponse(payload []byte) []byte {
	return append([]byte{TagOnionResponse}, payload...)
}
