// Package wire implements the on-wire packet framing: the one-byte
// type-tag partition shared by every UDP packet, the IP_Port endpoint
// encoding (including the TCP-synthetic families), and packed-node
// encoding used by DHT nodes responses.
package wire

import "fmt"

// Packet tag partition. No two layers share a tag.
const (
	TagPingRequest   uint8 = 0x00
	TagPingResponse  uint8 = 0x01
	TagNodesRequest  uint8 = 0x02
	TagNodesResponse uint8 = 0x04

	TagCookieRequest  uint8 = 0x18
	TagCookieResponse uint8 = 0x19
	TagHandshake      uint8 = 0x1a
	TagCryptoData     uint8 = 0x1b
	TagCryptoLegacy   uint8 = 0x20

	TagLANDiscovery uint8 = 0x21

	TagGroupAnnounce uint8 = 0x5a
	TagGroupJoin     uint8 = 0x5b
	TagGroupData     uint8 = 0x5c

	TagOnionSendBase uint8 = 0x80 // 0x80-0x82: send layer 1-3
	TagOnionRecvBase uint8 = 0x8c // 0x8c-0x8e: recv layer 1-3 (return path)
	TagOnionAnnounce uint8 = 0x83
	TagOnionData     uint8 = 0x85
	// Legacy deprecated announce tags — interop only.
	TagOnionAnnounceLegacy uint8 = 0x83
	TagOnionDataLegacy     uint8 = 0x84

	TagDataSearch   uint8 = 0x93
	TagDataRetrieve uint8 = 0x94
	TagDataAnnounce uint8 = 0x95

	TagBootstrapInfo uint8 = 0xf0
)

// Packet is a decoded-or-to-be-encoded UDP packet: one type tag plus body.
type Packet []byte

// NewPacket allocates a packet with the given tag and body capacity.
func NewPacket(tag uint8, body []byte) Packet {
	p := make(Packet, 1+len(body))
	p[0] = tag
	copy(p[1:], body)
	return p
}

// Tag returns the packet's type byte, or an error if the packet is empty.
func (p Packet) Tag() (uint8, error) {
	if len(p) < 1 {
		return 0, fmt.Errorf("empty packet")
	}
	return p[0], nil
}

// Body returns everything after the type byte.
func (p Packet) Body() []byte {
	if len(p) < 1 {
		return nil
	}
	return p[1:]
}
