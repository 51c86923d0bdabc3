package networking

import (
	"encoding/binary"
	"fmt"

	"github.com/toxgo/toxgo/wire"
)

// BootstrapInfo answers the bootstrap-info tag with a fixed
// version/motd reply: not a full HTTP/JSON bootstrap
// directory, just the minimal UDP responder toxcore's bootstrap nodes
// expose so a client can confirm a node is alive and read its motd.
type BootstrapInfo struct {
	Version uint32
	MOTD    string
}

// BuildBootstrapInfoResponse encodes [0xf0][version:4][motd_len:2][motd].
func (b BootstrapInfo) BuildBootstrapInfoResponse() wire.Packet {
	motd := []byte(b.MOTD)
	body := make([]byte, 4+2+len(motd))
	binary.BigEndian.PutUint32(body[0:4], b.Version)
	binary.BigEndian.PutUint16(body[4:6], uint16(len(motd)))
	copy(body[6:], motd)
	return wire.NewPacket(wire.TagBootstrapInfo, body)
}

// ParseBootstrapInfoResponse decodes a bootstrap-info reply.
func ParseBootstrapInfoResponse(pkt wire.Packet) (BootstrapInfo, error) {
	tag, err := pkt.Tag()
	if err != nil {
		return BootstrapInfo{}, err
	}
	if tag != wire.TagBootstrapInfo {
		return BootstrapInfo{}, fmt.Errorf("networking: not a bootstrap-info packet")
	}
	body := pkt.Body()
	if len(body) < 6 {
		return BootstrapInfo{}, fmt.Errorf("networking: bootstrap-info body too short")
	}
	version := binary.BigEndian.Uint32(body[0:4])
	motdLen := int(binary.BigEndian.Uint16(body[4:6]))
	if len(body) < 6+motdLen {
		return BootstrapInfo{}, fmt.Errorf("networking: bootstrap-info motd truncated")
	}
	return BootstrapInfo{Version: version, MOTD: string(body[6 : 6+motdLen])}, nil
}

// HandleBootstrapInfoRequest answers any (empty-bodied) request packet
// carrying the bootstrap-info tag with info's fixed reply.
func HandleBootstrapInfoRequest(info BootstrapInfo) wire.Packet {
	return info.BuildBootstrapInfoResponse()
}
