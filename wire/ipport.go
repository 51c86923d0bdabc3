package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Family identifies the address kind of an IP_Port.
// The TCP-synthetic families let a TCP-multiplexed peer be addressed
// through the same dispatch path as a UDP peer: the "address" bytes
// encode a relay-connection index instead of a real IP.
type Family uint8

const (
	FamilyIPv4 Family = iota + 1
	FamilyIPv6
	FamilyTCPIPv4
	FamilyTCPIPv6
	FamilyTCPClientSynth
	FamilyTCPServerSynth
)

// IPPort is the (family, address, port) tuple used to address a peer.
type IPPort struct {
	Family Family
	IP     net.IP // 4 or 16 bytes, meaningless for the TCP-synth families
	Port   uint16
	// TCPConnNum is populated/used only for the TCP-synthetic families: it
	// is the mux index of the TCP_Connections relay slot this address
	// stands in for (see TCPConnNumToIPPort / IPPortToTCPConnNum).
	TCPConnNum uint32
}

// PackedNodeSize returns the wire size of one packed node entry for the
// given family: family(1) + ip(4 or 16) + port(2) + pk(32).
func PackedNodeSize(f Family) int {
	switch f {
	case FamilyIPv4, FamilyTCPIPv4:
		return 1 + 4 + 2 + 32
	case FamilyIPv6, FamilyTCPIPv6:
		return 1 + 16 + 2 + 32
	default:
		return 0
	}
}

// PackIPPort encodes an IP_Port as family(1) + address + port(2), the
// packed-node wire format.
func PackIPPort(ipp IPPort) ([]byte, error) {
	switch ipp.Family {
	case FamilyIPv4:
		ip4 := ipp.IP.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("pack ip_port: not an IPv4 address: %v", ipp.IP)
		}
		buf := make([]byte, 1+4+2)
		buf[0] = byte(FamilyIPv4)
		copy(buf[1:5], ip4)
		binary.BigEndian.PutUint16(buf[5:7], ipp.Port)
		return buf, nil
	case FamilyIPv6:
		ip16 := ipp.IP.To16()
		if ip16 == nil {
			return nil, fmt.Errorf("pack ip_port: not an IPv6 address: %v", ipp.IP)
		}
		buf := make([]byte, 1+16+2)
		buf[0] = byte(FamilyIPv6)
		copy(buf[1:17], ip16)
		binary.BigEndian.PutUint16(buf[17:19], ipp.Port)
		return buf, nil
	default:
		return nil, fmt.Errorf("pack ip_port: unsupported family %d", ipp.Family)
	}
}

// UnpackIPPort decodes a packed IP_Port and returns the number of bytes
// consumed. unpack_ip_port(pack_ip_port(x)) == x for every well-formed
// IP_Port.
func UnpackIPPort(data []byte) (IPPort, int, error) {
	if len(data) < 1 {
		return IPPort{}, 0, fmt.Errorf("unpack ip_port: empty input")
	}
	fam := Family(data[0])
	switch fam {
	case FamilyIPv4:
		if len(data) < 7 {
			return IPPort{}, 0, fmt.Errorf("unpack ip_port: truncated IPv4 entry")
		}
		ip := net.IP(append([]byte(nil), data[1:5]...))
		port := binary.BigEndian.Uint16(data[5:7])
		return IPPort{Family: FamilyIPv4, IP: ip, Port: port}, 7, nil
	case FamilyIPv6:
		if len(data) < 19 {
			return IPPort{}, 0, fmt.Errorf("unpack ip_port: truncated IPv6 entry")
		}
		ip := net.IP(append([]byte(nil), data[1:17]...))
		port := binary.BigEndian.Uint16(data[17:19])
		return IPPort{Family: FamilyIPv6, IP: ip, Port: port}, 19, nil
	default:
		return IPPort{}, 0, fmt.Errorf("unpack ip_port: unsupported family %d", fam)
	}
}

// PackedNode is one entry of a DHT nodes-response: family/ip/port + public key.
type PackedNode struct {
	IPPort IPPort
	PK     [32]byte
}

// PackNode encodes a single packed-node entry.
func PackNode(n PackedNode) ([]byte, error) {
	head, err := PackIPPort(n.IPPort)
	if err != nil {
		return nil, fmt.Errorf("pack node: %w", err)
	}
	buf := make([]byte, len(head)+32)
	copy(buf, head)
	copy(buf[len(head):], n.PK[:])
	return buf, nil
}

// UnpackNode decodes a single packed-node entry, returning bytes consumed.
func UnpackNode(data []byte) (PackedNode, int, error) {
	ipp, n, err := UnpackIPPort(data)
	if err != nil {
		return PackedNode{}, 0, fmt.Errorf("unpack node: %w", err)
	}
	if len(data) < n+32 {
		return PackedNode{}, 0, fmt.Errorf("unpack node: truncated public key")
	}
	var pk [32]byte
	copy(pk[:], data[n:n+32])
	return PackedNode{IPPort: ipp, PK: pk}, n + 32, nil
}
