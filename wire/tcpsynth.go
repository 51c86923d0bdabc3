package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// maxTCPConnNum bounds the mux index that fits in the 4 address bytes we
// borrow to encode it.
const maxTCPConnNum = 0xFFFFFFFE

// TCPConnNumToIPPort encodes a TCP_Connections mux index as a synthetic
// IP_Port so upper layers (net-crypto, friend connections) can address a
// TCP-routed peer through the same IP_Port-keyed tables as a UDP peer
//. The index is stored big-endian in the
// 4-byte "address" field; Port and the real IP bytes are unused.
func TCPConnNumToIPPort(num uint32) IPPort {
	if num > maxTCPConnNum {
		num = maxTCPConnNum
	}
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, num+1) // +1 so an all-zero address (no conn) is rejected rather than read as index 0
	return IPPort{Family: FamilyTCPClientSynth, IP: ip, TCPConnNum: num}
}

// IPPortToTCPConnNum decodes a synthetic TCP IP_Port back to its mux
// index. ip_port_to_tcp_connections_number(tcp_connections_number_to_ip_port(n)) == n
// for every n up to maxTCPConnNum; larger n are clamped on encoding.
func IPPortToTCPConnNum(ipp IPPort) (uint32, error) {
	if ipp.Family != FamilyTCPClientSynth && ipp.Family != FamilyTCPServerSynth {
		return 0, fmt.Errorf("ip_port_to_tcp_connections_number: not a TCP-synthetic family (%d)", ipp.Family)
	}
	ip4 := ipp.IP.To4()
	if ip4 == nil || len(ip4) != 4 {
		return 0, fmt.Errorf("ip_port_to_tcp_connections_number: malformed synthetic address")
	}
	encoded := binary.BigEndian.Uint32(ip4)
	if encoded == 0 {
		return 0, fmt.Errorf("ip_port_to_tcp_connections_number: zero-valued synthetic address")
	}
	return encoded - 1, nil
}

// IsTCPSynthetic reports whether ipp belongs to one of the TCP-synthetic
// families that encode a relay mux index rather than a real address.
func IsTCPSynthetic(ipp IPPort) bool {
	return ipp.Family == FamilyTCPClientSynth || ipp.Family == FamilyTCPServerSynth
}
