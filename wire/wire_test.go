package wire

import (
	"net"
	"testing"
)

func TestIPPortRoundTripIPv4(t *testing.T) {
	ipp := IPPort{Family: FamilyIPv4, IP: net.IPv4(127, 0, 0, 1), Port: 33445}
	packed, err := PackIPPort(ipp)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	got, n, err := UnpackIPPort(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if n != len(packed) {
		t.Fatalf("consumed %d, want %d", n, len(packed))
	}
	if !got.IP.Equal(ipp.IP) || got.Port != ipp.Port || got.Family != ipp.Family {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, ipp)
	}
}

func TestIPPortRoundTripIPv6(t *testing.T) {
	ipp := IPPort{Family: FamilyIPv6, IP: net.ParseIP("::1"), Port: 443}
	packed, err := PackIPPort(ipp)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	got, _, err := UnpackIPPort(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !got.IP.Equal(ipp.IP) || got.Port != ipp.Port {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", got, ipp)
	}
}

func TestPackedNodeRoundTrip(t *testing.T) {
	var pk [32]byte
	for i := range pk {
		pk[i] = byte(i)
	}
	n := PackedNode{
		IPPort: IPPort{Family: FamilyIPv4, IP: net.IPv4(10, 0, 0, 1), Port: 1234},
		PK:     pk,
	}
	buf, err := PackNode(n)
	if err != nil {
		t.Fatalf("pack node: %v", err)
	}
	if len(buf) != PackedNodeSize(FamilyIPv4) {
		t.Fatalf("packed size %d, want %d", len(buf), PackedNodeSize(FamilyIPv4))
	}
	got, consumed, err := UnpackNode(buf)
	if err != nil {
		t.Fatalf("unpack node: %v", err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed %d, want %d", consumed, len(buf))
	}
	if got.PK != n.PK || !got.IPPort.IP.Equal(n.IPPort.IP) || got.IPPort.Port != n.IPPort.Port {
		t.Fatalf("packed node roundtrip mismatch: got %+v want %+v", got, n)
	}
}

func TestTCPConnNumRoundTrip(t *testing.T) {
	for _, n := range []uint32{0, 1, 5, 239} {
		ipp := TCPConnNumToIPPort(n)
		got, err := IPPortToTCPConnNum(ipp)
		if err != nil {
			t.Fatalf("num %d: %v", n, err)
		}
		if got != n {
			t.Fatalf("roundtrip mismatch for %d: got %d", n, got)
		}
		if !IsTCPSynthetic(ipp) {
			t.Fatalf("expected synthetic family for %d", n)
		}
	}
}

func TestPacketTagAndBody(t *testing.T) {
	p := NewPacket(TagPingRequest, []byte{1, 2, 3})
	tag, err := p.Tag()
	if err != nil {
		t.Fatalf("tag: %v", err)
	}
	if tag != TagPingRequest {
		t.Fatalf("tag = %d, want %d", tag, TagPingRequest)
	}
	if string(p.Body()) != "\x01\x02\x03" {
		t.Fatalf("unexpected body: %v", p.Body())
	}
}
