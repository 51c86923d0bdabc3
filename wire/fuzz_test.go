package wire

import "testing"

func FuzzUnpackIPPort(f *testing.F) {
	f.Add([]byte{byte(FamilyIPv4), 127, 0, 0, 1, 0x82, 0x75})
	f.Add([]byte{byte(FamilyIPv6), 0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 80})
	f.Add([]byte{})
	f.Add([]byte{0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, n, err := UnpackIPPort(data)
		if err == nil && n > len(data) {
			t.Fatalf("consumed %d bytes from a %d-byte input", n, len(data))
		}
	})
}

func FuzzUnpackNode(f *testing.F) {
	var pk [32]byte
	node := PackedNode{IPPort: IPPort{Family: FamilyIPv4, IP: []byte{10, 0, 0, 1}, Port: 33445}, PK: pk}
	if packed, err := PackNode(node); err == nil {
		f.Add(packed)
	}
	f.Add([]byte{})
	f.Add([]byte{byte(FamilyIPv4)})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, n, err := UnpackNode(data)
		if err == nil && n > len(data) {
			t.Fatalf("consumed %d bytes from a %d-byte input", n, len(data))
		}
	})
}

func FuzzPacketTagAndBody(f *testing.F) {
	f.Add([]byte{TagPingRequest, 1, 2, 3})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		p := Packet(data)
		_, _ = p.Tag()
		_ = p.Body()
	})
}
