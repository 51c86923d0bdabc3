package onion

import (
	"fmt"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// ReturnStubSize is the wire size of one return stub: nonce(24) +
// secretbox(family(1)+ip(16)+port(2)) with 16 bytes of Poly1305 overhead
// = 24 + 35 = 59 bytes.
const ReturnStubSize = 59

const stubPlainSize = 1 + 16 + 2 // family + ip(zero-padded to 16) + port

// mintReturnStub encrypts prevHop under the node's own secret key so that
// only this node can later recover it; other nodes see only an opaque
// blob.
func mintReturnStub(key *identity.SymmetricKey, prevHop wire.IPPort) ([]byte, error) {
	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, fmt.Errorf("mint return stub nonce: %w", err)
	}

	plain := make([]byte, stubPlainSize)
	plain[0] = byte(prevHop.Family)
	ip16 := prevHop.IP.To16()
	if ip16 == nil {
		ip4 := prevHop.IP.To4()
		if ip4 != nil {
			copy(plain[1+12:1+16], ip4)
		}
	} else {
		copy(plain[1:1+16], ip16)
	}
	plain[1+16] = byte(prevHop.Port >> 8)
	plain[1+16+1] = byte(prevHop.Port)

	ct := identity.SealSymmetric(plain, nonce, key)

	out := make([]byte, 0, ReturnStubSize)
	out = append(out, nonce[:]...)
	out = append(out, ct...)
	if len(out) != ReturnStubSize {
		return nil, fmt.Errorf("return stub size %d, want %d", len(out), ReturnStubSize)
	}
	return out, nil
}

// openReturnStub recovers the prior hop's address from a stub this node
// minted earlier. A decryption failure here means the stub was forged or
// corrupted and is always fatal only for this packet.
func openReturnStub(key *identity.SymmetricKey, stub []byte) (wire.IPPort, error) {
	if len(stub) != ReturnStubSize {
		return wire.IPPort{}, fmt.Errorf("return stub wrong size: %d", len(stub))
	}
	var nonce identity.Nonce
	copy(nonce[:], stub[:24])
	plain, err := identity.OpenSymmetric(stub[24:], nonce, key)
	if err != nil {
		return wire.IPPort{}, fmt.Errorf("open return stub: %w", err)
	}
	if len(plain) != stubPlainSize {
		return wire.IPPort{}, fmt.Errorf("return stub payload wrong size: %d", len(plain))
	}

	fam := wire.Family(plain[0])
	port := uint16(plain[17])<<8 | uint16(plain[18])
	ipp := wire.IPPort{Family: fam, Port: port}
	switch fam {
	case wire.FamilyIPv4:
		ipp.IP = append([]byte(nil), plain[1+12:1+16]...)
	default:
		ipp.IP = append([]byte(nil), plain[1:1+16]...)
	}
	return ipp, nil
}
