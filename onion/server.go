package onion

import (
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// Server is the relay role every node plays for others' onion circuits:
// peeling one send layer and minting a return stub, or peeling one return
// stub and forwarding the response a hop closer to the original sender.
type Server struct {
	Self      identity.KeyPair
	returnKey identity.SymmetricKey
	Logger    *slog.Logger
}

// NewServer mints a fresh return-stub key for self, used only to encrypt
// and later recover this node's own return-path entries.
func NewServer(self identity.KeyPair, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var key identity.SymmetricKey
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generate onion return key: %w", err)
	}
	return &Server{Self: self, returnKey: key, Logger: logger}, nil
}

// HandleSend peels one onion send layer of pkt (tag TagSend1/2/3), received
// from fromAddr, and reports where the (possibly re-wrapped) packet should
// be forwarded next. isExit is true when the inner payload is a final
// destination packet rather than another onion layer.
func (s *Server) HandleSend(fromAddr wire.IPPort, pkt wire.Packet) (nextAddr wire.IPPort, forward wire.Packet, isExit bool, err error) {
	ephemeralPub, nonce, ciphertext, stubs, err := decodeEnvelope(pkt)
	if err != nil {
		return wire.IPPort{}, nil, false, fmt.Errorf("decode onion send envelope: %w", err)
	}

	plain, err := identity.Open(ciphertext, nonce, ephemeralPub, s.Self.Secret)
	if err != nil {
		s.Logger.Debug("onion send layer auth failed", "from", fromAddr)
		return wire.IPPort{}, nil, false, fmt.Errorf("onion send layer: %w", err)
	}

	next, n, err := wire.UnpackIPPort(plain)
	if err != nil {
		return wire.IPPort{}, nil, false, fmt.Errorf("unpack onion next hop: %w", err)
	}
	inner := plain[n:]
	if len(inner) < 1 {
		return wire.IPPort{}, nil, false, fmt.Errorf("onion inner packet empty")
	}

	stub, err := mintReturnStub(&s.returnKey, fromAddr)
	if err != nil {
		return wire.IPPort{}, nil, false, fmt.Errorf("mint return stub: %w", err)
	}
	newStubs := append(append([][]byte{}, stubs...), stub)

	innerTag := inner[0]
	if innerTag == TagSend2 || innerTag == TagSend3 {
		innerEphemeralPub, innerNonce, innerCiphertext, _, err := decodeEnvelope(wire.Packet(inner))
		if err != nil {
			return wire.IPPort{}, nil, false, fmt.Errorf("decode nested onion layer: %w", err)
		}
		return next, encodeEnvelope(innerTag, innerEphemeralPub, innerNonce, innerCiphertext, newStubs), false, nil
	}

	// Exit delivery: reuse the inner packet's own tag, inserting the
	// accumulated stub chain right after it.
	payload := inner[1:]
	body := encodeExitBody(newStubs, payload)
	return next, wire.NewPacket(innerTag, body), true, nil
}

// HandleReturn peels one return-path stub of pkt (tag TagOnionRecv),
// received from fromAddr, routing the response one hop closer to the
// original sender. isFinal is true once the stub chain is exhausted,
// meaning forward is the raw response payload meant for the sender
// itself rather than another relay.
func (s *Server) HandleReturn(fromAddr wire.IPPort, pkt wire.Packet) (prevAddr wire.IPPort, forward wire.Packet, isFinal bool, err error) {
	tag, err := pkt.Tag()
	if err != nil || tag != TagOnionRecv {
		return wire.IPPort{}, nil, false, fmt.Errorf("not a return-path packet")
	}
	stubs, payload, err := decodeExitBody(pkt.Body())
	if err != nil {
		return wire.IPPort{}, nil, false, fmt.Errorf("decode return-path body: %w", err)
	}
	if len(stubs) == 0 {
		return wire.IPPort{}, nil, false, fmt.Errorf("return-path packet has no stubs to peel")
	}

	last := stubs[len(stubs)-1]
	prevAddr, err = openReturnStub(&s.returnKey, last)
	if err != nil {
		return wire.IPPort{}, nil, false, fmt.Errorf("peel return stub: %w", err)
	}

	remaining := stubs[:len(stubs)-1]
	if len(remaining) == 0 {
		return prevAddr, wire.Packet(payload), true, nil
	}
	return prevAddr, wire.NewPacket(TagOnionRecv, encodeExitBody(remaining, payload)), false, nil
}
