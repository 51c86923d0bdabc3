// Package groupconn implements the lossless, per-peer fragmented channel
// abstraction a group-chat layer would multiplex onto:
// Channel wraps either a net-crypto session or a TCP-relay routed
// connection behind one Send/Deliver API, splitting payloads larger than
// one packet's usable body into numbered fragments and reassembling them
// on the receiving side before handing a complete frame to an Event
// callback. Group membership and session semantics are out of scope
// — this package only moves bytes reliably.
package groupconn

import (
	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/netcrypto"
	"github.com/toxgo/toxgo/tcprelay"
	"github.com/toxgo/toxgo/wire"
)

// transport seals an outgoing fragment and opens an incoming one, the
// one seam net-crypto and TCP relay both fit through.
type transport interface {
	Seal(payload []byte) ([]byte, error)
	Open(raw []byte) ([]byte, error)
}

// netcryptoTransport carries fragments over an established net-crypto
// session.
type netcryptoTransport struct {
	session *netcrypto.Session
}

// NewNetcryptoTransport wraps an already-handshaken net-crypto session.
func NewNetcryptoTransport(session *netcrypto.Session) transport {
	return netcryptoTransport{session: session}
}

func (t netcryptoTransport) Seal(payload []byte) ([]byte, error) {
	pkt, err := t.session.SealData(payload)
	if err != nil {
		return nil, err
	}
	return []byte(pkt), nil
}

func (t netcryptoTransport) Open(raw []byte) ([]byte, error) {
	return t.session.OpenData(wire.Packet(raw))
}

// tcprelayTransport carries fragments over a routed TCP relay
// connection to one specific peer.
type tcprelayTransport struct {
	client *tcprelay.Client
	peerPK identity.PublicKey
}

// NewTCPRelayTransport wraps an already-routed relay client connection
// to peerPK.
func NewTCPRelayTransport(client *tcprelay.Client, peerPK identity.PublicKey) transport {
	return tcprelayTransport{client: client, peerPK: peerPK}
}

func (t tcprelayTransport) Seal(payload []byte) ([]byte, error) {
	frame, err := t.client.SealData(t.peerPK, payload)
	if err != nil {
		return nil, err
	}
	return []byte(frame), nil
}

func (t tcprelayTransport) Open(raw []byte) ([]byte, error) {
	return t.client.OpenFrame(tcprelay.Frame(raw))
}
