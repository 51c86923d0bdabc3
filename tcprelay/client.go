package tcprelay

import (
	"fmt"
	"log/slog"

	"github.com/toxgo/toxgo/identity"
)

// ClientState tracks one relay connection's lifecycle, matching the
// states a TCP relay client connection moves through:
// dialing/proxy-handshaking happen before a Client exists at all; once
// the crypto handshake completes the connection starts Unconfirmed and
// becomes Confirmed when SealData first frames a data packet for a
// routed peer.
type ClientState int

const (
	StateUnconfirmed ClientState = iota
	StateConfirmed
	StateDisconnected
)

// Client is this node's view of one TCP relay connection: the shared
// frame key and the routing table mapping friend public keys to the
// connection_id the relay assigned them.
type Client struct {
	RelayPK identity.PublicKey
	key     identity.SymmetricKey
	State   ClientState
	Logger  *slog.Logger

	connIDByPeer map[identity.PublicKey]uint8
	peerByConnID map[uint8]identity.PublicKey
	nextConnID   uint8
}

// NewClient wraps an already-handshaken relay connection.
func NewClient(relayPK identity.PublicKey, key identity.SymmetricKey, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		RelayPK:      relayPK,
		key:          key,
		State:        StateUnconfirmed,
		Logger:       logger,
		connIDByPeer: make(map[identity.PublicKey]uint8),
		peerByConnID: make(map[uint8]identity.PublicKey),
	}
}

// SealRouteRequest builds and frames a route request for peerPK,
// remembering no connection_id yet (it's assigned in the response).
func (c *Client) SealRouteRequest(peerPK identity.PublicKey) (Frame, error) {
	return sealFrame(BuildRouteRequest(peerPK), &c.key)
}

// HandleRouteResponse records the connection_id the relay assigned.
func (c *Client) HandleRouteResponse(plain []byte) (identity.PublicKey, uint8, error) {
	connID, peerPK, err := ParseRouteResponse(plain)
	if err != nil {
		return identity.PublicKey{}, 0, err
	}
	if connID == 0 {
		return peerPK, 0, fmt.Errorf("relay routing table full for %x", peerPK[:4])
	}
	c.connIDByPeer[peerPK] = connID
	c.peerByConnID[connID] = peerPK
	return peerPK, connID, nil
}

// SealData frames a data packet for an already-routed peer.
func (c *Client) SealData(peerPK identity.PublicKey, payload []byte) (Frame, error) {
	connID, ok := c.connIDByPeer[peerPK]
	if !ok {
		return nil, fmt.Errorf("no route established for peer")
	}
	c.State = StateConfirmed
	return sealFrame(BuildData(connID, payload), &c.key)
}

// OpenFrame decrypts an inbound frame from the relay.
func (c *Client) OpenFrame(f Frame) ([]byte, error) {
	return openFrame(f, &c.key)
}

// PeerForConn resolves a connection_id back to the routed peer key, used
// when dispatching an inbound data frame.
func (c *Client) PeerForConn(connID uint8) (identity.PublicKey, bool) {
	pk, ok := c.peerByConnID[connID]
	return pk, ok
}
