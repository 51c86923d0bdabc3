package tcprelay

import (
	"fmt"
	"log/slog"

	"github.com/toxgo/toxgo/identity"
)

// incoming is the server's per-client-connection bookkeeping.
type incoming struct {
	pk           identity.PublicKey
	key          identity.SymmetricKey
	connIDByPeer map[identity.PublicKey]uint8
	peerByConnID map[uint8]identity.PublicKey
}

// Server is a TCP relay's routing core: up to MaxClients simultaneous
// incoming connections, each able to route to up to MaxConnections-1
// peers. It holds no network I/O
// itself — callers feed it decrypted plaintext and get back plaintext to
// frame and write to the relevant connection.
type Server struct {
	Self   identity.KeyPair
	Logger *slog.Logger

	clients map[identity.PublicKey]*incoming
}

// MaxClients bounds simultaneous incoming relay connections.
const MaxClients = 256

// NewServer creates an empty relay server identified by self.
func NewServer(self identity.KeyPair, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Self: self, Logger: logger, clients: make(map[identity.PublicKey]*incoming)}
}

// AddClient registers a freshly handshaken incoming connection.
func (s *Server) AddClient(pk identity.PublicKey, key identity.SymmetricKey) error {
	if len(s.clients) >= MaxClients {
		return fmt.Errorf("relay server full")
	}
	s.clients[pk] = &incoming{
		pk: pk, key: key,
		connIDByPeer: make(map[identity.PublicKey]uint8),
		peerByConnID: make(map[uint8]identity.PublicKey),
	}
	return nil
}

// RemoveClient drops a disconnected client and notifies anyone who had
// routed to it.
func (s *Server) RemoveClient(pk identity.PublicKey) []Outbound {
	delete(s.clients, pk)
	var out []Outbound
	for _, c := range s.clients {
		if connID, ok := c.connIDByPeer[pk]; ok {
			out = append(out, Outbound{To: c.pk, Plain: BuildDisconnectNotify(connID)})
		}
	}
	return out
}

// Outbound is a plaintext message the caller must frame (via the
// recipient's own key) and write to their connection.
type Outbound struct {
	To    identity.PublicKey
	Plain []byte
}

// HandleRouteRequest assigns fromPK a connection_id for toPK, notifying
// both sides once toPK is also present with a reciprocal route: a
// route only carries data once both ends have requested it.
func (s *Server) HandleRouteRequest(fromPK identity.PublicKey, plain []byte) ([]Outbound, error) {
	toPK, err := ParseRouteRequest(plain)
	if err != nil {
		return nil, err
	}
	from, ok := s.clients[fromPK]
	if !ok {
		return nil, fmt.Errorf("route request from unknown client")
	}

	connID := s.allocConnID(from, toPK)
	var out []Outbound
	out = append(out, Outbound{To: fromPK, Plain: BuildRouteResponse(connID, toPK)})

	if connID == 0 {
		return out, nil
	}

	if to, present := s.clients[toPK]; present {
		if reciprocal, hasRoute := to.connIDByPeer[fromPK]; hasRoute {
			out = append(out, Outbound{To: fromPK, Plain: BuildConnectNotify(connID)})
			out = append(out, Outbound{To: toPK, Plain: BuildConnectNotify(reciprocal)})
		}
	}
	return out, nil
}

func (s *Server) allocConnID(from *incoming, toPK identity.PublicKey) uint8 {
	if id, ok := from.connIDByPeer[toPK]; ok {
		return id
	}
	for id := uint8(1); id < MaxConnections; id++ {
		if _, used := from.peerByConnID[id]; !used {
			from.connIDByPeer[toPK] = id
			from.peerByConnID[id] = toPK
			return id
		}
	}
	return 0
}

// HandleData relays a data packet from fromPK to whichever peer owns
// connID in fromPK's routing table, provided that peer has reciprocally
// routed back to fromPK.
func (s *Server) HandleData(fromPK identity.PublicKey, plain []byte) (Outbound, error) {
	connID, payload, ok := ParseData(plain)
	if !ok {
		return Outbound{}, fmt.Errorf("not a data packet")
	}
	from, ok := s.clients[fromPK]
	if !ok {
		return Outbound{}, fmt.Errorf("data from unknown client")
	}
	toPK, ok := from.peerByConnID[connID]
	if !ok {
		return Outbound{}, fmt.Errorf("no route for connection_id %d", connID)
	}
	to, ok := s.clients[toPK]
	if !ok {
		return Outbound{}, fmt.Errorf("destination not connected")
	}
	reciprocal, ok := to.connIDByPeer[fromPK]
	if !ok {
		return Outbound{}, fmt.Errorf("destination has not routed back")
	}
	return Outbound{To: toPK, Plain: BuildData(reciprocal, payload)}, nil
}

// HandleOOBSend relays an out-of-band packet directly by public key,
// with no routing table entry required on either side.
func (s *Server) HandleOOBSend(fromPK identity.PublicKey, plain []byte) (Outbound, error) {
	destPK, payload, err := ParseOOBSend(plain)
	if err != nil {
		return Outbound{}, err
	}
	if _, ok := s.clients[destPK]; !ok {
		return Outbound{}, fmt.Errorf("oob destination not connected")
	}
	return Outbound{To: destPK, Plain: BuildOOBRecv(fromPK, payload)}, nil
}

// FrameFor encrypts an Outbound's plaintext under its recipient's key,
// ready to write to their connection.
func (s *Server) FrameFor(o Outbound) (Frame, error) {
	c, ok := s.clients[o.To]
	if !ok {
		return nil, fmt.Errorf("unknown recipient")
	}
	return sealFrame(o.Plain, &c.key)
}

// OpenFrom decrypts a frame received from fromPK.
func (s *Server) OpenFrom(fromPK identity.PublicKey, f Frame) ([]byte, error) {
	c, ok := s.clients[fromPK]
	if !ok {
		return nil, fmt.Errorf("frame from unknown client")
	}
	return openFrame(f, &c.key)
}
