package friend

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/netcrypto"
	"github.com/toxgo/toxgo/wire"
)

// startHandshake begins a net-crypto handshake toward addr once the
// friend's DHT temp key and an address for it are both known. The
// responder's cookie is requested first.
func (m *Manager) startHandshake(c *Connection, addr wire.IPPort, now time.Time) error {
	var echoID [8]byte
	binary.BigEndian.PutUint64(echoID[:], uint64(now.UnixNano()))

	c.mu.Lock()
	dhtTemp := c.DHTTempPK
	c.mu.Unlock()

	req, err := netcrypto.BuildCookieRequest(m.Self, m.Self.Public, dhtTemp, echoID)
	if err != nil {
		return fmt.Errorf("build cookie request: %w", err)
	}
	return m.send(addr, req)
}

// HandleCookieRequest answers an inbound cookie request addressed to us
// (we act as responder for whichever friend initiated toward us).
func (m *Manager) HandleCookieRequest(fromAddr wire.IPPort, pkt wire.Packet) error {
	req, err := netcrypto.HandleCookieRequest(m.Self, pkt)
	if err != nil {
		return err
	}
	resp, err := netcrypto.BuildCookieResponse(m.Self, m.Cookie, req, m.Clock.Now())
	if err != nil {
		return err
	}
	return m.send(fromAddr, resp)
}

// HandleCookieResponse completes the cookie round trip for pk by
// building and sending our handshake packet carrying the minted cookie.
func (m *Manager) HandleCookieResponse(pk identity.PublicKey, addr wire.IPPort, pkt wire.Packet) error {
	c, ok := m.Get(pk)
	if !ok {
		return fmt.Errorf("cookie response for unknown friend")
	}
	resp, err := netcrypto.HandleCookieResponse(m.Self, pk, pkt)
	if err != nil {
		return err
	}
	hs, hsPkt, err := netcrypto.BuildHandshake(m.Self, pk, resp.Cookie)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pendingHS = hs
	c.mu.Unlock()
	return m.send(addr, hsPkt)
}

// HandleHandshake processes an inbound handshake packet from pk, either
// completing a handshake we initiated or answering one the peer started.
func (m *Manager) HandleHandshake(pk identity.PublicKey, addr wire.IPPort, pkt wire.Packet) error {
	c, ok := m.Get(pk)
	if !ok {
		return fmt.Errorf("handshake from unknown friend")
	}

	c.mu.Lock()
	pendingHS := c.pendingHS
	c.mu.Unlock()

	// A reply to a handshake we initiated carries no cookie of its own
	// (only the initiator needs to prove liveness); an initial handshake
	// from a peer who initiated toward us carries the cookie we minted
	// for it in HandleCookieRequest.
	cookieSize := netcrypto.CookieSize
	if pendingHS != nil {
		cookieSize = 0
	}
	parsed, err := netcrypto.ParseHandshake(m.Self, pkt, cookieSize)
	if err != nil {
		return err
	}

	var session *netcrypto.Session
	if pendingHS != nil {
		session, err = pendingHS.Complete(parsed.SessionPK, parsed.BaseNonce, m.Clock.Now())
	} else {
		if _, _, cookieErr := m.Cookie.Open(parsed.Cookie, m.Clock.Now()); cookieErr != nil {
			return fmt.Errorf("reject handshake with invalid cookie: %w", cookieErr)
		}
		ourSession, genErr := identity.GenerateKeyPair()
		if genErr != nil {
			return fmt.Errorf("generate responder session keypair: %w", genErr)
		}
		ourNonce, nonceErr := identity.RandomNonce()
		if nonceErr != nil {
			return fmt.Errorf("generate responder base nonce: %w", nonceErr)
		}
		session, err = netcrypto.CompleteResponder(*ourSession, ourNonce, parsed.SessionPK, parsed.BaseNonce, m.Clock.Now())
		if err == nil {
			replyPkt, buildErr := netcrypto.BuildHandshakeReply(m.Self, pk, nil, *ourSession, ourNonce)
			if buildErr != nil {
				return fmt.Errorf("build responder handshake reply: %w", buildErr)
			}
			if sendErr := m.send(addr, replyPkt); sendErr != nil {
				return sendErr
			}
		}
	}
	if err != nil {
		return fmt.Errorf("complete handshake: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.pendingHS = nil
	c.Status = StatusConnected
	c.connectedAt = m.Clock.Now()
	c.lastTraffic = m.Clock.Now()
	c.shareRelaysLastSent = time.Time{}
	c.mu.Unlock()

	m.Logger.Info("friend connected", "realPK", shortKey(pk))
	m.dispatch(Event{Kind: EventConnected, Peer: pk})
	return nil
}

// HandleSessionData decrypts and dispatches an inbound net-crypto data
// packet for pk, refreshing its liveness timer.
func (m *Manager) HandleSessionData(pk identity.PublicKey, pkt wire.Packet) error {
	c, ok := m.Get(pk)
	if !ok {
		return fmt.Errorf("session data from unknown friend")
	}
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("session data before handshake complete")
	}
	plain, err := session.OpenData(pkt)
	if err != nil {
		// A decryption failure is fatal for the packet, never for the
		// session.
		return fmt.Errorf("open session data: %w", err)
	}

	c.mu.Lock()
	c.lastTraffic = m.Clock.Now()
	c.mu.Unlock()

	if len(plain) > 0 && plain[0] == tagShareRelays {
		m.handleShareRelays(c, plain[1:])
		return nil
	}
	m.dispatch(Event{Kind: EventLosslessData, Peer: pk, Data: plain})
	return nil
}

// SendData encrypts and returns a data packet for an already-connected
// friend, marking the session as having just produced traffic.
func (m *Manager) SendData(pk identity.PublicKey, payload []byte) (wire.Packet, error) {
	c, ok := m.Get(pk)
	if !ok {
		return nil, fmt.Errorf("send to unknown friend")
	}
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("no session established")
	}
	pkt, err := session.SealData(payload)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lastTraffic = m.Clock.Now()
	c.mu.Unlock()
	return pkt, nil
}

// dropSession tears down a timed-out session, falling back to
// StatusConnecting.
func (m *Manager) dropSession(c *Connection) {
	c.mu.Lock()
	c.session = nil
	c.pendingHS = nil
	c.Status = StatusConnecting
	pk := c.RealPK
	c.mu.Unlock()
	m.Logger.Warn("friend connection timed out", "realPK", shortKey(pk))
	m.dispatch(Event{Kind: EventDisconnected, Peer: pk})
}

func (m *Manager) send(addr wire.IPPort, pkt wire.Packet) error {
	if m.SendUDP == nil {
		return fmt.Errorf("no send hook configured")
	}
	return m.SendUDP(addr, pkt)
}
