package friend

import "time"

// DoFriends is the periodic driver step: it advances onion discovery,
// attempts net-crypto handshakes once an address is known, re-shares
// relays, and tears down timed-out sessions.
func (m *Manager) DoFriends() {
	now := m.Clock.Now()

	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		m.stepConnection(c, now)
	}
}

func (m *Manager) stepConnection(c *Connection, now time.Time) {
	c.mu.Lock()
	status := c.Status
	hasTemp := c.hasDHTTemp
	dhtTemp := c.DHTTempPK
	lockCount := c.lockCount
	session := c.session
	pendingHS := c.pendingHS
	lastTraffic := c.lastTraffic
	shareLast := c.shareRelaysLastSent
	lookupPending := c.lookupPending
	c.mu.Unlock()

	if lockCount <= 0 {
		return
	}

	if status == StatusConnected {
		if session != nil && !lastTraffic.IsZero() && now.Sub(lastTraffic) > FriendConnectionTimeout {
			m.dropSession(c)
			return
		}
		if now.Sub(shareLast) > ShareRelaysInterval {
			m.sendShareRelays(c, now)
		}
		return
	}

	if !hasTemp {
		if !lookupPending {
			m.tryStartLookup(c, now)
		}
		return
	}

	if session != nil || pendingHS != nil {
		return
	}
	if addr, ok := m.DHT.GetFriendIP(dhtTemp); ok {
		if err := m.startHandshake(c, addr, now); err != nil {
			m.Logger.Debug("start handshake failed", "err", err)
		}
	}
}
