package friend

import (
	"encoding/binary"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// tagShareRelays marks a net-crypto data payload as a relay-sharing
// message rather than upper-layer application data; it lives in the
// friend connection's own small in-session namespace, distinct from the
// wire-level packet tag table since it never appears outside
// an already-decrypted session payload.
const tagShareRelays byte = 0xfe

const sharedRelayEntrySize = 32 + 1 + 4 + 2 // pk + family + ipv4 + port (the common case)

// AddKnownRelay records one of our own TCP relays as available to share
// with friends.
func (m *Manager) AddKnownRelay(pk identity.PublicKey, addr wire.IPPort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.ownRelays {
		if r.PK == pk {
			m.ownRelays[i].Addr = addr
			return
		}
	}
	m.ownRelays = append(m.ownRelays, storedRelay{PK: pk, Addr: addr})
}

// sendShareRelays builds and sends a relay-sharing message to a
// connected friend, advertising up to MaxSharedRelays of our own relays.
func (m *Manager) sendShareRelays(c *Connection, now time.Time) {
	m.mu.Lock()
	own := m.ownRelays
	m.mu.Unlock()
	if len(own) == 0 {
		return
	}
	if len(own) > MaxSharedRelays {
		own = own[:MaxSharedRelays]
	}

	payload := make([]byte, 1, 1+len(own)*sharedRelayEntrySize)
	payload[0] = tagShareRelays
	for _, r := range own {
		payload = append(payload, encodeSharedRelay(r)...)
	}

	pkt, err := m.SendData(c.RealPK, payload)
	if err != nil {
		m.Logger.Debug("share relays failed", "err", err)
		return
	}
	if err := m.sendSessionPacket(c, pkt); err != nil {
		m.Logger.Debug("send share relays packet failed", "err", err)
		return
	}

	c.mu.Lock()
	c.shareRelaysLastSent = now
	c.mu.Unlock()
}

// handleShareRelays decodes an inbound relay-sharing payload (with its
// leading tagShareRelays byte already stripped) and remembers the
// friend's advertised relays for future connection attempts.
func (m *Manager) handleShareRelays(c *Connection, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relayCount = 0
	for off := 0; off+sharedRelayEntrySize <= len(body) && c.relayCount < FriendMaxStoredTCPRelays; off += sharedRelayEntrySize {
		relay, ok := decodeSharedRelay(body[off : off+sharedRelayEntrySize])
		if !ok {
			continue
		}
		c.relays[c.relayCount] = relay
		c.relayCount++
	}
}

func encodeSharedRelay(r storedRelay) []byte {
	out := make([]byte, sharedRelayEntrySize)
	copy(out[0:32], r.PK[:])
	out[32] = byte(wire.FamilyIPv4)
	ip4 := r.Addr.IP.To4()
	if ip4 != nil {
		copy(out[33:37], ip4)
	}
	binary.BigEndian.PutUint16(out[37:39], r.Addr.Port)
	return out
}

func decodeSharedRelay(data []byte) (storedRelay, bool) {
	if len(data) != sharedRelayEntrySize {
		return storedRelay{}, false
	}
	var r storedRelay
	copy(r.PK[:], data[0:32])
	r.Addr = wire.IPPort{
		Family: wire.Family(data[32]),
		IP:     append([]byte{}, data[33:37]...),
		Port:   binary.BigEndian.Uint16(data[37:39]),
	}
	return r, true
}

func (m *Manager) sendSessionPacket(c *Connection, pkt wire.Packet) error {
	if m.SendSession == nil {
		return nil
	}
	return m.SendSession(c.RealPK, pkt)
}
