package tcprelay

import (
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// MaxRelaysPerFriend bounds how many relay connections are kept alive to
// carry one friend's traffic.
const MaxRelaysPerFriend = 6

// SleepAfter is how long an idle (no friend currently routed through it)
// relay connection is kept before being put to sleep rather than closed
// outright, so it can be woken quickly if needed again.
const SleepAfter = 60 * time.Second

// RelayState is the liveness of one slot in a Mux.
type RelayState int

const (
	RelayConnecting RelayState = iota
	RelayHot
	RelaySleeping
	RelayDead
)

// relaySlot is one of a friend's candidate relay connections.
type relaySlot struct {
	RelayPK  identity.PublicKey
	Client   *Client
	State    RelayState
	LastUsed time.Time
}

// Mux multiplexes a friend's traffic over up to MaxRelaysPerFriend relay
// connections, picking a hot one to send on and keeping the rest warm or
// asleep. Each slot's synthetic address
// (for routing table entries a caller hands to the DHT/onion layers) is
// produced via wire.TCPConnNumToIPPort so it flows through the same
// IP_Port-shaped plumbing as a UDP address.
type Mux struct {
	slots [MaxRelaysPerFriend]*relaySlot
}

// NewMux creates an empty multiplexer.
func NewMux() *Mux { return &Mux{} }

// AddRelay installs client in the first free slot, or replaces the
// slot in worst (most stale) state if all are occupied.
func (m *Mux) AddRelay(relayPK identity.PublicKey, client *Client, now time.Time) (slotIdx int, ok bool) {
	for i, s := range m.slots {
		if s == nil {
			m.slots[i] = &relaySlot{RelayPK: relayPK, Client: client, State: RelayConnecting, LastUsed: now}
			return i, true
		}
	}
	worst := 0
	for i, s := range m.slots {
		if s.State == RelayDead || s.LastUsed.Before(m.slots[worst].LastUsed) {
			worst = i
		}
	}
	if m.slots[worst].State == RelayHot {
		return 0, false
	}
	m.slots[worst] = &relaySlot{RelayPK: relayPK, Client: client, State: RelayConnecting, LastUsed: now}
	return worst, true
}

// MarkHot promotes a slot once its underlying connection has confirmed
// it can carry traffic.
func (m *Mux) MarkHot(slotIdx int, now time.Time) {
	if s := m.slots[slotIdx]; s != nil {
		s.State = RelayHot
		s.LastUsed = now
	}
}

// SweepIdle marks any hot relay untouched for SleepAfter as sleeping,
// keeping the slot. It only changes the slot's state; the slot's Client
// is not closed.
func (m *Mux) SweepIdle(now time.Time) {
	for _, s := range m.slots {
		if s == nil || s.State != RelayHot {
			continue
		}
		if now.Sub(s.LastUsed) > SleepAfter {
			s.State = RelaySleeping
		}
	}
}

// PickHot returns a live relay slot to send on, or false if none are hot.
func (m *Mux) PickHot() (slotIdx int, client *Client, ok bool) {
	for i, s := range m.slots {
		if s != nil && s.State == RelayHot {
			return i, s.Client, true
		}
	}
	return 0, nil, false
}

// SlotAddr produces the synthetic IP_Port other components (the DHT
// close list, the friend connection's address bookkeeping) use to refer
// to this mux's slotIdx without knowing it is TCP-backed.
func (m *Mux) SlotAddr(slotIdx int) wire.IPPort {
	return wire.TCPConnNumToIPPort(uint32(slotIdx))
}

// SlotForAddr is the inverse of SlotAddr.
func SlotForAddr(addr wire.IPPort) (int, error) {
	num, err := wire.IPPortToTCPConnNum(addr)
	if err != nil {
		return 0, err
	}
	return int(num), nil
}
