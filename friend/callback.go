package friend

import (
	"fmt"

	"github.com/toxgo/toxgo/identity"
)

// EventKind distinguishes the kinds of events a friend connection
// callback slot receives.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventLosslessData
)

// Event is delivered to every registered callback on the driver thread,
// synchronously from whichever do_* step or packet handler produced it.
type Event struct {
	Kind EventKind
	Peer identity.PublicKey
	Data []byte
}

// Callback receives friend connection events. Up to two can be
// registered at once.
type Callback func(Event)

// maxCallbackSlots is the number of independent upper-layer consumers a
// Manager can notify.
const maxCallbackSlots = 2

// RegisterCallback installs cb in slot (0 or 1), replacing whatever was
// there before.
func (m *Manager) RegisterCallback(slot int, cb Callback) error {
	if slot < 0 || slot >= maxCallbackSlots {
		return fmt.Errorf("friend: callback slot %d out of range", slot)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[slot] = cb
	return nil
}

func (m *Manager) dispatch(e Event) {
	m.mu.Lock()
	cbs := m.callbacks
	m.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(e)
		}
	}
}
