package friend

import (
	"fmt"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/onion"
)

// lookupFanout bounds how many close DHT nodes a lookup attempt is sent
// to in parallel.
const lookupFanout = 3

// tryStartLookup issues onion data-search lookups for c.RealPK against
// our closest known DHT nodes, the first step of finding a friend:
// registering the friend's real public key with the onion client to
// discover the friend's current DHT temporary key.
func (m *Manager) tryStartLookup(c *Connection, now time.Time) {
	path, err := m.Onion.Paths.Get(now)
	if err != nil {
		m.Logger.Debug("no onion path available for lookup", "err", err)
		return
	}
	targets := m.DHT.ClosestNodes(c.RealPK, lookupFanout)
	if len(targets) == 0 {
		return
	}

	c.mu.Lock()
	c.lookupPending = true
	c.mu.Unlock()

	for _, node := range targets {
		addr := node.BestAddr()
		if addr == nil {
			continue
		}
		pkt, firstHop, err := m.Onion.BuildLookup(path, *addr, c.RealPK)
		if err != nil {
			m.Logger.Warn("build onion lookup failed", "err", err)
			continue
		}
		if err := m.send(firstHop, pkt); err != nil {
			m.Logger.Warn("send onion lookup failed", "err", err)
		}
	}
}

// HandleLookupResult ingests a data-search response for one of our
// friends. A Found result means the announce store holding it can
// deliver the friend's DHT_temp_pk via the onion network; we model that
// delivery directly: a found entry's announcing key becomes the friend's
// DHT temp key, ready for the DHT layer to resolve an address for.
func (m *Manager) HandleLookupResult(pk identity.PublicKey, resp onion.DataSearchResponse) error {
	c, ok := m.Get(pk)
	if !ok {
		return fmt.Errorf("lookup result for unknown friend")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookupPending = false

	if resp.Found {
		c.DHTTempPK = resp.Target
		c.hasDHTTemp = true
		m.DHT.AddFriend(c.DHTTempPK)
		return nil
	}
	return nil
}
