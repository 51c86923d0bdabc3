// Package friend implements the friend-connection orchestrator: for
// each friend public key it owns, it drives onion discovery of
// the friend's DHT temporary key, asks the DHT for an address, establishes
// a net-crypto session once one is known, and shares TCP relays with a
// connected friend. It binds the dht, onion, netcrypto, and tcprelay
// packages together into one established, reference-counted connection.
package friend

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toxgo/toxgo/dht"
	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/monotime"
	"github.com/toxgo/toxgo/netcrypto"
	"github.com/toxgo/toxgo/onion"
	"github.com/toxgo/toxgo/tcprelay"
	"github.com/toxgo/toxgo/wire"
)

// Status is a friend connection's lifecycle state.
type Status int

const (
	StatusNone Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "none"
	}
}

// FriendPingInterval is how often a connected friend's liveness is
// refreshed with session traffic.
const FriendPingInterval = 8 * time.Second

// FriendConnectionTimeout is how long a connected friend may go without
// traffic before being declared dead.
const FriendConnectionTimeout = 4 * FriendPingInterval

// MaxSharedRelays bounds how many of our own TCP relays we advertise to a
// newly-connected friend.
const MaxSharedRelays = 3

// ShareRelaysInterval is the cadence for re-advertising our relay set to
// an already-connected friend.
const ShareRelaysInterval = 120 * time.Second

// FriendMaxStoredTCPRelays bounds how many of a friend's own advertised
// relays we remember (mirrors tcprelay.MaxRelaysPerFriend, the mux slot
// count those relays are eventually dialed into).
const FriendMaxStoredTCPRelays = tcprelay.MaxRelaysPerFriend

type storedRelay struct {
	PK   identity.PublicKey
	Addr wire.IPPort
}

// Connection is one friend connection: the glue state binding
// one real_pk to its discovered dht_temp_pk, its onion/DHT search
// progress, its net-crypto session once established, and the relay set
// it has been told about or has advertised.
type Connection struct {
	mu sync.Mutex

	RealPK     identity.PublicKey
	DHTTempPK  identity.PublicKey
	hasDHTTemp bool

	Status    Status
	lockCount int

	relays              [FriendMaxStoredTCPRelays]storedRelay
	relayCount          int
	shareRelaysLastSent time.Time

	session      *netcrypto.Session
	pendingHS    *netcrypto.HandshakeState
	lastTraffic  time.Time
	connectedAt  time.Time

	onionFriendNum int
	lookupPending  bool

	Logger *slog.Logger
}

func newConnection(pk identity.PublicKey, onionFriendNum int, logger *slog.Logger) *Connection {
	return &Connection{
		RealPK:         pk,
		Status:         StatusNone,
		lockCount:      1,
		onionFriendNum: onionFriendNum,
		Logger:         logger,
	}
}

// IsConnected reports whether a net-crypto session is currently live.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Status == StatusConnected
}

// Manager owns every friend connection for one local identity, wiring
// together the DHT and onion client each connection depends on.
type Manager struct {
	Self   identity.KeyPair
	DHT    *dht.DHT
	Onion  *onion.Client
	Cookie *netcrypto.CookieJar
	Clock  monotime.Clock
	Logger *slog.Logger

	SendUDP func(addr wire.IPPort, pkt wire.Packet) error
	// SendSession delivers an already-sealed net-crypto data packet to a
	// connected friend, over whichever transport (UDP or a TCP relay) is
	// currently live for it.
	SendSession func(pk identity.PublicKey, pkt wire.Packet) error

	mu          sync.Mutex
	conns       map[identity.PublicKey]*Connection
	callbacks   [2]Callback
	ownRelays   []storedRelay
	nextOnionID int
}

// NewManager creates a friend-connection orchestrator bound to the given
// DHT and onion client.
func NewManager(self identity.KeyPair, d *dht.DHT, oc *onion.Client, clock monotime.Clock, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = monotime.System{}
	}
	jar, err := netcrypto.NewCookieJar()
	if err != nil {
		return nil, fmt.Errorf("new friend manager cookie jar: %w", err)
	}
	return &Manager{
		Self:   self,
		DHT:    d,
		Onion:  oc,
		Cookie: jar,
		Clock:  clock,
		Logger: logger,
		conns:  make(map[identity.PublicKey]*Connection),
	}, nil
}

// NewFriendConnection returns the connection for pk, creating one (and
// registering it with the DHT and onion layers) if this is the first
// reference, otherwise incrementing its lock count.
func (m *Manager) NewFriendConnection(pk identity.PublicKey) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[pk]; ok {
		c.mu.Lock()
		c.lockCount++
		c.mu.Unlock()
		return c
	}

	onionID := m.nextOnionID
	m.nextOnionID++
	c := newConnection(pk, onionID, m.Logger)
	c.Status = StatusConnecting
	m.conns[pk] = c
	m.DHT.AddFriend(pk)
	m.Logger.Info("friend connection created", "realPK", shortKey(pk))
	return c
}

// KillFriendConnection decrements pk's lock count, tearing the
// connection down (and unregistering it from the DHT) only once it
// reaches zero.
func (m *Manager) KillFriendConnection(pk identity.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[pk]
	if !ok {
		return
	}
	c.mu.Lock()
	c.lockCount--
	dead := c.lockCount <= 0
	c.mu.Unlock()
	if !dead {
		return
	}
	delete(m.conns, pk)
	m.DHT.RemoveFriend(pk)
	m.Logger.Info("friend connection torn down", "realPK", shortKey(pk))
}

// Get returns the connection for pk, if one is currently held.
func (m *Manager) Get(pk identity.PublicKey) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[pk]
	return c, ok
}

// ResolveByAddr finds the friend whose currently-known DHT address
// matches addr. Cookie responses and handshake packets carry no
// cleartext sender identity of their own, so a dispatcher that only has
// a source address needs this to find which connection a reply belongs
// to, the same way toxcore's crypto_connection table is keyed by
// ip_port rather than by the peer's long-term key.
func (m *Manager) ResolveByAddr(addr wire.IPPort) (identity.PublicKey, bool) {
	m.mu.Lock()
	pks := make([]identity.PublicKey, 0, len(m.conns))
	for pk := range m.conns {
		pks = append(pks, pk)
	}
	m.mu.Unlock()

	for _, pk := range pks {
		known, ok := m.DHT.GetFriendIP(pk)
		if ok && addrEqual(known, addr) {
			return pk, true
		}
	}
	return identity.PublicKey{}, false
}

func addrEqual(a, b wire.IPPort) bool {
	return a.Family == b.Family && a.Port == b.Port && a.IP.Equal(b.IP)
}

func shortKey(pk identity.PublicKey) string {
	return fmt.Sprintf("%x", pk[:6])
}
