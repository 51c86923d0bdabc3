package core

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/toxgo/toxgo/dht"
	"github.com/toxgo/toxgo/friend"
	"github.com/toxgo/toxgo/friendreq"
	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/landiscovery"
	"github.com/toxgo/toxgo/monotime"
	"github.com/toxgo/toxgo/networking"
	"github.com/toxgo/toxgo/onion"
	"github.com/toxgo/toxgo/wire"
)

// selfAnnounceInterval bounds how often Core retries announcing itself
// to the onion node closest to its own public key, the self-discovery
// counterpart to a friend.Connection's own tryStartLookup.
const selfAnnounceInterval = 10 * time.Second

// onionPathFanout is how many of the DHT's closest nodes are considered
// when picking a fresh 3-hop path.
const onionPathFanout = 8

// Core is one running node: the bound-together DHT, onion, net-crypto,
// friend-connection and LAN-discovery layers, driven by a
// single Iterate call per loop tick.
type Core struct {
	Self   identity.KeyPair
	Clock  monotime.Clock
	Logger *slog.Logger

	Socket    *networking.Socket
	DHT       *dht.DHT
	OnionSrv  *onion.Server
	Store     *onion.AnnounceStore
	Friends   *friend.Manager
	Requests  *friendreq.Filter
	LAN       *landiscovery.Broadcaster

	bootstrapInfo networking.BootstrapInfo

	announceClient     *onion.Client
	announcePaths      *onion.PathSet
	nodeSecret         [32]byte
	lastSelfAnnounce   time.Time
	lastAnnounceDestPK identity.PublicKey
}

// New builds a Core from cfg, opening the UDP socket and wiring every
// packet tag this process understands into its dispatch table.
func New(cfg Config) (*Core, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := monotime.Clock(monotime.System{})

	sock, err := networking.Open(logger)
	if err != nil {
		return nil, fmt.Errorf("core: open socket: %w", err)
	}

	c := &Core{
		Self:   cfg.Self,
		Clock:  clock,
		Logger: logger,
		Socket: sock,
		bootstrapInfo: networking.BootstrapInfo{
			Version: cfg.Version,
			MOTD:    cfg.MOTD,
		},
	}

	c.DHT = dht.New(cfg.Self, clock, logger, sock.Send)

	onionSrv, err := onion.NewServer(cfg.Self, logger)
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("core: new onion server: %w", err)
	}
	c.OnionSrv = onionSrv
	c.Store = onion.NewAnnounceStore(cfg.Self.Public, clock.Now())
	if _, err := rand.Read(c.nodeSecret[:]); err != nil {
		sock.Close()
		return nil, fmt.Errorf("core: generate onion node secret: %w", err)
	}

	sendPaths := onion.NewPathSet(c.pickPath, false)
	onionClient := onion.NewClient(cfg.Self, sendPaths, clock, logger)

	friends, err := friend.NewManager(cfg.Self, c.DHT, onionClient, clock, logger)
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("core: new friend manager: %w", err)
	}
	c.Friends = friends
	friends.SendUDP = sock.Send
	friends.SendSession = c.sendToFriend

	c.announcePaths = onion.NewPathSet(c.pickPath, true)
	c.announceClient = onion.NewClient(cfg.Self, c.announcePaths, clock, logger)

	c.Requests = friendreq.NewFilter(cfg.Nospam, clock, logger)

	c.LAN = landiscovery.NewBroadcaster(cfg.Self, c.DHT, clock, logger)
	c.LAN.Send = sock.Send
	c.LAN.BroadcastAddrs = cfg.LANBroadcastAddrs

	c.registerHandlers()

	for _, bn := range cfg.BootstrapNodes {
		if err := c.DHT.Bootstrap(bn.Addr, bn.PK); err != nil {
			logger.Warn("bootstrap failed", "addr", bn.Addr, "err", err)
		}
	}

	return c, nil
}

// pickPath selects onionPathFanout of the closest known DHT nodes to our
// own key and returns three of them as a fresh onion path, the same
// close-node source every other onion-circuit selector in toxcore draws
// from.
func (c *Core) pickPath() ([3]onion.HopNode, error) {
	candidates := c.DHT.ClosestNodes(c.Self.Public, onionPathFanout)
	if len(candidates) < 3 {
		return [3]onion.HopNode{}, fmt.Errorf("core: not enough known nodes for an onion path (have %d, need 3)", len(candidates))
	}
	var hops [3]onion.HopNode
	for i := 0; i < 3; i++ {
		addr := candidates[i].BestAddr()
		if addr == nil {
			return [3]onion.HopNode{}, fmt.Errorf("core: candidate node has no usable address")
		}
		hops[i] = onion.HopNode{PK: candidates[i].PublicKey, Addr: *addr}
	}
	return hops, nil
}

// Iterate runs one pass of every periodic step and drains at most one
// inbound packet, returning promptly either way. Callers
// loop on Iterate from cmd/toxnode's main.
func (c *Core) Iterate() error {
	if err := c.Socket.ReadOnce(); err != nil {
		return fmt.Errorf("core: read socket: %w", err)
	}
	c.DHT.DoDHT()
	c.Friends.DoFriends()
	c.LAN.DoLANDiscovery()
	c.doSelfAnnounce()
	return nil
}

// doSelfAnnounce periodically announces this node's own public key to
// the onion node closest to it, so friends can find us the same way we
// find them.
func (c *Core) doSelfAnnounce() {
	now := c.Clock.Now()
	if now.Sub(c.lastSelfAnnounce) < selfAnnounceInterval {
		return
	}
	c.lastSelfAnnounce = now

	nodes := c.DHT.ClosestNodes(c.Self.Public, 1)
	if len(nodes) == 0 {
		return
	}
	destAddr := nodes[0].BestAddr()
	if destAddr == nil {
		return
	}
	pkt, sendAddr, err := c.announceClient.BuildAnnounce(nodes[0].PublicKey, *destAddr, c.Self.Public)
	if err != nil {
		c.Logger.Debug("build self-announce failed", "err", err)
		return
	}
	c.lastAnnounceDestPK = nodes[0].PublicKey
	if err := c.Socket.Send(sendAddr, pkt); err != nil {
		c.Logger.Debug("send self-announce failed", "err", err)
	}
}

// sendToFriend delivers an already-sealed net-crypto data packet to pk
// over UDP at its last-known DHT address. A friend reachable only
// through a shared TCP relay is, for now, limited to the relay traffic
// tcprelay.Client/Mux already moves on its own connection; wiring that
// path into SendSession as a fallback is future work.
func (c *Core) sendToFriend(pk identity.PublicKey, pkt wire.Packet) error {
	addr, ok := c.DHT.GetFriendIP(pk)
	if !ok {
		return fmt.Errorf("core: no known address for friend")
	}
	return c.Socket.Send(addr, pkt)
}
