// Package core wires the dht, onion, netcrypto, friend, friendreq and
// landiscovery packages onto one networking.Socket and
// drives them from a single cooperative loop, running a straight-line
// bootstrap sequence before the loop starts.
package core

import (
	"log/slog"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// BootstrapNode is one entry of a startup bootstrap list: a known-good
// DHT node's address and public key.
type BootstrapNode struct {
	Addr wire.IPPort
	PK   identity.PublicKey
}

// Config collects a node's startup parameters up front rather than
// scattering defaults through the call graph.
type Config struct {
	// Self is this node's long-term identity keypair.
	Self identity.KeyPair

	// Nospam is the public, rotatable friend-request filter value
	// carried in this node's Tox ID.
	Nospam uint32

	// BootstrapNodes seeds the DHT at startup.
	BootstrapNodes []BootstrapNode

	// LANBroadcastAddrs are the subnet broadcast addresses
	// landiscovery.Broadcaster sends to. A typical
	// deployment passes the local subnet's .255 address per interface;
	// an empty slice disables LAN discovery without disabling anything
	// else.
	LANBroadcastAddrs []wire.IPPort

	// MOTD is the message of the day served by the bootstrap-info
	// responder. Nodes not acting as a public
	// bootstrap node can leave this empty.
	MOTD string

	// Version is reported verbatim in bootstrap-info responses.
	Version uint32

	Logger *slog.Logger
}

// DefaultConfig returns a Config with a freshly generated identity and
// every optional field at its zero value, mirroring the pack's
// NewConfig-style constructors: callers override only what they need
// before calling New.
func DefaultConfig() (Config, error) {
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		return Config{}, err
	}
	nospam, err := identity.RandomNospam()
	if err != nil {
		return Config{}, err
	}
	var n uint32
	for _, b := range nospam {
		n = n<<8 | uint32(b)
	}
	return Config{Self: *kp, Nospam: n}, nil
}

// doTickInterval is a nominal driver tick length. Core.Iterate does not
// consult it: every call runs DoDHT, DoFriends and DoLANDiscovery, and
// each of those steps checks its own intervals and does nothing when
// none has elapsed.
const doTickInterval = 20 * time.Millisecond
