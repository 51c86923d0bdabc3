// Package onion implements the 3-hop onion circuits used for
// identity-hiding peer discovery: path construction and
// per-hop wrap/peel, the announce and lookup protocols, and the
// DHT-local announce store.
package onion

import (
	"fmt"
	"time"

	"github.com/toxgo/toxgo/identity"
	"github.com/toxgo/toxgo/wire"
)

// SendPathLifetime is how long a send path is used before being rebuilt
// to prevent tracking.
const SendPathLifetime = 30 * time.Second

// AnnouncePathLifetime is the (longer) lifetime for announce paths.
const AnnouncePathLifetime = 300 * time.Second

// HopNode identifies one relay in a path.
type HopNode struct {
	PK   identity.PublicKey
	Addr wire.IPPort
}

// Path is a 3-hop onion circuit: for each hop a
// fresh ephemeral X25519 keypair is generated so the path is keyed such
// that each hop sees only its predecessor and successor.
type Path struct {
	Hops      [3]HopNode
	Ephemeral [3]identity.KeyPair
	CreatedAt time.Time
	isAnnounce bool
}

// NewPath builds a fresh path over the given three relays (closest hop
// first) with new per-hop ephemeral keys.
func NewPath(hops [3]HopNode, now time.Time, announce bool) (*Path, error) {
	p := &Path{Hops: hops, CreatedAt: now, isAnnounce: announce}
	for i := 0; i < 3; i++ {
		kp, err := identity.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate hop %d ephemeral key: %w", i, err)
		}
		p.Ephemeral[i] = *kp
	}
	return p, nil
}

// Expired reports whether the path has outlived its rotation lifetime.
func (p *Path) Expired(now time.Time) bool {
	lifetime := SendPathLifetime
	if p.isAnnounce {
		lifetime = AnnouncePathLifetime
	}
	return now.Sub(p.CreatedAt) > lifetime
}

// PathSet manages a small pool of live paths for a client, rotating them
// on expiry or explicit failure.
type PathSet struct {
	paths   []*Path
	picker  func() ([3]HopNode, error)
	announce bool
}

// NewPathSet creates a path pool that builds fresh paths via picker (a
// hook into DHT node selection) on demand.
func NewPathSet(picker func() ([3]HopNode, error), announce bool) *PathSet {
	return &PathSet{picker: picker, announce: announce}
}

// Get returns a live, non-expired path, building a new one if needed.
func (ps *PathSet) Get(now time.Time) (*Path, error) {
	for i := len(ps.paths) - 1; i >= 0; i-- {
		if ps.paths[i].Expired(now) {
			ps.paths = append(ps.paths[:i], ps.paths[i+1:]...)
		}
	}
	if len(ps.paths) > 0 {
		return ps.paths[len(ps.paths)-1], nil
	}
	hops, err := ps.picker()
	if err != nil {
		return nil, fmt.Errorf("select onion path: %w", err)
	}
	p, err := NewPath(hops, now, ps.announce)
	if err != nil {
		return nil, err
	}
	ps.paths = append(ps.paths, p)
	return p, nil
}

// Invalidate drops path so the next Get call builds a replacement,
// matching "earlier if a path fails to deliver acknowledgments".
func (ps *PathSet) Invalidate(p *Path) {
	for i, cand := range ps.paths {
		if cand == p {
			ps.paths = append(ps.paths[:i], ps.paths[i+1:]...)
			return
		}
	}
}
