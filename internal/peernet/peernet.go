// Package peernet implements the MAC-keyed adjacency table and route cache
// of spec §4.4, plus the background scavenger that evicts stale routes.
package peernet

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ScavengeInterval is how often the background scavenger sweeps routes,
// spec §4.4.
const ScavengeInterval = 120 * time.Second

// RouteMaxIdle is the idle duration past which a route is evicted even if
// its adjacency is still valid: 3 × ScavengeInterval, spec §3.
const RouteMaxIdle = 3 * ScavengeInterval

var (
	// ErrSelfRoute is returned when update_route's dest equals its via.
	ErrSelfRoute = errors.New("peernet: route destination equals via")
	// ErrNotAdjacent is returned when a route's via target has no adjacency.
	ErrNotAdjacent = errors.New("peernet: via is not adjacent")
	// ErrNoSuchPeer is returned by GetVlink for an absent adjacency.
	ErrNoSuchPeer = errors.New("peernet: no adjacency for mac")
	// ErrNoSuchRoute is returned by GetRoute for an absent route.
	ErrNoSuchRoute = errors.New("peernet: no route for mac")
)

// MAC is a 6-byte hardware address used as a map key.
type MAC [6]byte

// MACFromHW converts a net.HardwareAddr to a MAC key. It does not validate
// the length: only the first 6 bytes are copied, and a shorter hw leaves the
// remaining bytes zero.
func MACFromHW(hw net.HardwareAddr) MAC {
	var m MAC
	copy(m[:], hw)
	return m
}

func (m MAC) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(m[:])
}

func (m MAC) String() string {
	return m.HardwareAddr().String()
}

// Link is the minimal surface peernet needs from a VirtualLink. It is
// satisfied by *vlink.Link; the interface exists here to avoid a dependency
// cycle (vlink knows nothing about peernet).
type Link interface {
	PeerMAC() MAC
	Disconnect()
}

// peerLink is the shared-ownership handle of spec §9: referenced by the
// adjacency entry and by zero or more routes, destroyed only once the last
// reference is gone.
type peerLink struct {
	link  Link
	valid atomic.Bool
	wg    sync.WaitGroup // outstanding route references pending drop
}

// routeEntry is one entry of the route cache, spec §3 RouteEntry.
type routeEntry struct {
	via          *peerLink
	lastAccessed atomic.Int64 // unix nanos
}

func (r *routeEntry) touch() {
	r.lastAccessed.Store(time.Now().UnixNano())
}

func (r *routeEntry) idleFor() time.Duration {
	return time.Since(time.Unix(0, r.lastAccessed.Load()))
}

// Network holds the adjacency table and route cache for one VirtualNetwork.
type Network struct {
	mu        sync.Mutex
	adjacency map[MAC]*peerLink
	routes    map[MAC]*routeEntry

	log  *slog.Logger
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an empty peer network and starts its scavenger goroutine.
func New(log *slog.Logger) *Network {
	n := &Network{
		adjacency: make(map[MAC]*peerLink),
		routes:    make(map[MAC]*routeEntry),
		log:       log.With("component", "peernet"),
		stop:      make(chan struct{}),
	}
	n.wg.Add(1)
	go n.scavengeLoop()
	return n
}

// Close stops the scavenger and disconnects every adjacent VirtualLink,
// spec §5's shutdown order ("tears down all VirtualLinks"). Unlike Remove,
// this disconnects synchronously: by the time Close returns, no link has
// outstanding references left to wait out asynchronously, since nothing
// else is dispatching routes anymore.
func (n *Network) Close() {
	close(n.stop)
	n.wg.Wait()

	n.mu.Lock()
	links := make([]*peerLink, 0, len(n.adjacency))
	for mac, pl := range n.adjacency {
		links = append(links, pl)
		delete(n.adjacency, mac)
	}
	n.mu.Unlock()

	for _, pl := range links {
		pl.valid.Store(false)
		pl.link.Disconnect()
	}
}

// Add inserts or overwrites the adjacency entry for link.PeerMAC() (spec
// §4.4 add). Re-creating an existing adjacency is logged and overwrites,
// per spec §3 invariant ("At-most-one VirtualLink per peer MAC ...
// re-create is logged and overwrites").
func (n *Network) Add(link Link) {
	mac := link.PeerMAC()
	pl := &peerLink{link: link}
	pl.valid.Store(true)

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.adjacency[mac]; exists {
		n.log.Warn("peer link re-created, overwriting", "mac", mac)
	}
	n.adjacency[mac] = pl
}

// Remove marks the adjacency entry invalid and erases it. Routes pointing
// at it are evicted lazily, on the next lookup or the next scavenger tick
// (spec §4.4 remove, §3 lifecycle).
func (n *Network) Remove(mac MAC) {
	n.mu.Lock()
	pl, ok := n.adjacency[mac]
	if !ok {
		n.mu.Unlock()
		return
	}
	delete(n.adjacency, mac)
	n.mu.Unlock()

	pl.valid.Store(false)
	go func() {
		pl.wg.Wait()
		pl.link.Disconnect()
	}()
}

// UpdateRoute installs dest -> via in the route cache. Fails if dest == via,
// if via has no adjacency, or if that adjacency is invalid (spec §4.4).
func (n *Network) UpdateRoute(dest, via MAC) error {
	if dest == via {
		return ErrSelfRoute
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	pl, ok := n.adjacency[via]
	if !ok || !pl.valid.Load() {
		return ErrNotAdjacent
	}

	if existing, ok := n.routes[dest]; ok && existing.via != pl {
		existing.via.wg.Done()
	} else if ok && existing.via == pl {
		existing.touch()
		return nil
	}

	pl.wg.Add(1)
	r := &routeEntry{via: pl}
	r.touch()
	n.routes[dest] = r
	return nil
}

// GetVlink returns the adjacency link for mac, failing if none exists
// (spec §4.4 get_vlink).
func (n *Network) GetVlink(mac MAC) (Link, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pl, ok := n.adjacency[mac]
	if !ok || !pl.valid.Load() {
		return nil, ErrNoSuchPeer
	}
	return pl.link, nil
}

// GetRoute returns the link to use to reach mac via a route, refreshing its
// access time (spec §4.4 get_route). Evicts and fails if the underlying
// adjacency has gone invalid.
func (n *Network) GetRoute(mac MAC) (Link, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.routes[mac]
	if !ok {
		return nil, ErrNoSuchRoute
	}
	if !r.via.valid.Load() {
		delete(n.routes, mac)
		r.via.wg.Done()
		return nil, ErrNoSuchRoute
	}
	r.touch()
	return r.via.link, nil
}

// IsAdjacent reports whether mac has a valid adjacency entry.
func (n *Network) IsAdjacent(mac MAC) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	pl, ok := n.adjacency[mac]
	return ok && pl.valid.Load()
}

// IsRouteExists reports whether a usable route to mac exists, evicting a
// stale entry encountered during the check (spec §4.4).
func (n *Network) IsRouteExists(mac MAC) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.routes[mac]
	if !ok {
		return false
	}
	if !r.via.valid.Load() {
		delete(n.routes, mac)
		r.via.wg.Done()
		return false
	}
	return true
}

func (n *Network) scavengeLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(ScavengeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.scavenge()
		}
	}
}

func (n *Network) scavenge() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for mac, r := range n.routes {
		if !r.via.valid.Load() || r.idleFor() > RouteMaxIdle {
			delete(n.routes, mac)
			r.via.wg.Done()
		}
	}
}
