// Package vnet implements VirtualNetwork (C6): the single dispatch engine
// that owns one TapDevice, one PeerNetwork, and one FrameCache, and
// serializes every mutation to them through one worker goroutine (spec
// §4.5, §5).
package vnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ipop-project/ipop-tincan-sub000/internal/frame"
	"github.com/ipop-project/ipop-tincan-sub000/internal/identity"
	"github.com/ipop-project/ipop-tincan-sub000/internal/peernet"
	"github.com/ipop-project/ipop-tincan-sub000/internal/tapdev"
	"github.com/ipop-project/ipop-tincan-sub000/internal/vlink"
)

// LinkConcurrentAIO is the number of TAP reads primed per newly-ready link,
// spec §4.5 ("link_ready ... primes LINK_CONCURRENT_AIO TAP reads").
const LinkConcurrentAIO = 1

// ErrNotImplemented is returned by operations on the legacy L3
// (l2tunnel_enabled=false) pipeline, spec §4.5/§9: the L2 pipeline is
// mandatory for new deployments and is the only one this implementation
// carries forward.
var ErrNotImplemented = errors.New("vnet: l2tunnel_enabled=false pipeline is not implemented")

// ErrUnknownPeer is returned by operations addressing a mac with no
// adjacency or route.
var ErrUnknownPeer = errors.New("vnet: unknown peer mac")

// ControllerNotifier is the minimal surface VirtualNetwork needs to reach
// the controller: an UpdateRoutes request when a destination mac has no
// known path, and an ICC delivery for opaque inter-controller-control
// payloads. The control package's ControlDispatch implements this.
type ControllerNotifier interface {
	NotifyUpdateRoutes(destMAC net.HardwareAddr, payload []byte)
	NotifyICC(srcMAC net.HardwareAddr, payload []byte)
}

// noopNotifier is used until a real controller registers, matching the
// "sink implementation that logs" behavior spec §4.6 describes for
// ControlChannel before CreateCtrlRespLink runs.
type noopNotifier struct{ log *slog.Logger }

func (n noopNotifier) NotifyUpdateRoutes(mac net.HardwareAddr, _ []byte) {
	n.log.Debug("no controller connected, dropping UpdateRoutes notification", "mac", mac)
}

func (n noopNotifier) NotifyICC(mac net.HardwareAddr, _ []byte) {
	n.log.Debug("no controller connected, dropping ICC notification", "mac", mac)
}

// Network is one VirtualNetwork: the TAP device, the peer adjacency/route
// table, the frame pool, and the dispatch worker that serializes all of it.
type Network struct {
	name            string
	l2tunnelEnabled bool

	local    *identity.Identity
	tap      tapdev.Device
	aio      *tapdev.AsyncIO
	cache    *frame.Cache
	peers    *peernet.Network
	localMAC net.HardwareAddr

	mu                sync.Mutex
	controller        ControllerNotifier
	casCallback       func(peernet.MAC, string)
	ignoredInterfaces []string

	msgs       chan message
	linkEvents chan linkEvent
	done       chan struct{}
	wg         sync.WaitGroup

	ctx context.Context

	log *slog.Logger
}

// Config configures a new Network.
type Config struct {
	Name            string
	L2TunnelEnabled bool
}

// New constructs a Network bound to dev. It does not start the dispatch
// worker — call Run for that.
func New(cfg Config, local *identity.Identity, dev tapdev.Device, log *slog.Logger) *Network {
	log = log.With("component", "vnet", "network", cfg.Name)
	n := &Network{
		name:            cfg.Name,
		l2tunnelEnabled: cfg.L2TunnelEnabled,
		local:           local,
		tap:             dev,
		cache:           frame.NewCache(log),
		peers:           peernet.New(log),
		localMAC:        dev.HardwareAddr(),
		controller:      noopNotifier{log: log},
		msgs:            make(chan message, 64),
		linkEvents:      make(chan linkEvent, 64),
		done:            make(chan struct{}),
		ctx:             context.Background(),
		log:             log,
	}
	n.aio = tapdev.NewAsyncIO(dev, 64)
	return n
}

// SetController registers the controller notification sink. The control
// dispatch calls it when CreateVnet builds this network.
func (n *Network) SetController(c ControllerNotifier) {
	n.mu.Lock()
	n.controller = c
	n.mu.Unlock()
}

// SetLocalCASCallback registers the callback invoked when a VirtualLink's
// local candidate set becomes ready, spec §4.7's CreateLinkListener
// correlation: the control dispatch layer uses this to pop the first
// matching pending control and fill in the CAS string.
func (n *Network) SetLocalCASCallback(cb func(peernet.MAC, string)) {
	n.mu.Lock()
	n.casCallback = cb
	n.mu.Unlock()
}

// SetIgnoredInterfaces restricts which host NICs new VirtualLinks' ICE
// agents bind to, per the SetIgnoredNetInterfaces control command
// (supplemented from original_source).
func (n *Network) SetIgnoredInterfaces(names []string) {
	n.mu.Lock()
	n.ignoredInterfaces = names
	n.mu.Unlock()
}

func (n *Network) ignoredInterfacesSnapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ignoredInterfaces
}

func (n *Network) notifier() ControllerNotifier {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.controller
}

// Run starts the dispatch worker and primes the initial TAP read pool. It
// blocks until ctx is cancelled or Stop is called.
func (n *Network) Run(ctx context.Context) {
	n.ctx = ctx
	for i := 0; i < LinkConcurrentAIO; i++ {
		n.primeTapRead()
	}

	n.wg.Add(1)
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case m := <-n.msgs:
			n.handleMessage(m)
		case c := <-n.aio.Completions():
			n.handleTapCompletion(c)
		case ev := <-n.linkEvents:
			n.handleLinkEvent(ev)
		}
	}
}

// Stop tears down the dispatch worker, all VirtualLinks, and the TAP
// device, in the shutdown order spec §5 requires (control worker is
// stopped by the caller before this, outside vnet's scope).
func (n *Network) Stop() {
	close(n.done)
	n.wg.Wait()
	n.peers.Close()
	n.aio.Close()
	n.tap.Close()
}

func (n *Network) postTapRead(buf *frame.Buffer) {
	buf.Reset()
	n.aio.PostRead(buf)
}

// primeTapRead acquires a fresh buffer for a new TAP read, applying the
// FrameCache's backpressure (spec §4.2/§8 S4): when the pool is already at
// HighThreshold, this read is skipped, and nothing posts it again later when
// a buffer is reclaimed. Re-posting a buffer this worker already owns
// (postTapRead) never goes through this path, so in-flight reads keep
// cycling regardless.
func (n *Network) primeTapRead() {
	buf := n.cache.Acquire()
	if buf == nil {
		n.log.Debug("frame cache over-provisioned, skipping new TAP read")
		return
	}
	n.postTapRead(buf)
}

// send posts msg and blocks for its completion signal.
func (n *Network) send(m message) result {
	done := make(chan result, 1)
	m.done = done
	select {
	case n.msgs <- m:
	case <-n.done:
		return result{err: fmt.Errorf("vnet: network stopped")}
	}
	select {
	case r := <-done:
		return r
	case <-n.done:
		return result{err: fmt.Errorf("vnet: network stopped")}
	}
}

// CreateLink constructs a VirtualLink for peer and adds it to the
// PeerNetwork, spec §4.5 CREATE_LINK.
func (n *Network) CreateLink(peer vlink.PeerDescriptor, desc vlink.VlinkDescriptor) (*vlink.Link, error) {
	r := n.send(message{kind: msgCreateLink, peerDesc: peer, vlinkDesc: desc})
	return r.link, r.err
}

// StartConnection applies the peer's stored candidates and begins ICE
// connectivity checks, spec §4.5 START_CONNECTION.
func (n *Network) StartConnection(mac peernet.MAC) error {
	return n.send(message{kind: msgStartConnection, mac: mac}).err
}

// EndConnection removes the adjacency for mac, spec §4.5 END_CONNECTION.
func (n *Network) EndConnection(mac peernet.MAC) error {
	return n.send(message{kind: msgEndConnection, mac: mac}).err
}

// QueryNodeInfo collects stats for the link to mac, spec §4.5
// QUERY_NODE_INFO. A zero mac (all-zero) means "local node info", per
// SPEC_FULL.md §4 (supplemented from original_source: QueryNodeInfo with
// no target returns local info).
func (n *Network) QueryNodeInfo(mac peernet.MAC) (vlink.ConnStats, error) {
	r := n.send(message{kind: msgQueryNodeInfo, mac: mac})
	return r.stats, r.err
}

// SendICC queues a synthetic inter-controller-control payload for
// transmission to mac, spec §4.5 SEND_ICC / §6 SendICC command.
func (n *Network) SendICC(mac peernet.MAC, payload []byte) error {
	if len(payload) > frame.MaxICC {
		return fmt.Errorf("vnet: ICC payload %d bytes exceeds %d", len(payload), frame.MaxICC)
	}
	buf, err := n.cache.AcquireWithData(payload)
	if err != nil {
		return err
	}
	if err := buf.StampMagic(frame.ICCMagic); err != nil {
		return err
	}
	return n.send(message{kind: msgSendICC, mac: mac, buf: buf}).err
}

// UpdateRoute applies one route update, spec §6 UpdateMap command. It
// mutates the PeerNetwork directly: PeerNetwork is self-synchronizing, so
// this doesn't need to go through the dispatch worker, the same reasoning
// that lets InjectFrame and SendICC's cache work bypass it below.
func (n *Network) UpdateRoute(dest, via peernet.MAC) error {
	return n.peers.UpdateRoute(dest, via)
}

// SetPeerCandidates stores the peer's CAS string on an existing adjacency,
// spec §6 ConnectToPeer command, ahead of a later StartConnection.
func (n *Network) SetPeerCandidates(mac peernet.MAC, cas string) error {
	link, err := n.peers.GetVlink(mac)
	if err != nil {
		return err
	}
	l, ok := link.(*vlink.Link)
	if !ok {
		return fmt.Errorf("vnet: adjacency for %v is not a vlink.Link", mac)
	}
	l.SetPeerCandidates(cas)
	return nil
}

// InjectFrame validates and queues a raw Ethernet frame for local TAP
// delivery, supplementing spec.md from original_source: InjectFrame
// requires at least a full Ethernet header (14 bytes).
func (n *Network) InjectFrame(data []byte) error {
	if len(data) < frame.EthHeaderSize {
		return fmt.Errorf("vnet: injected frame %d bytes shorter than an Ethernet header", len(data))
	}
	buf, err := n.cache.AcquireWithData(data)
	if err != nil {
		return err
	}
	n.aio.PostWrite(buf)
	return nil
}
