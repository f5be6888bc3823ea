package vlink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/ice/v4"

	"github.com/ipop-project/ipop-tincan-sub000/internal/frame"
	"github.com/ipop-project/ipop-tincan-sub000/internal/identity"
	"github.com/ipop-project/ipop-tincan-sub000/internal/peernet"
)

// ConnStats is the subset of ICE candidate-pair stats exposed by GetStats,
// spec §4.3 get_stats.
type ConnStats struct {
	LocalCandidate  string
	RemoteCandidate string
	BytesSent       uint64
	BytesReceived   uint64
}

// Link is one VirtualLink: the ICE transport, and DTLS wrapper when
// sec_enabled, to exactly one peer (spec §4.3).
type Link struct {
	local       *identity.Identity
	peer        PeerDescriptor
	desc        VlinkDescriptor
	controlling bool

	agent *ice.Agent
	conn  net.Conn

	mu    sync.Mutex
	state State

	localCandidates []ice.Candidate
	lastCAS         string
	gatherDone      chan struct{}
	gatherOnce      sync.Once

	Ready           chan struct{}
	Broken          chan struct{}
	LocalCASReady   chan string
	MessageReceived chan Message

	log *slog.Logger

	closeOnce sync.Once
}

// New constructs a Link in StateInit. It does not touch the network until
// Initialize is called.
func New(local *identity.Identity, peer PeerDescriptor, desc VlinkDescriptor, log *slog.Logger) (*Link, error) {
	controlling, err := SelectRole(local.UID.String(), peer.UID)
	if err != nil {
		return nil, err
	}
	return &Link{
		local:           local,
		peer:            peer,
		desc:            desc,
		controlling:     controlling,
		state:           StateInit,
		gatherDone:      make(chan struct{}),
		Ready:           make(chan struct{}, 1),
		Broken:          make(chan struct{}, 1),
		LocalCASReady:   make(chan string, 1),
		MessageReceived: make(chan Message, 64),
		log:             log.With("component", "vlink", "peer", peer.UID),
	}, nil
}

// PeerMAC satisfies peernet.Link.
func (l *Link) PeerMAC() peernet.MAC {
	return peernet.MACFromHW(l.peer.MAC)
}

// State returns the link's current lifecycle state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Initialize constructs the ICE agent, configures STUN/TURN, wires the
// event handlers, and begins candidate gathering. Per spec §4.3 this never
// returns a fatal error for the overall link setup flow — the caller logs
// and proceeds, since a link that never reaches Ready is simply torn down
// later by the controller.
func (l *Link) Initialize(ctx context.Context) error {
	cfg, err := buildAgentConfig(l.desc, l.log)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLinkSetup, err)
	}

	agent, err := ice.NewAgent(cfg)
	if err != nil {
		return fmt.Errorf("%w: create ICE agent: %v", ErrLinkSetup, err)
	}
	l.agent = agent
	l.setState(StateGathering)

	if err := agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			l.gatherOnce.Do(func() { close(l.gatherDone) })
			l.publishLocalCAS()
			return
		}
		l.mu.Lock()
		l.localCandidates = append(l.localCandidates, c)
		l.mu.Unlock()
	}); err != nil {
		return fmt.Errorf("%w: register candidate handler: %v", ErrLinkSetup, err)
	}

	if err := agent.OnConnectionStateChange(func(cs ice.ConnectionState) {
		switch cs {
		case ice.ConnectionStateConnected, ice.ConnectionStateCompleted:
			// ICE connectivity alone does not make the link writable: when
			// SecEnabled, the DTLS handshake in Start still has to succeed
			// and verify the peer's fingerprint first (spec §4.3, S6). Start
			// is the only place that sets StateReady and signals Ready.
			l.log.Debug("ice connectivity established", "state", cs)
		case ice.ConnectionStateFailed, ice.ConnectionStateDisconnected, ice.ConnectionStateClosed:
			l.setState(StateBroken)
			select {
			case l.Broken <- struct{}{}:
			default:
			}
		}
	}); err != nil {
		return fmt.Errorf("%w: register state handler: %v", ErrLinkSetup, err)
	}

	if err := agent.GatherCandidates(); err != nil {
		l.log.Warn("candidate gathering failed to start", "err", err)
	}

	return nil
}

// publishLocalCAS pushes the current gathered candidate set as a wire CAS
// string, spec §4.3 local_cas_ready. Non-blocking: if the channel still
// holds an undrained CAS, this one is not sent (Candidates still returns it).
func (l *Link) publishLocalCAS() {
	ufrag, pwd, err := l.agent.GetLocalUserCredentials()
	if err != nil {
		l.log.Warn("get local ICE credentials", "err", err)
		return
	}
	l.mu.Lock()
	cands := make([]frame.Candidate, len(l.localCandidates))
	for i, c := range l.localCandidates {
		cands[i] = toWireCandidate(c, ufrag, pwd)
	}
	cas := frame.JoinCAS(cands)
	l.lastCAS = cas
	l.mu.Unlock()

	select {
	case l.LocalCASReady <- cas:
	default:
	}
}

// SetPeerCandidates stores the peer's CAS string for a later Start, spec
// §4.3 set_peer_candidates.
func (l *Link) SetPeerCandidates(cas string) {
	l.mu.Lock()
	l.peer.CAS = cas
	l.mu.Unlock()
}

// Start applies the stored peer candidates as remote candidates and begins
// connectivity checks, spec §4.3. Returns an error wrapping
// frame.ErrMalformedCandidate if no candidate in the CAS string parses.
func (l *Link) Start(ctx context.Context) error {
	l.mu.Lock()
	cas := l.peer.CAS
	l.mu.Unlock()

	wireCands := frame.ParseCAS(cas)
	if len(wireCands) == 0 {
		return fmt.Errorf("%w: no usable candidates in peer CAS", frame.ErrMalformedCandidate)
	}

	var ufrag, pwd string
	for _, wc := range wireCands {
		ufrag, pwd = wc.Username, wc.Password
		ic, err := fromWireCandidate(wc)
		if err != nil {
			l.log.Debug("skip unparseable remote candidate", "err", err)
			continue
		}
		if err := l.agent.AddRemoteCandidate(ic); err != nil {
			l.log.Debug("add remote candidate", "err", err)
		}
	}

	l.setState(StateConnecting)

	var conn net.Conn
	var err error
	if l.controlling {
		conn, err = l.agent.Dial(ctx, ufrag, pwd)
	} else {
		conn, err = l.agent.Accept(ctx, ufrag, pwd)
	}
	if err != nil {
		l.setState(StateBroken)
		return fmt.Errorf("%w: %v", ErrLinkSetup, err)
	}

	secured, err := wrapDTLS(ctx, conn, l.local, l.peer, l.desc, l.controlling)
	if err != nil {
		conn.Close()
		l.setState(StateBroken)
		return err
	}

	l.mu.Lock()
	l.conn = secured
	l.mu.Unlock()

	// The link only becomes writable here: ICE connectivity plus, when
	// SecEnabled, a verified DTLS handshake (spec §4.3, S6 — link_ready must
	// not fire ahead of, or independent of, fingerprint verification).
	l.setState(StateReady)
	select {
	case l.Ready <- struct{}{}:
	default:
	}

	go l.readLoop(secured)
	return nil
}

func (l *Link) readLoop(conn net.Conn) {
	buf := make([]byte, frame.TapBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			l.setState(StateBroken)
			select {
			case l.Broken <- struct{}{}:
			default:
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case l.MessageReceived <- Message{Data: data, Link: l}:
		default:
			l.log.Warn("message_received channel full, dropping frame")
		}
	}
}

// Transmit sends frame on the channel, spec §4.3 transmit. If the link isn't
// writable yet the frame is not sent and ErrNotWritable is returned.
func (l *Link) Transmit(payload []byte) error {
	l.mu.Lock()
	conn := l.conn
	state := l.state
	l.mu.Unlock()

	if conn == nil || state != StateReady {
		return ErrNotWritable
	}
	_, err := conn.Write(payload)
	return err
}

// Candidates returns the space-joined local candidate strings gathered so
// far, empty while still gathering, spec §4.3 candidates().
func (l *Link) Candidates() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCAS
}

// GetStats queries the ICE agent for per-connection-pair stats, spec §4.3
// get_stats.
func (l *Link) GetStats() (ConnStats, error) {
	if l.agent == nil {
		return ConnStats{}, fmt.Errorf("vlink: not initialized")
	}
	pair, err := l.agent.GetSelectedCandidatePair()
	if err != nil || pair == nil {
		return ConnStats{}, fmt.Errorf("vlink: no selected candidate pair")
	}
	return ConnStats{
		LocalCandidate:  pair.Local.Marshal(),
		RemoteCandidate: pair.Remote.Marshal(),
	}, nil
}

// Disconnect destroys all channels and the ICE agent, spec §4.3 disconnect.
// Idempotent.
func (l *Link) Disconnect() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if l.agent != nil {
			l.agent.Close()
		}
		l.setState(StateBroken)
	})
}
