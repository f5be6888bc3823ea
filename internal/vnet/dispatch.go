package vnet

import (
	"fmt"

	"github.com/ipop-project/ipop-tincan-sub000/internal/frame"
	"github.com/ipop-project/ipop-tincan-sub000/internal/peernet"
	"github.com/ipop-project/ipop-tincan-sub000/internal/vlink"
)

// handleMessage is the dispatch worker's single entry point for every
// externally-posted or internally-generated message, spec §4.5's worker
// message table.
func (n *Network) handleMessage(m message) {
	switch m.kind {
	case msgCreateLink:
		n.handleCreateLink(m)
	case msgStartConnection:
		n.handleStartConnection(m)
	case msgEndConnection:
		n.peers.Remove(m.mac)
		m.reply(result{})
	case msgTransmit, msgFwdFrameRd:
		n.doTransmit(m.link, m.buf, true)
		m.reply(result{})
	case msgFwdFrame:
		n.doTransmit(m.link, m.buf, false)
		m.reply(result{})
	case msgQueryNodeInfo:
		n.handleQueryNodeInfo(m)
	case msgSendICC:
		link, err := n.resolveLink(m.mac)
		if err != nil {
			m.reply(result{err: err})
			return
		}
		n.doTransmit(link, m.buf, false)
		m.reply(result{})
	default:
		m.reply(result{err: fmt.Errorf("vnet: unknown message kind %d", m.kind)})
	}
}

// resolveLink looks up mac as an adjacency first, then as a route, spec
// §4.4's get_vlink/get_route pair.
func (n *Network) resolveLink(mac peernet.MAC) (*vlink.Link, error) {
	if l, err := n.peers.GetVlink(mac); err == nil {
		return l.(*vlink.Link), nil
	}
	if l, err := n.peers.GetRoute(mac); err == nil {
		return l.(*vlink.Link), nil
	}
	return nil, ErrUnknownPeer
}

func (n *Network) handleCreateLink(m message) {
	if !n.l2tunnelEnabled {
		m.reply(result{err: ErrNotImplemented})
		return
	}

	vlinkDesc := m.vlinkDesc
	vlinkDesc.IgnoredInterfaces = n.ignoredInterfacesSnapshot()

	link, err := vlink.New(n.local, m.peerDesc, vlinkDesc, n.log)
	if err != nil {
		m.reply(result{err: err})
		return
	}
	if err := link.Initialize(n.ctx); err != nil {
		n.log.Warn("link setup failed, link never reaches ready", "peer", m.peerDesc.UID, "err", err)
	}

	n.peers.Add(link)
	n.wg.Add(1)
	go n.fanIn(link)

	m.reply(result{link: link})
}

func (n *Network) handleStartConnection(m message) {
	link, err := n.peers.GetVlink(m.mac)
	if err != nil {
		m.reply(result{err: err})
		return
	}
	l, ok := link.(*vlink.Link)
	if !ok {
		m.reply(result{err: fmt.Errorf("vnet: adjacency for %v is not a vlink.Link", m.mac)})
		return
	}
	err = l.Start(n.ctx)
	m.reply(result{err: err})
}

func (n *Network) handleQueryNodeInfo(m message) {
	var zero peernet.MAC
	if m.mac == zero {
		m.reply(result{stats: vlink.ConnStats{LocalCandidate: n.localMAC.String()}})
		return
	}
	link, err := n.peers.GetVlink(m.mac)
	if err != nil {
		m.reply(result{err: err})
		return
	}
	l, ok := link.(*vlink.Link)
	if !ok {
		m.reply(result{err: fmt.Errorf("vnet: adjacency for %v is not a vlink.Link", m.mac)})
		return
	}
	stats, err := l.GetStats()
	m.reply(result{stats: stats, err: err})
}

// doTransmit sends buf on link. When repostTapRead is true (direct
// adjacency transmit or a forwarded frame whose buffer came from the TAP
// read pool, spec §4.5 TRANSMIT/FWD_FRAME_RD), the buffer returns to the
// TAP read pool; otherwise (FWD_FRAME from the overlay, or a synthetic
// SEND_ICC buffer) it's reclaimed to the cache.
func (n *Network) doTransmit(link *vlink.Link, buf *frame.Buffer, repostTapRead bool) {
	err := link.Transmit(buf.Bytes())
	if err != nil {
		n.log.Debug("transmit failed", "peer", link.PeerMAC(), "err", err)
	}
	if repostTapRead {
		n.postTapRead(buf)
	} else {
		n.cache.Reclaim(buf)
	}
}
