package vnet

import (
	"github.com/ipop-project/ipop-tincan-sub000/internal/frame"
	"github.com/ipop-project/ipop-tincan-sub000/internal/peernet"
	"github.com/ipop-project/ipop-tincan-sub000/internal/vlink"
)

// msgKind enumerates the dispatch worker's message kinds, spec §4.5.
type msgKind int

const (
	msgCreateLink msgKind = iota
	msgStartConnection
	msgEndConnection
	msgTransmit
	msgFwdFrame
	msgFwdFrameRd
	msgSendICC
	msgQueryNodeInfo
)

// message is one unit of work posted to the dispatch worker. Only the
// fields relevant to kind are populated.
type message struct {
	kind msgKind

	peerDesc  vlink.PeerDescriptor
	vlinkDesc vlink.VlinkDescriptor

	mac  peernet.MAC
	link *vlink.Link
	buf  *frame.Buffer

	done chan result
}

// result is the completion payload for a message, delivered on done.
type result struct {
	link  *vlink.Link
	stats vlink.ConnStats
	err   error
}

func (m message) reply(r result) {
	if m.done != nil {
		m.done <- r
	}
}

// linkEventKind enumerates the per-link signals fanned into the dispatch
// worker's shared linkEvents channel (spec §4.3 signals, §5 "ICE transport
// is owned by link_setup_worker ... callbacks only post onto Link's
// channels" — the fan-in goroutine here is that posting boundary).
type linkEventKind int

const (
	evReady linkEventKind = iota
	evBroken
	evMessage
	evLocalCAS
)

type linkEvent struct {
	kind linkEventKind
	link *vlink.Link
	data []byte
	cas  string
}
