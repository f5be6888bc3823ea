package vnet

import (
	"github.com/ipop-project/ipop-tincan-sub000/internal/frame"
	"github.com/ipop-project/ipop-tincan-sub000/internal/peernet"
	"github.com/ipop-project/ipop-tincan-sub000/internal/tapdev"
	"github.com/ipop-project/ipop-tincan-sub000/internal/vlink"
)

// handleTapCompletion is tap_read_complete / the write-side of the TAP
// async contract, spec §4.5.
func (n *Network) handleTapCompletion(c tapdev.Completion) {
	if c.Write {
		// Every outbound TAP write is either a DTF delivery from the overlay
		// or an InjectFrame control command; neither reuses the buffer.
		n.cache.Reclaim(c.Buf)
		return
	}

	if !c.OK {
		// Never drop the buffer: reinitialize and re-post for another read.
		n.postTapRead(c.Buf)
		return
	}

	props, err := frame.Classify(c.Buf, false)
	if err != nil {
		n.log.Debug("tap read produced an unclassifiable frame, discarding", "err", err)
		n.postTapRead(c.Buf)
		return
	}

	mac := peernet.MACFromHW(props.DstMAC)

	switch {
	case n.peers.IsAdjacent(mac):
		if err := c.Buf.StampMagic(frame.DTFMagic); err != nil {
			n.log.Warn("stamp DTF magic", "err", err)
			n.postTapRead(c.Buf)
			return
		}
		link, _ := n.peers.GetVlink(mac)
		n.handleMessage(message{kind: msgTransmit, link: link.(*vlink.Link), buf: c.Buf})

	case n.peers.IsRouteExists(mac):
		if err := c.Buf.StampMagic(frame.FWDMagic); err != nil {
			n.log.Warn("stamp FWD magic", "err", err)
			n.postTapRead(c.Buf)
			return
		}
		link, _ := n.peers.GetRoute(mac)
		n.handleMessage(message{kind: msgFwdFrameRd, link: link.(*vlink.Link), buf: c.Buf})

	default:
		// props slices alias c.Buf, which StampMagic shifts; copy them first.
		dst := mac.HardwareAddr()
		payload := append([]byte(nil), props.Payload()...)
		if err := c.Buf.StampMagic(frame.ICCMagic); err != nil {
			n.log.Warn("stamp ICC magic", "err", err)
			n.postTapRead(c.Buf)
			return
		}
		n.notifier().NotifyUpdateRoutes(dst, payload)
		n.postTapRead(c.Buf)
	}
}

// handleLinkEvent dispatches one fanned-in VirtualLink signal, spec §4.3
// signals / §4.5 link lifecycle coupling.
func (n *Network) handleLinkEvent(ev linkEvent) {
	switch ev.kind {
	case evReady:
		for i := 0; i < LinkConcurrentAIO; i++ {
			n.primeTapRead()
		}
	case evBroken:
		// No action here by design: removal is driven by the controller via
		// RemovePeer, spec §4.5.
		n.log.Debug("link broken", "peer", ev.link.PeerMAC())
	case evMessage:
		n.handleVlinkMessage(ev.link, ev.data)
	case evLocalCAS:
		n.mu.Lock()
		cb := n.casCallback
		n.mu.Unlock()
		if cb != nil {
			cb(ev.link.PeerMAC(), ev.cas)
		}
	}
}

// handleVlinkMessage is vlink_read_complete, spec §4.5. The FWD_MAGIC branch
// deliberately never special-cases a destination mac equal to this node's
// own TAP mac: per the Open Question 1 decision in DESIGN.md, such a frame
// still falls through to the controller-notification path rather than
// being unwrapped for local delivery.
func (n *Network) handleVlinkMessage(link *vlink.Link, data []byte) {
	buf, err := n.cache.AcquireWithData(data)
	if err != nil {
		n.log.Warn("acquire buffer for overlay message", "err", err)
		return
	}

	props, err := frame.Classify(buf, true)
	if err != nil {
		n.log.Debug("unclassifiable overlay message, dropping", "peer", link.PeerMAC(), "err", err)
		n.cache.Reclaim(buf)
		return
	}

	switch props.Magic {
	case frame.ICCMagic:
		n.notifier().NotifyICC(link.PeerMAC().HardwareAddr(), props.Payload())
		n.cache.Reclaim(buf)

	case frame.FWDMagic:
		mac := peernet.MACFromHW(props.DstMAC)
		if n.peers.IsRouteExists(mac) {
			routeLink, _ := n.peers.GetRoute(mac)
			n.handleMessage(message{kind: msgFwdFrame, link: routeLink.(*vlink.Link), buf: buf})
			return
		}
		n.notifier().NotifyUpdateRoutes(props.DstMAC, props.Payload())
		n.cache.Reclaim(buf)

	case frame.DTFMagic:
		payload := buf.StripMagic()
		outBuf, err := n.cache.AcquireWithData(payload)
		if err != nil {
			n.log.Warn("acquire buffer for TAP delivery", "err", err)
		} else {
			n.aio.PostWrite(outBuf)
		}
		n.cache.Reclaim(buf)

	default:
		n.log.Warn("unknown overlay magic, dropping", "peer", link.PeerMAC(), "magic", props.Magic)
		n.cache.Reclaim(buf)
	}
}

// fanIn forwards one VirtualLink's signal channels onto the shared
// linkEvents channel the dispatch worker drains, so the worker's select
// statement never needs to grow a case per link. It exits once the link
// reports Broken or the network is stopped.
func (n *Network) fanIn(link *vlink.Link) {
	defer n.wg.Done()
	for {
		select {
		case <-link.Ready:
			select {
			case n.linkEvents <- linkEvent{kind: evReady, link: link}:
			case <-n.done:
				return
			}
		case <-link.Broken:
			select {
			case n.linkEvents <- linkEvent{kind: evBroken, link: link}:
			case <-n.done:
			}
			return
		case m := <-link.MessageReceived:
			select {
			case n.linkEvents <- linkEvent{kind: evMessage, link: link, data: m.Data}:
			case <-n.done:
				return
			}
		case cas := <-link.LocalCASReady:
			select {
			case n.linkEvents <- linkEvent{kind: evLocalCAS, link: link, cas: cas}:
			case <-n.done:
				return
			}
		case <-n.done:
			return
		}
	}
}
