package control

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"

	"github.com/ipop-project/ipop-tincan-sub000/internal/peernet"
	"github.com/ipop-project/ipop-tincan-sub000/internal/vlink"
)

func decodeRequest(ctl *TincanControl, v interface{}) error {
	if len(ctl.Request) == 0 {
		return fmt.Errorf("missing Request body")
	}
	return json.Unmarshal(ctl.Request, v)
}

func handleCreateCtrlRespLink(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	var req CreateCtrlRespLinkRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	ip := net.ParseIP(req.IP)
	if ip == nil {
		return failure(fmt.Sprintf("invalid IP %q", req.IP)), false
	}
	d.channel.SetReplyAddr(&net.UDPAddr{IP: ip, Port: req.Port})
	return success(""), false
}

func handleCreateVnet(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	if d.netw != nil {
		return failure("VirtualNetwork already created"), false
	}
	var req CreateVnetRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	n, err := d.factory(req)
	if err != nil {
		return failure(err.Error()), false
	}
	n.SetController(d)
	n.SetLocalCASCallback(d.OnLocalCAS)
	d.netw = n
	go n.Run(d.ctx)
	return success(""), false
}

func peerDescriptorFromWire(w PeerDescriptorWire) (vlink.PeerDescriptor, net.HardwareAddr, error) {
	mac, err := net.ParseMAC(w.MAC)
	if err != nil {
		return vlink.PeerDescriptor{}, nil, fmt.Errorf("invalid MAC %q: %w", w.MAC, err)
	}
	peer := vlink.PeerDescriptor{
		UID:         w.UID,
		MAC:         mac,
		Fingerprint: w.Fingerprint,
		CAS:         w.CAS,
	}
	if w.VIP4 != "" {
		peer.VIP4 = net.ParseIP(w.VIP4)
	}
	if w.VIP6 != "" {
		peer.VIP6 = net.ParseIP(w.VIP6)
	}
	return peer, mac, nil
}

func vlinkDescriptorFromWire(w VlinkDescriptorWire) vlink.VlinkDescriptor {
	return vlink.VlinkDescriptor{
		Name:       w.Name,
		SecEnabled: w.SecEnabled,
		StunAddr:   w.StunAddr,
		TurnAddr:   w.TurnAddr,
		TurnUser:   w.TurnUser,
		TurnPass:   w.TurnPass,
	}
}

func handleCreateLinkListener(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	n, err := d.network()
	if err != nil {
		return failure(err.Error()), false
	}
	var req CreateLinkListenerRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	peer, mac, err := peerDescriptorFromWire(req.PeerDescriptorWire)
	if err != nil {
		return failure(err.Error()), false
	}

	link, err := n.CreateLink(peer, vlinkDescriptorFromWire(req.VlinkDescriptorWire))
	if err != nil {
		return failure(err.Error()), false
	}

	d.registerPending(ctl, peernet.MACFromHW(mac))
	_ = link
	return nil, true
}

func handleConnectToPeer(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	n, err := d.network()
	if err != nil {
		return failure(err.Error()), false
	}
	var req ConnectToPeerRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	peer, mac, err := peerDescriptorFromWire(req.PeerDescriptorWire)
	if err != nil {
		return failure(err.Error()), false
	}

	if _, err := n.CreateLink(peer, vlinkDescriptorFromWire(req.VlinkDescriptorWire)); err != nil {
		return failure(err.Error()), false
	}

	pmac := peernet.MACFromHW(mac)
	if err := n.SetPeerCandidates(pmac, req.CAS); err != nil {
		return failure(err.Error()), false
	}
	if err := n.StartConnection(pmac); err != nil {
		return failure(err.Error()), false
	}
	return success(""), false
}

func handleRemovePeer(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	n, err := d.network()
	if err != nil {
		return failure(err.Error()), false
	}
	var req RemovePeerRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	hw, err := net.ParseMAC(req.MAC)
	if err != nil {
		return failure(err.Error()), false
	}
	mac := peernet.MACFromHW(hw)
	d.cancelPendingFor(mac)
	if err := n.EndConnection(mac); err != nil {
		return failure(err.Error()), false
	}
	return success(""), false
}

func handleUpdateMap(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	n, err := d.network()
	if err != nil {
		return failure(err.Error()), false
	}
	var req UpdateMapRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	for _, u := range req.Updates {
		dest, err := net.ParseMAC(u.DestMAC)
		if err != nil {
			return failure(err.Error()), false
		}
		via, err := net.ParseMAC(u.PathMAC)
		if err != nil {
			return failure(err.Error()), false
		}
		if err := n.UpdateRoute(peernet.MACFromHW(dest), peernet.MACFromHW(via)); err != nil {
			return failure(err.Error()), false
		}
	}
	return success(""), false
}

func handleICC(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	n, err := d.network()
	if err != nil {
		return failure(err.Error()), false
	}
	var req ICCRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	hw, err := net.ParseMAC(req.MAC)
	if err != nil {
		return failure(err.Error()), false
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		return failure(fmt.Sprintf("invalid hex payload: %v", err)), false
	}
	if err := n.SendICC(peernet.MACFromHW(hw), payload); err != nil {
		return failure(err.Error()), false
	}
	return success(""), false
}

func handleInjectFrame(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	n, err := d.network()
	if err != nil {
		return failure(err.Error()), false
	}
	var req InjectFrameRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	data, err := hex.DecodeString(req.Payload)
	if err != nil {
		return failure(fmt.Sprintf("invalid hex payload: %v", err)), false
	}
	if err := n.InjectFrame(data); err != nil {
		return failure(err.Error()), false
	}
	return success(""), false
}

func handleQueryNodeInfo(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	n, err := d.network()
	if err != nil {
		return failure(err.Error()), false
	}
	var req QueryNodeInfoRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}

	var mac peernet.MAC
	if req.MAC != "" {
		hw, err := net.ParseMAC(req.MAC)
		if err != nil {
			return failure(err.Error()), false
		}
		mac = peernet.MACFromHW(hw)
	}

	stats, err := n.QueryNodeInfo(mac)
	if err != nil {
		return failure(err.Error()), false
	}
	body, err := json.Marshal(stats)
	if err != nil {
		return failure(err.Error()), false
	}
	return success(string(body)), false
}

func handleSetLoggingLevel(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	var req SetLoggingLevelRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	level, err := ParseLoggingLevel(req.Level)
	if err != nil {
		return failure(err.Error()), false
	}
	if d.logLevel != nil {
		d.logLevel.Set(level)
	}
	return success(""), false
}

func handleSetIgnoredNetInterfaces(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	n, err := d.network()
	if err != nil {
		return failure(err.Error()), false
	}
	var req SetIgnoredNetInterfacesRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	n.SetIgnoredInterfaces(req.Interfaces)
	return success(""), false
}

func handleEcho(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool) {
	var req EchoRequest
	if err := decodeRequest(ctl, &req); err != nil {
		return failure(err.Error()), false
	}
	return success(req.Message), false
}
