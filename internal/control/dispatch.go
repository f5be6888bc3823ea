package control

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ipop-project/ipop-tincan-sub000/internal/peernet"
	"github.com/ipop-project/ipop-tincan-sub000/internal/vnet"
)

// NetworkFactory builds the VirtualNetwork a CreateVnet command describes.
// The supervisor supplies this, since it alone knows how to open a TAP
// device and mint the node's identity.
type NetworkFactory func(req CreateVnetRequest) (*vnet.Network, error)

// Handler processes one command. A true second return means the reply is
// deferred (spec §4.7's CreateLinkListener correlation); Dispatch must not
// send a response for it here.
type Handler func(d *Dispatch, ctl *TincanControl) (*ControlResponse, bool)

type pendingControl struct {
	ctl *TincanControl
	mac peernet.MAC
}

// Dispatch is ControlDispatch (C8): the command-name-to-handler table
// driving exactly one VirtualNetwork, spec §4.7. Grounded on the teacher's
// ControllerClient.readLoop switch (internal/agent/controller.go),
// generalized from a type switch into a registered-handler map per spec
// §9's ControlDispatch design note.
type Dispatch struct {
	channel *Channel
	factory NetworkFactory

	handlers map[string]Handler

	mu      sync.Mutex
	netw    *vnet.Network
	pending map[string]*pendingControl

	txnSeq atomic.Uint64

	logLevel *slog.LevelVar

	ctx context.Context
	log *slog.Logger
}

// NewDispatch builds a Dispatch bound to channel, using factory to realize
// CreateVnet commands.
func NewDispatch(channel *Channel, factory NetworkFactory, logLevel *slog.LevelVar, log *slog.Logger) *Dispatch {
	d := &Dispatch{
		channel:  channel,
		factory:  factory,
		pending:  make(map[string]*pendingControl),
		logLevel: logLevel,
		ctx:      context.Background(),
		log:      log.With("component", "control-dispatch"),
	}
	d.handlers = map[string]Handler{
		CmdCreateCtrlRespLink:      handleCreateCtrlRespLink,
		CmdCreateVnet:              handleCreateVnet,
		CmdCreateLinkListener:      handleCreateLinkListener,
		CmdConnectToPeer:           handleConnectToPeer,
		CmdRemovePeer:              handleRemovePeer,
		CmdUpdateMap:               handleUpdateMap,
		CmdICC:                     handleICC,
		CmdInjectFrame:             handleInjectFrame,
		CmdQueryNodeInfo:           handleQueryNodeInfo,
		CmdSetLoggingLevel:         handleSetLoggingLevel,
		CmdSetIgnoredNetInterfaces: handleSetIgnoredNetInterfaces,
		CmdEcho:                    handleEcho,
	}
	return d
}

// Run drains the control channel until ctx is cancelled or the channel is
// closed out from under it.
func (d *Dispatch) Run(ctx context.Context) {
	d.ctx = ctx
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ctl, _, err := d.channel.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			d.log.Debug("read control datagram", "err", err)
			continue
		}
		d.Handle(ctl)
	}
}

// Handle processes one decoded control datagram, spec §4.7: "locks the
// dispatch mutex, calls the corresponding VirtualNetwork operation, builds
// a success/failure response ... forwards it through the ControlChannel."
func (d *Dispatch) Handle(ctl *TincanControl) {
	h, ok := d.handlers[ctl.Command]
	if !ok {
		d.reply(ctl, failure(fmt.Sprintf("unknown command %q", ctl.Command)))
		return
	}

	d.mu.Lock()
	resp, deferred := h(d, ctl)
	d.mu.Unlock()

	if deferred {
		return
	}
	d.reply(ctl, resp)
}

func (d *Dispatch) reply(ctl *TincanControl, resp *ControlResponse) {
	out := &TincanControl{
		ProtocolVersion: ProtocolVersion,
		TransactionId:   ctl.TransactionId,
		ControlType:     TypeResponse,
		Command:         ctl.Command,
		Response:        resp,
	}
	if err := d.channel.Send(out); err != nil {
		d.log.Warn("send control response", "command", ctl.Command, "err", err)
	}
}

// network returns the active VirtualNetwork or an error if CreateVnet
// hasn't run yet. Callers hold d.mu already (invoked only from handlers).
func (d *Dispatch) network() (*vnet.Network, error) {
	if d.netw == nil {
		return nil, fmt.Errorf("control: no VirtualNetwork created yet")
	}
	return d.netw, nil
}

// CurrentNetwork returns the VirtualNetwork created by CreateVnet, or nil if
// none has been created yet. Used by the supervisor to tear it down on
// shutdown.
func (d *Dispatch) CurrentNetwork() *vnet.Network {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.netw
}

// registerPending records a CreateLinkListener awaiting local_cas_ready,
// spec §4.7. Only one request is tracked at a time (spec §9: "only one CAS
// request per node is ever in flight in practice").
func (d *Dispatch) registerPending(ctl *TincanControl, mac peernet.MAC) {
	d.pending[CmdCreateLinkListener] = &pendingControl{ctl: ctl, mac: mac}
}

// cancelPendingFor drops a pending CreateLinkListener for mac without ever
// replying to it, spec §4.7: "A pending CreateLinkListener is cancelled
// when the VirtualLink is removed."
func (d *Dispatch) cancelPendingFor(mac peernet.MAC) {
	if p, ok := d.pending[CmdCreateLinkListener]; ok && p.mac == mac {
		delete(d.pending, CmdCreateLinkListener)
	}
}

// NotifyUpdateRoutes implements vnet.ControllerNotifier, spec §4.5/§4.6.
func (d *Dispatch) NotifyUpdateRoutes(destMAC net.HardwareAddr, payload []byte) {
	d.notify(cmdUpdateRoutesNotification, UpdateRoutesNotification{
		DestMAC: destMAC.String(),
		Payload: hex.EncodeToString(payload),
	})
}

// NotifyICC implements vnet.ControllerNotifier, spec §4.5/§4.6.
func (d *Dispatch) NotifyICC(srcMAC net.HardwareAddr, payload []byte) {
	d.notify(CmdICC, ICCRequest{
		MAC:     srcMAC.String(),
		Payload: hex.EncodeToString(payload),
	})
}

// OnLocalCAS resolves a pending CreateLinkListener once a VirtualLink
// gathers its candidates, spec §4.7/§8 S5. Registered with vnet.Network via
// SetLocalCASCallback.
func (d *Dispatch) OnLocalCAS(mac peernet.MAC, cas string) {
	d.mu.Lock()
	p, ok := d.pending[CmdCreateLinkListener]
	if ok && p.mac == mac {
		delete(d.pending, CmdCreateLinkListener)
	} else {
		ok = false
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	d.reply(p.ctl, success(cas))
}

func (d *Dispatch) notify(command string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Warn("encode controller notification", "command", command, "err", err)
		return
	}
	ctl := &TincanControl{
		ProtocolVersion: ProtocolVersion,
		TransactionId:   d.txnSeq.Add(1),
		ControlType:     TypeRequest,
		Command:         command,
		Request:         body,
	}
	if err := d.channel.Send(ctl); err != nil {
		d.log.Warn("send controller notification", "command", command, "err", err)
	}
}
