// Package supervisor implements TincanSupervisor (C9): it owns the
// process's object graph (identity, ControlChannel, ControlDispatch, and
// whichever VirtualNetwork CreateVnet eventually builds) and enforces the
// exact startup and shutdown order spec §5 requires. Grounded on the
// teacher's Agent.Start/Stop (internal/agent/agent.go) cancel-context +
// WaitGroup shape, generalized from an agent that owns its network up
// front to one whose network only exists once the controller asks for it.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ipop-project/ipop-tincan-sub000/internal/config"
	"github.com/ipop-project/ipop-tincan-sub000/internal/control"
	"github.com/ipop-project/ipop-tincan-sub000/internal/identity"
	"github.com/ipop-project/ipop-tincan-sub000/internal/tapdev"
	"github.com/ipop-project/ipop-tincan-sub000/internal/vnet"
)

// Supervisor owns the process's long-lived state for the duration of one
// run.
type Supervisor struct {
	cfg      *config.Config
	identity *identity.Identity
	channel  *control.Channel
	dispatch *control.Dispatch
	logLevel *slog.LevelVar
	log      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads or generates the node identity, binds the control socket, and
// wires a ControlDispatch whose NetworkFactory builds a VirtualNetwork on
// demand when CreateVnet arrives. levelVar is the same LevelVar the caller
// bound its log handler to, so the SetLoggingLevel control command (handled
// through the returned Supervisor's dispatch) actually changes what gets
// emitted instead of mutating a LevelVar nothing observes.
func New(cfg *config.Config, levelVar *slog.LevelVar, log *slog.Logger) (*Supervisor, error) {
	id, err := identity.LoadOrGenerate(cfg.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("supervisor: load identity: %w", err)
	}
	log.Info("identity ready", "uid", id.UID.String(), "fingerprint", id.Fingerprint)

	channel, err := control.Listen(cfg.ControlPort, log)
	if err != nil {
		return nil, fmt.Errorf("supervisor: listen control channel: %w", err)
	}

	s := &Supervisor{
		cfg:      cfg,
		identity: id,
		channel:  channel,
		logLevel: levelVar,
		log:      log.With("component", "supervisor"),
	}
	s.dispatch = control.NewDispatch(channel, s.buildNetwork, levelVar, log)
	return s, nil
}

// buildNetwork is the control.NetworkFactory: it opens the TAP device
// CreateVnet describes and wraps it in a fresh VirtualNetwork. The caller
// (control.Dispatch, under its own mutex) is the only place this runs.
func (s *Supervisor) buildNetwork(req control.CreateVnetRequest) (*vnet.Network, error) {
	desc := tapdev.Descriptor{
		Name: req.InterfaceName,
		MTU4: req.MTU4,
	}
	if req.IP4 != "" {
		ip := net.ParseIP(req.IP4)
		if ip == nil {
			return nil, fmt.Errorf("supervisor: invalid IP4 %q", req.IP4)
		}
		desc.IP4 = ip
		desc.Prefix4 = req.Prefix4
	}

	dev, err := tapdev.Open(desc, s.identity.DeriveTapMAC())
	if err != nil {
		return nil, fmt.Errorf("supervisor: open TAP device: %w", err)
	}

	n := vnet.New(vnet.Config{
		Name:            req.InterfaceName,
		L2TunnelEnabled: req.L2TunnelEnabled,
	}, s.identity, dev, s.log)
	n.SetIgnoredInterfaces(s.cfg.IgnoredInterfaces)
	return n, nil
}

// Run drains the control channel until ctx is cancelled. It returns once ctx
// is done; Shutdown is what waits for the control worker goroutine to exit.
func (s *Supervisor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch.Run(ctx)
	}()

	<-ctx.Done()
}

// Shutdown implements spec §5's exact teardown order: the control worker
// stops first (cancel the dispatch context and close the socket, which
// unblocks its blocking read), then the VirtualNetwork's own dispatch
// worker, all VirtualLinks, and the TAP device go down together via
// vnet.Network.Stop.
func (s *Supervisor) Shutdown() {
	s.log.Info("shutting down")

	if s.cancel != nil {
		s.cancel()
	}
	s.channel.Close()
	s.wg.Wait()

	if n := s.dispatch.CurrentNetwork(); n != nil {
		n.Stop()
	}

	s.log.Info("shutdown complete")
}
