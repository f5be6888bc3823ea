package supervisor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/ipop-project/ipop-tincan-sub000/internal/config"
	"github.com/ipop-project/ipop-tincan-sub000/internal/control"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg := config.Default()
	cfg.ControlPort = 0
	cfg.IdentityPath = t.TempDir() + "/identity.pem"

	s, err := New(cfg, new(slog.LevelVar), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRunStopsOnContextCancelAndShutdownIsIdempotentWithNoNetwork(t *testing.T) {
	s := newTestSupervisor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	s.Shutdown()
	s.Shutdown() // a second call must not block or panic

	if s.dispatch.CurrentNetwork() != nil {
		t.Fatal("expected no VirtualNetwork to have been created")
	}
}

func TestEchoRoundTripsThroughSupervisorDispatch(t *testing.T) {
	s := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Shutdown()
	})

	controlAddr := s.channel.LocalAddr()
	if controlAddr == nil {
		t.Fatal("expected the control channel to expose its local address")
	}
	network, loopback := "udp4", "127.0.0.1"
	if controlAddr.IP.To4() == nil {
		network, loopback = "udp6", "::1"
	}

	reply, err := net.ListenUDP(network, &net.UDPAddr{IP: net.ParseIP(loopback)})
	if err != nil {
		t.Fatalf("listen reply socket: %v", err)
	}
	defer reply.Close()
	replyAddr := reply.LocalAddr().(*net.UDPAddr)

	send := func(ctl *control.TincanControl) {
		body, _ := json.Marshal(ctl)
		if _, err := reply.WriteToUDP(body, controlAddr); err != nil {
			t.Fatalf("send control datagram: %v", err)
		}
	}

	send(&control.TincanControl{
		ProtocolVersion: control.ProtocolVersion,
		TransactionId:   1,
		ControlType:     control.TypeRequest,
		Command:         control.CmdCreateCtrlRespLink,
		Request:         mustJSON(t, control.CreateCtrlRespLinkRequest{IP: replyAddr.IP.String(), Port: replyAddr.Port}),
	})
	time.Sleep(50 * time.Millisecond)

	send(&control.TincanControl{
		ProtocolVersion: control.ProtocolVersion,
		TransactionId:   2,
		ControlType:     control.TypeRequest,
		Command:         control.CmdEcho,
		Request:         mustJSON(t, control.EchoRequest{Message: "hi"}),
	})

	reply.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := reply.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a response for Echo: %v", err)
	}
	var got control.TincanControl
	if err := json.Unmarshal(buf[:n], &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.TransactionId != 2 || !got.Response.Success || got.Response.Message != "hi" {
		t.Fatalf("unexpected echo response: %+v", got)
	}
}

func TestSetLoggingLevelMutatesTheSameLevelVarTheCallerLogsThrough(t *testing.T) {
	cfg := config.Default()
	cfg.ControlPort = 0
	cfg.IdentityPath = t.TempDir() + "/identity.pem"

	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelInfo)
	s, err := New(cfg, levelVar, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Shutdown()
	})

	controlAddr := s.channel.LocalAddr()
	network, loopback := "udp4", "127.0.0.1"
	if controlAddr.IP.To4() == nil {
		network, loopback = "udp6", "::1"
	}
	reply, err := net.ListenUDP(network, &net.UDPAddr{IP: net.ParseIP(loopback)})
	if err != nil {
		t.Fatalf("listen reply socket: %v", err)
	}
	defer reply.Close()
	replyAddr := reply.LocalAddr().(*net.UDPAddr)

	send := func(ctl *control.TincanControl) {
		body, _ := json.Marshal(ctl)
		if _, err := reply.WriteToUDP(body, controlAddr); err != nil {
			t.Fatalf("send control datagram: %v", err)
		}
	}

	send(&control.TincanControl{
		ProtocolVersion: control.ProtocolVersion,
		TransactionId:   1,
		ControlType:     control.TypeRequest,
		Command:         control.CmdCreateCtrlRespLink,
		Request:         mustJSON(t, control.CreateCtrlRespLinkRequest{IP: replyAddr.IP.String(), Port: replyAddr.Port}),
	})
	time.Sleep(50 * time.Millisecond)

	send(&control.TincanControl{
		ProtocolVersion: control.ProtocolVersion,
		TransactionId:   2,
		ControlType:     control.TypeRequest,
		Command:         control.CmdSetLoggingLevel,
		Request:         mustJSON(t, control.SetLoggingLevelRequest{Level: "VERBOSE"}),
	})

	reply.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := reply.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a response for SetLoggingLevel: %v", err)
	}
	var got control.TincanControl
	if err := json.Unmarshal(buf[:n], &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !got.Response.Success {
		t.Fatalf("expected SetLoggingLevel to succeed: %+v", got)
	}

	if levelVar.Level() != slog.LevelDebug {
		t.Fatalf("expected the caller's LevelVar to observe VERBOSE (slog.LevelDebug), got %v", levelVar.Level())
	}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}
