package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Channel is the localhost-only control socket, spec §4.6: IPv6 ::1
// preferred, IPv4 127.0.0.1 fallback, on a fixed port. Outbound datagrams go
// to whatever address the controller most recently registered with
// CreateCtrlRespLink; before registration they are dropped with a log line,
// matching the teacher's Transport shape (internal/vl1/transport.go)
// adapted from a peer-to-peer socket to a single localhost rendezvous point.
type Channel struct {
	conn *net.UDPConn

	mu        sync.RWMutex
	replyAddr *net.UDPAddr
	closed    bool

	log *slog.Logger
}

// Listen binds the control socket on port, preferring ::1 and falling back
// to 127.0.0.1.
func Listen(port int, log *slog.Logger) (*Channel, error) {
	log = log.With("component", "control-channel")

	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.ParseIP("::1"), Port: port})
	if err != nil {
		log.Debug("ipv6 control socket unavailable, falling back to ipv4", "err", err)
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
		if err != nil {
			return nil, fmt.Errorf("bind control socket on port %d: %w", port, err)
		}
	}

	log.Info("control channel listening", "addr", conn.LocalAddr())
	return &Channel{conn: conn, log: log}, nil
}

// SetReplyAddr registers the controller's reply endpoint, spec §4.6
// CreateCtrlRespLink.
func (c *Channel) SetReplyAddr(addr *net.UDPAddr) {
	c.mu.Lock()
	c.replyAddr = addr
	c.mu.Unlock()
}

// ReadFrom blocks for the next datagram and decodes it as a TincanControl.
func (c *Channel) ReadFrom(buf []byte) (*TincanControl, *net.UDPAddr, error) {
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	var ctl TincanControl
	if err := json.Unmarshal(buf[:n], &ctl); err != nil {
		return nil, addr, fmt.Errorf("decode control datagram: %w", err)
	}
	return &ctl, addr, nil
}

// Send encodes ctl and sends it to the registered reply endpoint. Before a
// CreateCtrlRespLink registration this logs and drops, per spec §4.6's "sink
// implementation that logs 'no controller connected'".
func (c *Channel) Send(ctl *TincanControl) error {
	c.mu.RLock()
	addr := c.replyAddr
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return fmt.Errorf("control channel closed")
	}
	if addr == nil {
		c.log.Debug("no controller connected, dropping control datagram", "command", ctl.Command)
		return nil
	}

	data, err := json.Marshal(ctl)
	if err != nil {
		return fmt.Errorf("encode control datagram: %w", err)
	}
	_, err = c.conn.WriteToUDP(data, addr)
	return err
}

// LocalAddr returns the address the control socket is bound to.
func (c *Channel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Close shuts down the control socket.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
