//go:build !linux

package tapdev

import (
	"fmt"
	"net"
	"runtime"
)

// stubDevice is a placeholder on platforms without a TAP backing. Tincan's
// TAP driver is explicitly out of scope per spec §1 ("treat it as a
// byte-stream endpoint"); only Linux gets a real implementation, matching
// the teacher's own tap_stub.go split.
type stubDevice struct {
	name string
}

func newPlatformDevice(name string) (Device, error) {
	return nil, fmt.Errorf("TAP devices not supported on %s (Linux required)", runtime.GOOS)
}

func (d *stubDevice) Name() string                               { return d.name }
func (d *stubDevice) HardwareAddr() net.HardwareAddr             { return nil }
func (d *stubDevice) Read(buf []byte) (int, error)               { return 0, fmt.Errorf("stub") }
func (d *stubDevice) Write(buf []byte) (int, error)              { return 0, fmt.Errorf("stub") }
func (d *stubDevice) SetMTU(mtu int) error                        { return fmt.Errorf("stub") }
func (d *stubDevice) SetMACAddress(mac net.HardwareAddr) error    { return fmt.Errorf("stub") }
func (d *stubDevice) AddIPAddress(ip net.IP, prefix int) error    { return fmt.Errorf("stub") }
func (d *stubDevice) SetUp() error                                { return fmt.Errorf("stub") }
func (d *stubDevice) Close() error                                { return nil }
