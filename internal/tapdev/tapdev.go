// Package tapdev owns the OS TAP device: the cross-platform Device
// interface, platform backings, and the async read/write worker pair
// required by spec §4.1.
package tapdev

import "net"

// Descriptor configures the kernel TAP interface at open time (spec §3
// TapDescriptor).
type Descriptor struct {
	Name    string
	IP4     net.IP
	Prefix4 int
	MTU4    int
}

// Device is the cross-platform TAP device interface (spec §4.1). Reads and
// writes are synchronous at this layer; AsyncIO on top supplies the
// concurrency contract the dispatch engine needs.
type Device interface {
	// Name returns the OS network interface name.
	Name() string

	// HardwareAddr returns the MAC address assigned to the interface.
	HardwareAddr() net.HardwareAddr

	// Read reads one Ethernet frame from the TAP device into buf.
	Read(buf []byte) (int, error)

	// Write writes one Ethernet frame to the TAP device.
	Write(buf []byte) (int, error)

	// SetMTU sets the maximum transmission unit.
	SetMTU(mtu int) error

	// SetMACAddress sets the hardware (MAC) address.
	SetMACAddress(mac net.HardwareAddr) error

	// AddIPAddress assigns an IPv4 address and prefix to the interface.
	AddIPAddress(ip net.IP, prefix int) error

	// SetUp brings the interface up.
	SetUp() error

	// Close shuts down and removes the TAP device. Idempotent.
	Close() error
}

// Open creates and configures a TAP device per desc: sets MTU (MaxMTU when
// desc.MTU4 is zero), assigns mac when it is non-nil (otherwise the device
// keeps the MAC the OS gave it), assigns the IPv4 address when desc.IP4 is
// set, and brings the interface up, per spec §4.1.
func Open(desc Descriptor, mac net.HardwareAddr) (Device, error) {
	dev, err := newPlatformDevice(desc.Name)
	if err != nil {
		return nil, err
	}

	mtu := desc.MTU4
	if mtu == 0 {
		mtu = MaxMTU
	}
	if err := dev.SetMTU(mtu); err != nil {
		dev.Close()
		return nil, err
	}
	if mac != nil {
		if err := dev.SetMACAddress(mac); err != nil {
			dev.Close()
			return nil, err
		}
	}
	if desc.IP4 != nil {
		if err := dev.AddIPAddress(desc.IP4, desc.Prefix4); err != nil {
			dev.Close()
			return nil, err
		}
	}
	if err := dev.SetUp(); err != nil {
		dev.Close()
		return nil, err
	}
	return dev, nil
}

// MaxMTU is the MTU Open applies when the descriptor leaves MTU4 at zero;
// it has the same value as frame.MaxMTU.
const MaxMTU = 1500
