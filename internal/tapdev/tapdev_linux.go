//go:build linux

package tapdev

import (
	"fmt"
	"net"
	"os/exec"

	"github.com/songgao/water"
)

// linuxDevice implements Device using songgao/water on Linux, directly
// descended from the teacher's internal/tap/tap_linux.go.
type linuxDevice struct {
	iface *water.Interface
	name  string
	mac   net.HardwareAddr
}

func newPlatformDevice(name string) (Device, error) {
	config := water.Config{DeviceType: water.TAP}
	if name != "" {
		config.Name = name
	}
	iface, err := water.New(config)
	if err != nil {
		return nil, fmt.Errorf("create TAP device: %w", err)
	}
	return &linuxDevice{iface: iface, name: iface.Name()}, nil
}

func (d *linuxDevice) Name() string { return d.name }

func (d *linuxDevice) HardwareAddr() net.HardwareAddr { return d.mac }

func (d *linuxDevice) Read(buf []byte) (int, error) { return d.iface.Read(buf) }

func (d *linuxDevice) Write(buf []byte) (int, error) { return d.iface.Write(buf) }

func (d *linuxDevice) SetMTU(mtu int) error {
	return exec.Command("ip", "link", "set", "dev", d.name, "mtu", fmt.Sprintf("%d", mtu)).Run()
}

func (d *linuxDevice) SetMACAddress(mac net.HardwareAddr) error {
	if err := exec.Command("ip", "link", "set", "dev", d.name, "down").Run(); err != nil {
		return fmt.Errorf("bring down interface: %w", err)
	}
	if err := exec.Command("ip", "link", "set", "dev", d.name, "address", mac.String()).Run(); err != nil {
		return fmt.Errorf("set MAC address: %w", err)
	}
	if err := exec.Command("ip", "link", "set", "dev", d.name, "up").Run(); err != nil {
		return err
	}
	d.mac = mac
	return nil
}

func (d *linuxDevice) AddIPAddress(ip net.IP, prefix int) error {
	cidr := fmt.Sprintf("%s/%d", ip.String(), prefix)
	return exec.Command("ip", "addr", "add", cidr, "dev", d.name).Run()
}

func (d *linuxDevice) SetUp() error {
	return exec.Command("ip", "link", "set", "dev", d.name, "up").Run()
}

func (d *linuxDevice) Close() error {
	_ = exec.Command("ip", "link", "delete", d.name).Run()
	return d.iface.Close()
}
