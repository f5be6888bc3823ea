// Package frame implements the Ethernet/overlay frame buffer, the bounded
// frame cache, and frame classification (spec §4.2, §4.3, §6).
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const (
	// EthHeaderSize is the Ethernet header length (dst+src MAC + EtherType).
	EthHeaderSize = 14
	// MaxMTU is the largest payload Tincan carries per spec §3.
	MaxMTU = 1500
	// TapBufferSize is the fixed capacity of every FrameBuffer (spec §3).
	TapBufferSize = EthHeaderSize + MaxMTU // 1514

	// MagicSize is the length of the overlay magic header (spec §6).
	MagicSize = 2
	// MaxICC is the largest ICC payload a buffer can carry.
	MaxICC = TapBufferSize - MagicSize
)

// Magic identifies the overlay frame class, spec §6.
type Magic uint16

const (
	// NoMagic marks a buffer holding a plain (non-overlay) Ethernet frame,
	// as read straight off the TAP before classification.
	NoMagic Magic = 0
	// DTFMagic marks a data frame for local delivery to an adjacent peer.
	DTFMagic Magic = 0x0A01
	// FWDMagic marks a frame forwarded via an indirect route.
	FWDMagic Magic = 0x0B01
	// ICCMagic marks an inter-controller-control payload.
	ICCMagic Magic = 0x0C01
)

func (m Magic) String() string {
	switch m {
	case DTFMagic:
		return "DTF"
	case FWDMagic:
		return "FWD"
	case ICCMagic:
		return "ICC"
	default:
		return fmt.Sprintf("0x%04x", uint16(m))
	}
}

// EtherType values used by frame classification (spec §2 C3).
const (
	EtherTypeIPv4 = 0x0800
	EtherTypeARP  = 0x0806
	EtherTypeIPv6 = 0x86DD
)

var errFrameTooShort = errors.New("frame: buffer shorter than an Ethernet header")

// Buffer is a fixed-capacity Ethernet/overlay frame buffer, rented from a
// Cache and returned on completion (spec §3 FrameBuffer).
type Buffer struct {
	data        [TapBufferSize]byte
	length      int
	writeIntent bool
}

// Bytes returns the buffer's valid region.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.length]
}

// Raw returns the full backing array, for I/O calls that need to write into
// unused capacity (e.g. a TAP read).
func (b *Buffer) Raw() []byte {
	return b.data[:]
}

// Len returns the current valid length.
func (b *Buffer) Len() int {
	return b.length
}

// SetLen sets the valid length of the buffer after an external write (e.g. a
// TAP read or a peer receive) filled b.Raw().
func (b *Buffer) SetLen(n int) error {
	if n < 0 || n > TapBufferSize {
		return fmt.Errorf("frame: invalid length %d (capacity %d)", n, TapBufferSize)
	}
	b.length = n
	return nil
}

// WriteIntent reports whether this buffer was acquired for an outbound write
// (spec §4.2 AcquireWithData "write-intent" tag).
func (b *Buffer) WriteIntent() bool {
	return b.writeIntent
}

// Reset clears the buffer for reuse without releasing its backing array.
func (b *Buffer) Reset() {
	b.length = 0
	b.writeIntent = false
}

// LoadPayload copies data into the buffer, replacing its contents. Fails if
// data would overflow TapBufferSize.
func (b *Buffer) LoadPayload(data []byte) error {
	if len(data) > TapBufferSize {
		return fmt.Errorf("frame: payload %d bytes exceeds buffer capacity %d", len(data), TapBufferSize)
	}
	n := copy(b.data[:], data)
	b.length = n
	return nil
}

// StampMagic prepends a 2-byte overlay magic: the current contents shift
// right by MagicSize and the length grows by MagicSize. It does not check
// whether the buffer already carries a magic. Used by the dispatch engine
// (spec §4.5) to tag a TAP frame before transmission.
func (b *Buffer) StampMagic(m Magic) error {
	if b.length+MagicSize > TapBufferSize {
		return fmt.Errorf("frame: stamping magic would exceed capacity")
	}
	copy(b.data[MagicSize:b.length+MagicSize], b.data[:b.length])
	binary.BigEndian.PutUint16(b.data[:MagicSize], uint16(m))
	b.length += MagicSize
	return nil
}

// ReadMagic reads the first two bytes as an overlay magic, per spec §6.
func (b *Buffer) ReadMagic() (Magic, error) {
	if b.length < MagicSize {
		return 0, fmt.Errorf("frame: buffer too short for a magic header (%d bytes)", b.length)
	}
	return Magic(binary.BigEndian.Uint16(b.data[:MagicSize])), nil
}

// StripMagic returns the payload following the 2-byte magic header, without
// mutating the buffer.
func (b *Buffer) StripMagic() []byte {
	if b.length <= MagicSize {
		return nil
	}
	return b.data[MagicSize:b.length]
}

// Properties classifies a parsed Ethernet frame (spec §2 C3).
type Properties struct {
	DstMAC    net.HardwareAddr
	SrcMAC    net.HardwareAddr
	EtherType uint16
	Magic     Magic // NoMagic if the buffer held a bare Ethernet frame
	payload   []byte
}

// Classify parses the overlay magic (if any) and the Ethernet header that
// follows it. A buffer read straight from the TAP carries no magic, so
// fromOverlay should be false in that case; a buffer read from a
// VirtualLink carries a magic header first, so fromOverlay should be true.
func Classify(b *Buffer, fromOverlay bool) (Properties, error) {
	raw := b.Bytes()
	var p Properties

	if fromOverlay {
		if len(raw) < MagicSize {
			return p, errFrameTooShort
		}
		p.Magic = Magic(binary.BigEndian.Uint16(raw[:MagicSize]))
		raw = raw[MagicSize:]
	} else {
		p.Magic = NoMagic
	}

	if p.Magic == ICCMagic {
		// ICC payloads are opaque controller envelopes, not Ethernet frames.
		p.payload = raw
		return p, nil
	}

	if len(raw) < EthHeaderSize {
		return p, errFrameTooShort
	}

	p.DstMAC = net.HardwareAddr(raw[0:6])
	p.SrcMAC = net.HardwareAddr(raw[6:12])
	p.EtherType = binary.BigEndian.Uint16(raw[12:14])
	p.payload = raw[EthHeaderSize:]
	return p, nil
}

// Payload returns the bytes after the Ethernet header (or, for ICC, after
// the magic).
func (p Properties) Payload() []byte {
	return p.payload
}

// IsBroadcast reports whether DstMAC is the all-ones broadcast address.
func (p Properties) IsBroadcast() bool {
	for _, b := range p.DstMAC {
		if b != 0xff {
			return false
		}
	}
	return len(p.DstMAC) == 6
}

// IsMulticast reports whether DstMAC has the multicast bit set.
func (p Properties) IsMulticast() bool {
	return len(p.DstMAC) > 0 && p.DstMAC[0]&0x01 != 0
}

// IsARP reports whether the classified frame is an ARP frame.
func (p Properties) IsARP() bool {
	return p.EtherType == EtherTypeARP
}

// IsIPv4 reports whether the classified frame carries an IPv4 payload.
func (p Properties) IsIPv4() bool {
	return p.EtherType == EtherTypeIPv4
}
