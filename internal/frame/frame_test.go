package frame

import (
	"encoding/binary"
	"testing"
)

func ethFrame(dst, src [6]byte, etherType uint16, payload []byte) []byte {
	buf := make([]byte, EthHeaderSize+len(payload))
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], etherType)
	copy(buf[EthHeaderSize:], payload)
	return buf
}

func TestClassifyBareEthernet(t *testing.T) {
	var b Buffer
	raw := ethFrame([6]byte{0x02, 0, 0, 0, 0, 2}, [6]byte{0x02, 0, 0, 0, 0, 1}, EtherTypeIPv4, []byte("hello"))
	if err := b.LoadPayload(raw); err != nil {
		t.Fatal(err)
	}

	p, err := Classify(&b, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Magic != NoMagic {
		t.Fatalf("magic = %v, want NoMagic", p.Magic)
	}
	if !p.IsIPv4() {
		t.Fatal("expected IPv4 classification")
	}
	if string(p.Payload()) != "hello" {
		t.Fatalf("payload = %q", p.Payload())
	}
}

func TestClassifyOverlayDTF(t *testing.T) {
	var b Buffer
	inner := ethFrame([6]byte{0x02, 0, 0, 0, 0, 2}, [6]byte{0x02, 0, 0, 0, 0, 1}, EtherTypeIPv4, []byte("x"))
	if err := b.LoadPayload(inner); err != nil {
		t.Fatal(err)
	}
	if err := b.StampMagic(DTFMagic); err != nil {
		t.Fatal(err)
	}

	p, err := Classify(&b, true)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Magic != DTFMagic {
		t.Fatalf("magic = %v, want DTF", p.Magic)
	}
	if p.DstMAC.String() != "02:00:00:00:00:02" {
		t.Fatalf("dst mac = %v", p.DstMAC)
	}
}

func TestClassifyICCOpaquePayload(t *testing.T) {
	var b Buffer
	if err := b.LoadPayload([]byte{0, 0, 'p', 'i', 'n', 'g'}); err != nil {
		t.Fatal(err)
	}
	binary.BigEndian.PutUint16(b.data[:2], uint16(ICCMagic))

	p, err := Classify(&b, true)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Magic != ICCMagic {
		t.Fatalf("magic = %v, want ICC", p.Magic)
	}
	if string(p.Payload()) != "ping" {
		t.Fatalf("payload = %q, want ping", p.Payload())
	}
}

func TestClassifyRejectsShortFrame(t *testing.T) {
	var b Buffer
	b.LoadPayload([]byte{1, 2, 3})
	if _, err := Classify(&b, false); err == nil {
		t.Fatal("expected error classifying a too-short frame")
	}
}

func TestBroadcastAndMulticast(t *testing.T) {
	var b Buffer
	raw := ethFrame([6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, [6]byte{0x02, 0, 0, 0, 0, 1}, EtherTypeARP, nil)
	b.LoadPayload(raw)
	p, _ := Classify(&b, false)
	if !p.IsBroadcast() {
		t.Fatal("expected broadcast")
	}
	if !p.IsMulticast() {
		t.Fatal("broadcast should also be multicast")
	}
	if !p.IsARP() {
		t.Fatal("expected ARP classification")
	}
}

func TestStampAndStripMagicRoundTrip(t *testing.T) {
	var b Buffer
	payload := []byte("ethernet-frame-body")
	b.LoadPayload(payload)
	if err := b.StampMagic(FWDMagic); err != nil {
		t.Fatal(err)
	}
	m, err := b.ReadMagic()
	if err != nil {
		t.Fatal(err)
	}
	if m != FWDMagic {
		t.Fatalf("magic = %v, want FWD", m)
	}
	if string(b.StripMagic()) != string(payload) {
		t.Fatalf("stripped payload mismatch: %q", b.StripMagic())
	}
}

func TestStampMagicRejectsOversizedFrame(t *testing.T) {
	var b Buffer
	full := make([]byte, TapBufferSize)
	if err := b.LoadPayload(full); err != nil {
		t.Fatal(err)
	}
	if err := b.StampMagic(DTFMagic); err == nil {
		t.Fatal("expected overflow error stamping a full buffer")
	}
}
