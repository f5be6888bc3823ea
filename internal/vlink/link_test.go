package vlink

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/ipop-project/ipop-tincan-sub000/internal/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func TestSelectRoleLowerUIDControls(t *testing.T) {
	controlling, err := SelectRole("aaa", "bbb")
	if err != nil {
		t.Fatalf("SelectRole: %v", err)
	}
	if !controlling {
		t.Fatal("expected lexicographically lower uid to be controlling")
	}

	controlling, err = SelectRole("bbb", "aaa")
	if err != nil {
		t.Fatalf("SelectRole: %v", err)
	}
	if controlling {
		t.Fatal("expected lexicographically higher uid to be controlled")
	}
}

func TestSelectRoleRejectsSelfLink(t *testing.T) {
	if _, err := SelectRole("same", "same"); err == nil {
		t.Fatal("expected an error for equal uids")
	}
}

func TestNewRejectsSelfLink(t *testing.T) {
	id := mustIdentity(t)
	peer := PeerDescriptor{UID: id.UID.String(), MAC: net.HardwareAddr{0, 0, 0, 0, 0, 1}}
	if _, err := New(id, peer, VlinkDescriptor{}, testLogger()); err == nil {
		t.Fatal("expected New to reject a self-link")
	}
}

func TestNewSelectsControllingRole(t *testing.T) {
	id := mustIdentity(t)
	peer := PeerDescriptor{UID: "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", MAC: net.HardwareAddr{0, 0, 0, 0, 0, 1}}
	l, err := New(id, peer, VlinkDescriptor{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.State() != StateInit {
		t.Fatalf("state = %v, want StateInit", l.State())
	}
	if !l.controlling {
		t.Fatal("expected the hex local uid, lower than the peer's, to be controlling")
	}
}

func TestCandidatesEmptyBeforeGathering(t *testing.T) {
	id := mustIdentity(t)
	peer := PeerDescriptor{UID: "zzz", MAC: net.HardwareAddr{0, 0, 0, 0, 0, 1}}
	l, err := New(id, peer, VlinkDescriptor{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := l.Candidates(); got != "" {
		t.Fatalf("Candidates() = %q, want empty before gathering", got)
	}
}

func TestTransmitFailsWhenNotWritable(t *testing.T) {
	id := mustIdentity(t)
	peer := PeerDescriptor{UID: "zzz", MAC: net.HardwareAddr{0, 0, 0, 0, 0, 1}}
	l, err := New(id, peer, VlinkDescriptor{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Transmit([]byte("frame")); err != ErrNotWritable {
		t.Fatalf("err = %v, want ErrNotWritable", err)
	}
}

func TestSetPeerCandidatesStoresValue(t *testing.T) {
	id := mustIdentity(t)
	peer := PeerDescriptor{UID: "zzz", MAC: net.HardwareAddr{0, 0, 0, 0, 0, 1}}
	l, err := New(id, peer, VlinkDescriptor{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.SetPeerCandidates("1:udp:10.0.0.1:5000:100:u:p:host:0:f")
	if l.peer.CAS == "" {
		t.Fatal("expected peer.CAS to be populated")
	}
}

func TestDisconnectBeforeInitializeIsSafe(t *testing.T) {
	id := mustIdentity(t)
	peer := PeerDescriptor{UID: "zzz", MAC: net.HardwareAddr{0, 0, 0, 0, 0, 1}}
	l, err := New(id, peer, VlinkDescriptor{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Disconnect()
	l.Disconnect() // idempotent
	if l.State() != StateBroken {
		t.Fatalf("state = %v, want StateBroken", l.State())
	}
}

func TestPeerMACMatchesDescriptor(t *testing.T) {
	id := mustIdentity(t)
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x09}
	peer := PeerDescriptor{UID: "zzz", MAC: mac}
	l, err := New(id, peer, VlinkDescriptor{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.PeerMAC().HardwareAddr().String() != mac.String() {
		t.Fatalf("PeerMAC = %v, want %v", l.PeerMAC(), mac)
	}
}
