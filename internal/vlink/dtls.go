package vlink

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strings"

	"github.com/pion/dtls/v3"

	"github.com/ipop-project/ipop-tincan-sub000/internal/identity"
)

// wrapDTLS upgrades a connected ICE channel to DTLS when desc.SecEnabled,
// verifying the remote certificate against peer.Fingerprint per spec §4.3.
// Returns conn unmodified when security is disabled.
func wrapDTLS(ctx context.Context, conn net.Conn, local *identity.Identity, peer PeerDescriptor, desc VlinkDescriptor, controlling bool) (net.Conn, error) {
	if !desc.SecEnabled {
		return conn, nil
	}

	alg, hexDigest, err := identity.ParseFingerprint(peer.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLinkSetup, err)
	}

	cfg := &dtls.Config{
		Certificates:          []tls.Certificate{local.Cert},
		InsecureSkipVerify:    true, // fingerprint check below replaces chain validation
		VerifyPeerCertificate: verifyFingerprint(alg, hexDigest),
		ClientAuth:            dtls.RequireAnyClientCert,
	}

	if controlling {
		return dtls.Client(conn, cfg)
	}
	return dtls.Server(conn, cfg)
}

// verifyFingerprint builds a dtls.Config.VerifyPeerCertificate callback that
// checks the remote leaf certificate's digest against {alg, hexDigest},
// spec §4.3 ("A mismatch terminates the handshake").
func verifyFingerprint(alg, hexDigest string) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	want := strings.ToUpper(strings.ReplaceAll(hexDigest, ":", ""))
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: no peer certificate presented", ErrLinkSetup)
		}
		if !strings.EqualFold(alg, "sha-1") {
			return fmt.Errorf("%w: unsupported fingerprint algorithm %q", ErrLinkSetup, alg)
		}
		sum := sha1.Sum(rawCerts[0])
		got := fmt.Sprintf("%X", sum[:])
		if got != want {
			return fmt.Errorf("%w: fingerprint mismatch", ErrLinkSetup)
		}
		return nil
	}
}
