// Package identity manages the per-process NodeIdentity: a generated X.509
// certificate, its RFC 4572 fingerprint, and the 20-byte uid derived from it.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2s"
)

// UIDSize is the byte length of a node uid (spec §3: 20-byte hex identifier).
const UIDSize = 20

// UID is a node identifier, hex-formatted for wire use.
type UID [UIDSize]byte

// String returns the lowercase hex encoding of the uid.
func (u UID) String() string {
	return hex.EncodeToString(u[:])
}

// Identity holds a node's generated X.509 identity for the process lifetime.
type Identity struct {
	UID         UID
	Cert        tls.Certificate
	Fingerprint string // "sha-1 AA:BB:..." per RFC 4572
}

// Generate creates a new self-signed ECDSA P-256 identity certificate.
func Generate() (*Identity, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "tincan"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return fromDER(der, priv)
}

func fromDER(der []byte, priv *ecdsa.PrivateKey) (*Identity, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse generated certificate: %w", err)
	}

	sum := sha1.Sum(der)

	var id UID
	copy(id[:], sum[:UIDSize])

	return &Identity{
		UID: id,
		Cert: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  priv,
			Leaf:        cert,
		},
		Fingerprint: "sha-1 " + fingerprintHex(sum),
	}, nil
}

// fingerprintHex formats a SHA-1 digest as upper-case colon-separated hex,
// per RFC 4572 §5.
func fingerprintHex(sum [sha1.Size]byte) string {
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// LoadOrGenerate loads an identity's key+cert PEM pair from path, or
// generates and persists a new one if the file is absent or unreadable.
func LoadOrGenerate(path string) (*Identity, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id, err := parsePEM(data); err == nil {
			return id, nil
		}
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := save(path, id); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	return id, nil
}

func parsePEM(data []byte) (*Identity, error) {
	var certDER []byte
	var keyDER []byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certDER = block.Bytes
		case "EC PRIVATE KEY":
			keyDER = block.Bytes
		}
	}
	if certDER == nil || keyDER == nil {
		return nil, fmt.Errorf("incomplete identity PEM")
	}
	priv, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("parse identity key: %w", err)
	}
	return fromDER(certDER, priv)
}

func save(path string, id *Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	priv, ok := id.Cert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("identity key is not ECDSA")
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return err
	}
	var buf strings.Builder
	pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: id.Cert.Certificate[0]})
	pem.Encode(&buf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return os.WriteFile(path, []byte(buf.String()), 0600)
}

// DeriveTapMAC derives a deterministic, locally-administered MAC address for
// this node's TAP interface from its uid, spec §3 ("MAC address of the TAP
// is derived at open time"). Grounded on the teacher's vl2.GenerateMAC
// shape (locally-administered bit set on byte 0, remaining bytes from the
// node's own identity), generalized to hash the full 20-byte uid instead of
// truncating a 3-byte address.
func (id *Identity) DeriveTapMAC() net.HardwareAddr {
	sum := blake2s.Sum256(id.UID[:])
	mac := make(net.HardwareAddr, 6)
	copy(mac, sum[:6])
	mac[0] = (mac[0] &^ 0x01) | 0x02
	return mac
}

// ParseFingerprint splits a peer's fingerprint field on the first space into
// {alg, hex}, per spec §4.3.
func ParseFingerprint(s string) (alg string, hexDigest string, err error) {
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return "", "", fmt.Errorf("malformed fingerprint %q: no algorithm separator", s)
	}
	return s[:idx], s[idx+1:], nil
}
