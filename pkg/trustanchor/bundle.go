// Package trustanchor generates, persists, and installs the proxy's
// self-signed root certificate.
//
// Generation follows a load-or-create shape: generate once, persist to
// disk, reuse on subsequent starts. The generated key is ECDSA P-256
// with a 10-year validity and CA:true basic constraints.
package trustanchor

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
)

// renewalWindow is how close to expiry a bundle must be before it is
// regenerated: within 30 days of NotAfter, Ensure generates a fresh one
// rather than handing out a certificate that's about to lapse.
const renewalWindow = 30 * 24 * time.Hour

// validity is the certificate lifetime assigned to a newly generated root.
const validity = 10 * 365 * 24 * time.Hour

// CertificateBundle is a DER-encoded certificate paired with its PKCS#8
// private key, plus the parsed x509.Certificate so callers don't have to
// re-decode it.
type CertificateBundle struct {
	CertDER []byte
	KeyDER  []byte

	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// Anchor is the sole owner of the CertificateBundle's on-disk files;
// nothing else in the proxy reads or writes ca.crt/ca.key directly.
type Anchor struct {
	dir     string
	aliases []string
}

// DefaultDir resolves the stable path under the user's local application
// data where the bundle is stored, using go-homedir for cross-platform
// home resolution.
func DefaultDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".rai-connect", "trust"), nil
}

// New builds an Anchor rooted at dir, answering for the given aliases
// (every loopback hostname the proxy must present a valid certificate
// for).
func New(dir string, aliases []string) *Anchor {
	return &Anchor{dir: dir, aliases: aliases}
}

func (a *Anchor) certPath() string { return filepath.Join(a.dir, "ca.crt") }
func (a *Anchor) keyPath() string  { return filepath.Join(a.dir, "ca.key") }

// Ensure loads the persisted bundle if present and still valid for more
// than renewalWindow, or generates a fresh one otherwise. Generation
// errors are returned to the caller rather than silently swallowed.
func (a *Anchor) Ensure() (*CertificateBundle, error) {
	if bundle, err := a.load(); err == nil {
		if time.Until(bundle.Certificate.NotAfter) > renewalWindow {
			return bundle, nil
		}
	}

	bundle, err := a.generate()
	if err != nil {
		return nil, fmt.Errorf("generate certificate bundle: %w", err)
	}
	if err := a.persist(bundle); err != nil {
		return nil, fmt.Errorf("persist certificate bundle: %w", err)
	}
	return bundle, nil
}

func (a *Anchor) generate() (*CertificateBundle, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	names := append([]string{"localhost"}, a.aliases...)
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "rai-connect local"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
		DNSNames:              dedupeNames(names),
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}

	return &CertificateBundle{
		CertDER:     der,
		KeyDER:      keyDER,
		Certificate: cert,
		PrivateKey:  key,
	}, nil
}

func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func (a *Anchor) persist(b *CertificateBundle) error {
	if err := os.MkdirAll(a.dir, 0o700); err != nil {
		return err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b.CertDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: b.KeyDER})

	if err := writeFileAtomic(a.certPath(), certPEM, 0o644); err != nil {
		return err
	}
	return writeFileAtomic(a.keyPath(), keyPEM, 0o600)
}

func (a *Anchor) load() (*CertificateBundle, error) {
	certPEM, err := os.ReadFile(a.certPath())
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(a.keyPath())
	if err != nil {
		return nil, err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, errors.New("invalid certificate PEM")
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errors.New("invalid key PEM")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, err
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("unexpected private key type")
	}

	// A persisted bundle that doesn't pair up indicates on-disk
	// corruption or tampering; refuse to hand it back.
	if !key.PublicKey.Equal(cert.PublicKey.(*ecdsa.PublicKey)) {
		return nil, errors.New("certificate and key do not match")
	}

	return &CertificateBundle{
		CertDER:     certBlock.Bytes,
		KeyDER:      keyBlock.Bytes,
		Certificate: cert,
		PrivateKey:  key,
	}, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
