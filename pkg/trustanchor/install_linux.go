//go:build linux

package trustanchor

import (
	"bytes"
	"crypto/sha256"
	"encoding/pem"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

const linuxTrustAnchorPath = "/usr/local/share/ca-certificates/rai-connect.crt"

func installToSystemTrust(_ string, b *CertificateBundle) error {
	if existing, err := os.ReadFile(linuxTrustAnchorPath); err == nil {
		if fingerprintMatches(existing, b) {
			return &TrustStoreError{Code: ErrCodeAlreadyPresent, Wrapped: errors.New("certificate already installed")}
		}
	}

	if err := os.MkdirAll(filepath.Dir(linuxTrustAnchorPath), 0o755); err != nil {
		return classifyFSError(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b.CertDER})
	if err := os.WriteFile(linuxTrustAnchorPath, pemBytes, 0o644); err != nil {
		return classifyFSError(err)
	}

	cmd := exec.Command("update-ca-certificates")
	if err := cmd.Run(); err != nil {
		return classifyFSError(err)
	}
	return nil
}

func uninstallFromSystemTrust(b *CertificateBundle) error {
	existing, err := os.ReadFile(linuxTrustAnchorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return classifyFSError(err)
	}
	if !fingerprintMatches(existing, b) {
		// A different certificate occupies this path; leave it alone
		// rather than removing by CN substring match.
		return nil
	}
	if err := os.Remove(linuxTrustAnchorPath); err != nil {
		return classifyFSError(err)
	}
	return exec.Command("update-ca-certificates", "--fresh").Run()
}

func fingerprintMatches(existingPEM []byte, b *CertificateBundle) bool {
	block, _ := pem.Decode(existingPEM)
	if block == nil {
		return false
	}
	want := sha256.Sum256(b.CertDER)
	got := sha256.Sum256(block.Bytes)
	return bytes.Equal(want[:], got[:])
}

func classifyFSError(err error) error {
	if os.IsPermission(err) {
		return &TrustStoreError{Code: ErrCodePermissionDenied, Wrapped: err}
	}
	return err
}
