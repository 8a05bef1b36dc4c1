//go:build windows

package trustanchor

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"os/exec"
	"strings"
)

func installToSystemTrust(certPath string, b *CertificateBundle) error {
	fp := fingerprintHexWindows(b)
	if out, err := exec.Command("certutil", "-store", "-user", "Root", fp).Output(); err == nil {
		if bytes.Contains(out, []byte(fp)) {
			return &TrustStoreError{Code: ErrCodeAlreadyPresent, Wrapped: errors.New("certificate already installed")}
		}
	}

	cmd := exec.Command("certutil", "-user", "-addstore", "Root", certPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(strings.ToLower(string(out)), "access is denied") {
			return &TrustStoreError{Code: ErrCodePermissionDenied, Wrapped: err}
		}
		return err
	}
	return nil
}

func uninstallFromSystemTrust(b *CertificateBundle) error {
	fp := fingerprintHexWindows(b)
	out, err := exec.Command("certutil", "-store", "-user", "Root", fp).Output()
	if err != nil || !bytes.Contains(out, []byte(fp)) {
		return nil
	}
	return exec.Command("certutil", "-user", "-delstore", "Root", fp).Run()
}

func fingerprintHexWindows(b *CertificateBundle) string {
	sum := sha256.Sum256(b.CertDER)
	const hextable = "0123456789ABCDEF"
	out := make([]byte, 0, len(sum)*2)
	for _, v := range sum {
		out = append(out, hextable[v>>4], hextable[v&0xf])
	}
	return string(out)
}
