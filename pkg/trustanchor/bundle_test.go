package trustanchor

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureGeneratesThenReusesBundle(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, []string{"c.ppy.sh"})

	first, err := a.Ensure()
	require.NoError(t, err)
	assert.True(t, first.Certificate.IsCA)
	assert.Contains(t, first.Certificate.DNSNames, "localhost")
	assert.Contains(t, first.Certificate.DNSNames, "c.ppy.sh")

	second, err := a.Ensure()
	require.NoError(t, err)
	assert.Equal(t, first.Certificate.SerialNumber, second.Certificate.SerialNumber)
}

func TestEnsureRegeneratesWhenNearExpiry(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, nil)

	stale, err := a.generate()
	require.NoError(t, err)
	// Re-sign the certificate with a NotAfter inside the renewal window so
	// the persisted DER itself is near expiry.
	tmpl := *stale.Certificate
	tmpl.NotAfter = time.Now().Add(renewalWindow - time.Hour)
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &stale.PrivateKey.PublicKey, stale.PrivateKey)
	require.NoError(t, err)
	stale.CertDER = der
	stale.Certificate, err = x509.ParseCertificate(der)
	require.NoError(t, err)
	require.NoError(t, a.persist(stale))

	refreshed, err := a.Ensure()
	require.NoError(t, err)
	assert.NotEqual(t, stale.Certificate.SerialNumber, refreshed.Certificate.SerialNumber)
	assert.True(t, time.Until(refreshed.Certificate.NotAfter) > renewalWindow)
}

func TestGenerateProducesMatchingKeyPair(t *testing.T) {
	a := New(t.TempDir(), []string{"osu.ppy.sh"})
	bundle, err := a.generate()
	require.NoError(t, err)
	assert.True(t, bundle.PrivateKey.PublicKey.Equal(bundle.Certificate.PublicKey))
}

func TestLoadRejectsTamperedKey(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, nil)
	bundle, err := a.generate()
	require.NoError(t, err)
	require.NoError(t, a.persist(bundle))

	other := New(t.TempDir(), nil)
	otherBundle, err := other.generate()
	require.NoError(t, err)
	otherKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: otherBundle.KeyDER})
	require.NoError(t, writeFileAtomic(a.keyPath(), otherKeyPEM, 0o600))

	_, err = a.load()
	assert.Error(t, err)
}

func TestDedupeNamesRemovesDuplicates(t *testing.T) {
	got := dedupeNames([]string{"a", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
