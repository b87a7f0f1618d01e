package security_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/domain-server/internal/security"
)

func writePair(t *testing.T, notAfter time.Time) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "domain-server"},
		NotBefore:    notAfter.Add(-48 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestLoad(t *testing.T) {
	certFile, keyFile := writePair(t, time.Now().Add(24*time.Hour))

	sec, err := security.Load(certFile, keyFile)
	require.NoError(t, err)
	assert.Len(t, sec.Fingerprint(), 64)
	assert.False(t, sec.Ephemeral())

	cfg := sec.DTLSConfig()
	require.Len(t, cfg.Certificates, 1)
	assert.NotSame(t, cfg, sec.DTLSConfig(), "each call returns a fresh config")
}

func TestLoad_Errors(t *testing.T) {
	certFile, keyFile := writePair(t, time.Now().Add(24*time.Hour))
	expiredCert, expiredKey := writePair(t, time.Now().Add(-time.Hour))

	tests := []struct {
		name string
		cert string
		key  string
	}{
		{"not configured", "", ""},
		{"missing key", certFile, ""},
		{"missing file", filepath.Join(t.TempDir(), "nope.pem"), keyFile},
		{"key mismatch", certFile, expiredKey},
		{"expired", expiredCert, expiredKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := security.Load(tt.cert, tt.key)
			assert.ErrorIs(t, err, security.ErrCertificate)
		})
	}
}

func TestEphemeral(t *testing.T) {
	a, err := security.Ephemeral()
	require.NoError(t, err)
	b, err := security.Ephemeral()
	require.NoError(t, err)

	assert.True(t, a.Ephemeral())
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.True(t, a.NotAfter().After(time.Now()))
}
