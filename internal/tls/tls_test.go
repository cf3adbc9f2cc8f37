package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafOf(t *testing.T, cert *standardtls.Certificate) *x509.Certificate {
	t.Helper()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf
}

func TestSelfSigned(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cert, err := SelfSigned("mail.littleskin.cn", now)
	require.NoError(t, err)

	leaf := leafOf(t, cert)
	assert.Equal(t, "mail.littleskin.cn", leaf.Subject.CommonName)
	assert.ElementsMatch(t, []string{"localhost", "mail.littleskin.cn"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())
	assert.Equal(t, now.Add(SelfSignedValidity), leaf.NotAfter.UTC())
	assert.True(t, leaf.NotBefore.Before(now))

	ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok, "public key is not ECDSA")
	assert.Equal(t, elliptic.P256(), ecKey.Curve)

	require.NoError(t, leaf.CheckSignatureFrom(leaf), "certificate should be self-signed")
}

func TestSelfSignedIPHostname(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned("10.0.0.7", time.Now())
	require.NoError(t, err)

	leaf := leafOf(t, cert)
	assert.Equal(t, []string{"localhost"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 2)
	assert.Equal(t, "10.0.0.7", leaf.IPAddresses[1].String())
}

func TestSelfSignedDefaultsToLocalhost(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned("", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "localhost", leafOf(t, cert).Subject.CommonName)
}

func TestServerConfigGenerates(t *testing.T) {
	t.Parallel()

	cfg, generated, err := ServerConfig("", "", "relay.local")
	require.NoError(t, err)
	assert.True(t, generated)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(standardtls.VersionTLS12), cfg.MinVersion)
}

func TestServerConfigLoadsFiles(t *testing.T) {
	t.Parallel()

	cert, err := SelfSigned("files.local", time.Now())
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600))

	cfg, generated, err := ServerConfig(certFile, keyFile, "ignored")
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, "files.local", leafOf(t, &cfg.Certificates[0]).Subject.CommonName)
}

func TestServerConfigErrors(t *testing.T) {
	t.Parallel()

	_, _, err := ServerConfig("/nonexistent/cert.pem", "/nonexistent/key.pem", "")
	require.ErrorIs(t, err, os.ErrNotExist)

	_, _, err = ServerConfig("/some/cert.pem", "", "")
	require.ErrorIs(t, err, ErrHalfConfigured)
}
