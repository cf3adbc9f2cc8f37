// Package tls builds the STARTTLS configuration of the SMTP front end.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// SelfSignedValidity is the lifetime of generated certificates.
const SelfSignedValidity = 365 * 24 * time.Hour

// ErrHalfConfigured is returned when only one of cert and key is given.
var ErrHalfConfigured = errors.New("tls: certificate and key must be set together")

// SelfSigned generates an in-memory ECDSA P-256 certificate for hostname.
// localhost and 127.0.0.1 are always included as SANs. Nothing is written
// to disk.
func SelfSigned(hostname string, now time.Time) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	if hostname == "" {
		hostname = "localhost"
	}
	dnsNames, ips := subjectAltNames(hostname)

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   hostname,
			Organization: []string{"oci-mail-relay"},
		},
		NotBefore: now.Add(-time.Minute),
		NotAfter:  now.Add(SelfSignedValidity),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,

		DNSNames:    dnsNames,
		IPAddresses: ips,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create X509 key pair: %w", err)
	}

	return &cert, nil
}

func subjectAltNames(hostname string) ([]string, []net.IP) {
	dnsNames := []string{"localhost"}
	ips := []net.IP{net.ParseIP("127.0.0.1")}

	if ip := net.ParseIP(hostname); ip != nil {
		if !ip.Equal(ips[0]) {
			ips = append(ips, ip)
		}
	} else if hostname != "localhost" {
		dnsNames = append(dnsNames, hostname)
	}
	return dnsNames, ips
}

// ServerConfig loads the key pair from certFile and keyFile, or generates a
// self-signed certificate for hostname when both are empty. generated
// reports which happened so the caller can log it.
func ServerConfig(certFile, keyFile, hostname string) (cfg *tls.Config, generated bool, err error) {
	var cert tls.Certificate

	switch {
	case certFile != "" && keyFile != "":
		if _, err := os.Stat(certFile); err != nil {
			return nil, false, fmt.Errorf("certificate file not found: %w", err)
		}
		if _, err := os.Stat(keyFile); err != nil {
			return nil, false, fmt.Errorf("key file not found: %w", err)
		}

		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	case certFile != "" || keyFile != "":
		return nil, false, ErrHalfConfigured
	default:
		self, err := SelfSigned(hostname, time.Now())
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate self-signed cert: %w", err)
		}
		cert = *self
		generated = true
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, generated, nil
}
