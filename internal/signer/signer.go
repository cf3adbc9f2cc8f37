// Package signer implements the OCI HTTP request signature (draft-cavage
// signatures, rsa-sha256) used to authenticate calls to OCI Email Delivery.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// RequestTarget is the pseudo header that always leads the signing string.
const RequestTarget = "(request-target)"

var (
	// ErrInvalidKey is returned when the private key cannot be decoded.
	ErrInvalidKey = errors.New("signer: invalid private key")
	// ErrIncompleteCredentials is returned when a key id component is missing.
	ErrIncompleteCredentials = errors.New("signer: incomplete credentials")
)

// Credentials identify the API signing key of an OCI user.
type Credentials struct {
	TenancyID   string
	UserID      string
	Fingerprint string
	PrivateKey  *rsa.PrivateKey
}

// KeyID returns the key identifier in tenancy/user/fingerprint form.
func (c Credentials) KeyID() string {
	return c.TenancyID + "/" + c.UserID + "/" + c.Fingerprint
}

// Signer produces Authorization header values. It holds no mutable state
// and is safe for concurrent use.
type Signer struct {
	creds Credentials
	rand  io.Reader
}

// New returns a Signer for the given credentials.
func New(creds Credentials) (*Signer, error) {
	if creds.TenancyID == "" || creds.UserID == "" || creds.Fingerprint == "" {
		return nil, ErrIncompleteCredentials
	}
	if creds.PrivateKey == nil {
		return nil, fmt.Errorf("%w: key is nil", ErrInvalidKey)
	}
	return &Signer{creds: creds, rand: rand.Reader}, nil
}

// ParsePrivateKey decodes a PEM encoded RSA key in PKCS#1 or PKCS#8 form.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is %T, want RSA", ErrInvalidKey, parsed)
	}
	return key, nil
}

// SortedNames returns the lower-cased header names in ascending order.
func SortedNames(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names
}

// SigningString builds the canonical input: the request target line first,
// then one "name: value" line per header in sorted order, joined by "\n".
func SigningString(method, path string, headers map[string]string) string {
	lower := make(map[string]string, len(headers))
	for k, v := range headers {
		lower[strings.ToLower(k)] = v
	}

	var b strings.Builder
	b.WriteString(RequestTarget)
	b.WriteString(": ")
	b.WriteString(strings.ToLower(method))
	b.WriteString(" /")
	b.WriteString(strings.TrimPrefix(path, "/"))
	for _, name := range SortedNames(lower) {
		b.WriteString("\n")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(lower[name])
	}
	return b.String()
}

// Sign returns the Authorization header value for a request.
func (s *Signer) Sign(method, path string, headers map[string]string) (string, error) {
	digest := sha256.Sum256([]byte(SigningString(method, path, headers)))
	sig, err := rsa.SignPKCS1v15(s.rand, s.creds.PrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}

	names := append([]string{RequestTarget}, SortedNames(headers)...)
	return fmt.Sprintf(
		`Signature version="1",keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`,
		s.creds.KeyID(),
		strings.Join(names, " "),
		base64.StdEncoding.EncodeToString(sig),
	), nil
}

// BodyDigest returns the base64 SHA-256 of a request body, the value of
// the x-content-sha256 header.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}
