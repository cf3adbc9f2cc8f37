// Package smtp is the SMTP front end of the relay: it accepts mail from the
// host application and hands it to the delivery transport.
package smtp

import (
	"crypto/subtle"
	"errors"

	"github.com/emersion/go-sasl"
)

var (
	errAuthDisabled    = errors.New("authentication not enabled")
	errUnsupportedMech = errors.New("unsupported authentication mechanism")
	errBadCredentials  = errors.New("invalid credentials")
)

// Authenticator checks SMTP AUTH credentials against a single configured
// account. With both fields empty, authentication is disabled.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator with the given credentials.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{username: username, password: password}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Verify compares credentials in constant time.
func (a *Authenticator) Verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return errBadCredentials
	}
	return nil
}

func (a *Authenticator) mechanisms() []string {
	if a.Enabled() {
		return []string{sasl.Plain}
	}
	return nil
}

// server returns a SASL server that calls onSuccess after a good login.
func (a *Authenticator) server(mech string, onSuccess func(username string)) (sasl.Server, error) {
	if !a.Enabled() {
		return nil, errAuthDisabled
	}
	if mech != sasl.Plain {
		return nil, errUnsupportedMech
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if err := a.Verify(username, password); err != nil {
			return err
		}
		onSuccess(username)
		return nil
	}), nil
}
