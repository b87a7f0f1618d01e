// Package security holds the server's X.509 identity for secured sessions.
package security

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
)

// ErrCertificate is returned when the certificate or key cannot be loaded.
var ErrCertificate = errors.New("security: certificate unavailable")

// Context is the immutable security context shared by every secured session.
// It is built once at startup and never mutated.
type Context struct {
	cert        tls.Certificate
	leaf        *x509.Certificate
	fingerprint string
	ephemeral   bool
}

// Load reads a PEM certificate chain and private key.
func Load(certFile, keyFile string) (*Context, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("%w: certificate and key files must both be set", ErrCertificate)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificate, err)
	}
	return newContext(cert, false, time.Now())
}

// Ephemeral generates a throwaway self-signed ECDSA certificate. Peers cannot
// pin it, so it is only suitable for development and tests.
func Ephemeral() (*Context, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("%w: generate self-signed: %v", ErrCertificate, err)
	}
	return newContext(cert, true, time.Now())
}

func newContext(cert tls.Certificate, ephemeral bool, now time.Time) (*Context, error) {
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("%w: empty certificate chain", ErrCertificate)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("%w: parse leaf: %v", ErrCertificate, err)
	}
	if now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("%w: certificate expired at %s", ErrCertificate, leaf.NotAfter.Format(time.RFC3339))
	}

	sum := sha256.Sum256(cert.Certificate[0])
	return &Context{
		cert:        cert,
		leaf:        leaf,
		fingerprint: hex.EncodeToString(sum[:]),
		ephemeral:   ephemeral,
	}, nil
}

// Fingerprint is the hex SHA-256 of the leaf certificate.
func (c *Context) Fingerprint() string { return c.fingerprint }

func (c *Context) Ephemeral() bool { return c.ephemeral }

func (c *Context) NotAfter() time.Time { return c.leaf.NotAfter }

// DTLSConfig returns a fresh server configuration. Key exchange is ECDHE and
// the HelloVerifyRequest cookie exchange stays enabled.
func (c *Context) DTLSConfig() *dtls.Config {
	return &dtls.Config{
		Certificates:         []tls.Certificate{c.cert},
		ExtendedMasterSecret: dtls.RequestExtendedMasterSecret,
		ClientAuth:           dtls.NoClientCert,
		FlightInterval:       250 * time.Millisecond,
	}
}
