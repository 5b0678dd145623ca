// Package sslcontext defines the immutable value the bootstrap state
// machine produces on success: the trust material and verification policy
// higher layers need to open TLS connections to the puppet infrastructure.
package sslcontext

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// Context is immutable once constructed. Build it with New; there are no
// setters.
type Context struct {
	cacerts    []*x509.Certificate
	crls       []*x509.RevocationList
	verifyPeer bool
	privateKey *rsa.PrivateKey
	clientCert *x509.Certificate
}

// New constructs a Context. cacerts must be non-empty; crls may be empty
// when certificate_revocation is disabled; privateKey and clientCert are
// both present together or both absent.
func New(cacerts []*x509.Certificate, crls []*x509.RevocationList, verifyPeer bool, privateKey *rsa.PrivateKey, clientCert *x509.Certificate) (*Context, error) {
	if len(cacerts) == 0 {
		return nil, fmt.Errorf("sslcontext: cacerts must not be empty")
	}
	if (privateKey == nil) != (clientCert == nil) {
		return nil, fmt.Errorf("sslcontext: private key and client cert must be set together")
	}
	return &Context{
		cacerts:    cacerts,
		crls:       crls,
		verifyPeer: verifyPeer,
		privateKey: privateKey,
		clientCert: clientCert,
	}, nil
}

// CACerts returns the trusted CA chain, root last.
func (c *Context) CACerts() []*x509.Certificate { return c.cacerts }

// CRLs returns the loaded revocation lists, or nil when revocation was
// disabled for this run.
func (c *Context) CRLs() []*x509.RevocationList { return c.crls }

// VerifyPeer reports whether TLS connections opened from this context
// should validate the server's certificate chain.
func (c *Context) VerifyPeer() bool { return c.verifyPeer }

// HasClientCredentials reports whether a client certificate and matching
// private key are available for mutual TLS.
func (c *Context) HasClientCredentials() bool { return c.clientCert != nil }

// CertPool builds an *x509.CertPool trusting exactly cacerts.
func (c *Context) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	for _, cert := range c.cacerts {
		pool.AddCert(cert)
	}
	return pool
}

// TLSConfig builds a *tls.Config for the handoff to higher layers: trusting
// this context's CA chain, presenting the client certificate when present,
// and honoring VerifyPeer.
func (c *Context) TLSConfig() *tls.Config {
	cfg := &tls.Config{
		RootCAs:            c.CertPool(),
		InsecureSkipVerify: !c.verifyPeer,
		MinVersion:         tls.VersionTLS12,
	}
	if c.clientCert != nil && c.privateKey != nil {
		cfg.Certificates = []tls.Certificate{{
			Certificate: [][]byte{c.clientCert.Raw},
			PrivateKey:  c.privateKey,
			Leaf:        c.clientCert,
		}}
	}
	return cfg
}
