// Package config holds the read-only configuration a bootstrap run is
// driven by: the CA server location, the artifact paths on disk, and the
// polling/verification knobs spec'd for the state machine.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Config is read once at the start of a run and never mutated by the state
// machine; every state receives it by value or pointer-to-const.
type Config struct {
	// Certname is the agent's identity: the CSR subject CN and the path
	// component used in the certificate_request/certificate/{certname}
	// endpoints.
	Certname string

	// CAServerURL is the base URL of the CA server, e.g.
	// "https://ca.example.com:8140". Endpoints are joined onto it with the
	// fixed "/puppet-ca/v1" prefix.
	CAServerURL string

	// DNSAltNames is a comma-separated list of "DNS:name", "IP:addr", or
	// bare (DNS-defaulted) alt names to add to the CSR.
	DNSAltNames string

	// CSRAttributesPath, if non-empty, points at a YAML document providing
	// custom_attributes and extension_requests maps.
	CSRAttributesPath string

	// CertificateRevocation disables CRL load/fetch entirely when false.
	CertificateRevocation bool

	// WaitForCert is the number of seconds Wait sleeps before retrying.
	// Zero disables polling.
	WaitForCert int

	// Onetime causes Wait to exit the process instead of sleeping.
	Onetime bool

	// Artifact paths.
	LocalCACert string
	HostCRL     string
	HostPrivKey string
	HostCert    string

	// RequestTimeout bounds every CA HTTP call. Network calls exhausting
	// this are treated identically to a server error.
	RequestTimeout time.Duration

	// KeySize is the RSA modulus size used when no private key exists yet.
	KeySize int
}

// Default returns a Config with Puppet's conventional artifact layout
// rooted at confdir and the stated certname, ready for flag overrides.
func Default(confdir, certname string) Config {
	sslDir := filepath.Join(confdir, "ssl")
	return Config{
		Certname:              certname,
		CAServerURL:           "https://puppet:8140",
		CertificateRevocation: true,
		WaitForCert:           120,
		Onetime:               false,
		LocalCACert:           filepath.Join(sslDir, "certs", "ca.pem"),
		HostCRL:               filepath.Join(sslDir, "crl.pem"),
		HostPrivKey:           filepath.Join(sslDir, "private_keys", certname+".pem"),
		HostCert:              filepath.Join(sslDir, "certs", certname+".pem"),
		RequestTimeout:        2 * time.Minute,
		KeySize:               4096,
	}
}

// Validate reports the first structural problem found in c, or nil.
func (c Config) Validate() error {
	if c.Certname == "" {
		return fmt.Errorf("config: certname must not be empty")
	}
	if c.CAServerURL == "" {
		return fmt.Errorf("config: ca server url must not be empty")
	}
	if _, err := url.Parse(c.CAServerURL); err != nil {
		return fmt.Errorf("config: invalid ca server url %q: %w", c.CAServerURL, err)
	}
	for name, path := range map[string]string{
		"localcacert": c.LocalCACert,
		"hostcrl":     c.HostCRL,
		"hostprivkey": c.HostPrivKey,
		"hostcert":    c.HostCert,
	} {
		if path == "" {
			return fmt.Errorf("config: %s must not be empty", name)
		}
	}
	if c.WaitForCert < 0 {
		return fmt.Errorf("config: waitforcert must not be negative")
	}
	if c.KeySize < 2048 {
		return fmt.Errorf("config: key size %d is too small", c.KeySize)
	}
	return nil
}

// EnsureDirectories creates the parent directories of every artifact path,
// mirroring the 0700 mode Puppet's ssl directory is created with.
func (c Config) EnsureDirectories() error {
	for _, path := range []string{c.LocalCACert, c.HostCRL, c.HostPrivKey, c.HostCert} {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("config: creating directory for %s: %w", path, err)
		}
	}
	return nil
}
