// Package certstore implements CertProvider: it reads and writes the four
// credential artifacts a bootstrap run produces or consumes on the local
// filesystem, validating PEM structure on load and replacing files
// atomically on save.
package certstore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kboghdady/puppet/config"
)

// ErrMalformed indicates a present-but-unparseable artifact. The caller
// must not retry parsing and must not overwrite the file until an operator
// has removed or replaced it.
var ErrMalformed = errors.New("malformed credential artifact")

// Provider is the interface the bootstrap state machine uses for all
// filesystem access. It has a single implementation (FileStore) in this
// module; the interface exists so states can be tested against an
// in-memory fake without touching disk.
type Provider interface {
	LoadCACerts() ([]*x509.Certificate, error)
	SaveCACerts(certs []*x509.Certificate) error

	LoadCRLs() ([]*x509.RevocationList, error)
	SaveCRLs(crls []*x509.RevocationList) error

	LoadPrivateKey() (*rsa.PrivateKey, error)
	SavePrivateKey(key *rsa.PrivateKey) error

	LoadClientCert() (*x509.Certificate, error)
	SaveClientCert(cert *x509.Certificate) error

	// DeleteAll removes every artifact. It exists for the `node clean`
	// external collaborator spec.md places out of this module's scope; no
	// state in this module calls it.
	DeleteAll() error
}

// FileStore is the filesystem-backed Provider.
type FileStore struct {
	cfg    config.Config
	logger *slog.Logger
}

var _ Provider = (*FileStore)(nil)

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the structured logger used for load/save events. If not
// set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(fs *FileStore) { fs.logger = logger }
}

// New returns a FileStore rooted at the paths in cfg.
func New(cfg config.Config, opts ...Option) *FileStore {
	fs := &FileStore{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

func (fs *FileStore) LoadCACerts() ([]*x509.Certificate, error) {
	return fs.loadCertChain(fs.cfg.LocalCACert, "ca certificate")
}

func (fs *FileStore) SaveCACerts(certs []*x509.Certificate) error {
	return fs.saveCertChain(fs.cfg.LocalCACert, "ca certificate", certs)
}

func (fs *FileStore) LoadCRLs() ([]*x509.RevocationList, error) {
	data, present, err := readFileIfExists(fs.cfg.HostCRL)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	crls, err := ParseCRLBundlePEM(data)
	if err != nil {
		fs.logger.Warn("loaded malformed crl bundle", "path", fs.cfg.HostCRL, "error", err)
		return nil, fmt.Errorf("%w: crl at %s: %v", ErrMalformed, fs.cfg.HostCRL, err)
	}
	fs.logger.Debug("loaded crl bundle", "path", fs.cfg.HostCRL, "count", len(crls))
	return crls, nil
}

func (fs *FileStore) SaveCRLs(crls []*x509.RevocationList) error {
	if len(crls) == 0 {
		return fmt.Errorf("certstore: refusing to save an empty crl bundle")
	}
	var buf []byte
	for _, crl := range crls {
		buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crl.Raw})...)
	}
	if err := atomicWriteFile(fs.cfg.HostCRL, buf, 0644); err != nil {
		return fmt.Errorf("saving crl bundle: %w", err)
	}
	fs.logger.Info("saved crl bundle", "path", fs.cfg.HostCRL, "count", len(crls))
	return nil
}

func (fs *FileStore) LoadPrivateKey() (*rsa.PrivateKey, error) {
	data, present, err := readFileIfExists(fs.cfg.HostPrivKey)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	key, err := parsePrivateKeyPEM(data)
	if err != nil {
		fs.logger.Warn("loaded malformed private key", "path", fs.cfg.HostPrivKey, "error", err)
		return nil, fmt.Errorf("%w: private key at %s: %v", ErrMalformed, fs.cfg.HostPrivKey, err)
	}
	fs.logger.Debug("loaded private key", "path", fs.cfg.HostPrivKey)
	return key, nil
}

// SavePrivateKey writes key with owner-only permissions. It is the
// caller's contract, per spec.md, that this is only ever called once per
// key: the state machine never calls it when a key is already on disk.
func (fs *FileStore) SavePrivateKey(key *rsa.PrivateKey) error {
	der := x509.MarshalPKCS1PrivateKey(key)
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
	if err := atomicWriteFile(fs.cfg.HostPrivKey, data, 0600); err != nil {
		return fmt.Errorf("saving private key: %w", err)
	}
	fs.logger.Info("saved private key", "path", fs.cfg.HostPrivKey)
	return nil
}

func (fs *FileStore) LoadClientCert() (*x509.Certificate, error) {
	certs, err := fs.loadCertChain(fs.cfg.HostCert, "client certificate")
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, nil
	}
	return certs[0], nil
}

func (fs *FileStore) SaveClientCert(cert *x509.Certificate) error {
	return fs.saveCertChain(fs.cfg.HostCert, "client certificate", []*x509.Certificate{cert})
}

func (fs *FileStore) DeleteAll() error {
	var errs []error
	for _, path := range []string{fs.cfg.LocalCACert, fs.cfg.HostCRL, fs.cfg.HostPrivKey, fs.cfg.HostCert} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	fs.logger.Info("removed all credential artifacts")
	return nil
}

func (fs *FileStore) loadCertChain(path, label string) ([]*x509.Certificate, error) {
	data, present, err := readFileIfExists(path)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	certs, err := ParseCertChainPEM(data)
	if err != nil {
		fs.logger.Warn("loaded malformed "+label, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s at %s: %v", ErrMalformed, label, path, err)
	}
	fs.logger.Debug("loaded "+label, "path", path, "count", len(certs))
	return certs, nil
}

func (fs *FileStore) saveCertChain(path, label string, certs []*x509.Certificate) error {
	if len(certs) == 0 {
		return fmt.Errorf("certstore: refusing to save an empty %s", label)
	}
	var buf []byte
	for _, cert := range certs {
		buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	if err := atomicWriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("saving %s: %w", label, err)
	}
	fs.logger.Info("saved "+label, "path", path, "count", len(certs))
	return nil
}

// ParseCertChainPEM parses a concatenated PEM bundle of CERTIFICATE blocks.
// It is exported so bootstrap can validate a freshly fetched CA or client
// certificate before handing it to a saver.
func ParseCertChainPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no CERTIFICATE blocks found")
	}
	return certs, nil
}

// ParseCRLBundlePEM parses a concatenated PEM bundle of X509 CRL blocks.
func ParseCRLBundlePEM(data []byte) ([]*x509.RevocationList, error) {
	var crls []*x509.RevocationList
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "X509 CRL" {
			continue
		}
		crl, err := x509.ParseRevocationList(block.Bytes)
		if err != nil {
			return nil, err
		}
		crls = append(crls, crl)
	}
	if len(crls) == 0 {
		return nil, fmt.Errorf("no X509 CRL blocks found")
	}
	return crls, nil
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PEM block does not contain an RSA key")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
}
