package certstore_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kboghdady/puppet/certstore"
	"github.com/kboghdady/puppet/config"
)

func newConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Default(dir, "agent01.example.com")
}

func selfSignedCert(t *testing.T, cn string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func TestLoadAbsentArtifactsReturnNilNotError(t *testing.T) {
	fs := certstore.New(newConfig(t))

	certs, err := fs.LoadCACerts()
	require.NoError(t, err)
	assert.Nil(t, certs)

	crls, err := fs.LoadCRLs()
	require.NoError(t, err)
	assert.Nil(t, crls)

	key, err := fs.LoadPrivateKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	cert, err := fs.LoadClientCert()
	require.NoError(t, err)
	assert.Nil(t, cert)
}

func TestSaveAndLoadCACertsRoundTrip(t *testing.T) {
	fs := certstore.New(newConfig(t))
	root, _ := selfSignedCert(t, "Test Root CA")
	intermediate, _ := selfSignedCert(t, "Test Intermediate CA")

	require.NoError(t, fs.SaveCACerts([]*x509.Certificate{intermediate, root}))

	loaded, err := fs.LoadCACerts()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "Test Intermediate CA", loaded[0].Subject.CommonName)
	assert.Equal(t, "Test Root CA", loaded[1].Subject.CommonName)
}

func TestSavePrivateKeyIsOwnerOnly(t *testing.T) {
	cfg := newConfig(t)
	fs := certstore.New(cfg)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	require.NoError(t, fs.SavePrivateKey(key))

	info, err := os.Stat(cfg.HostPrivKey)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := fs.LoadPrivateKey()
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))
}

func TestMalformedArtifactIsSurfacedNotOverwritten(t *testing.T) {
	cfg := newConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.LocalCACert), 0700))
	require.NoError(t, os.WriteFile(cfg.LocalCACert, []byte("not a pem file"), 0644))
	before, err := os.ReadFile(cfg.LocalCACert)
	require.NoError(t, err)

	fs := certstore.New(cfg)
	_, err = fs.LoadCACerts()
	require.Error(t, err)
	assert.ErrorIs(t, err, certstore.ErrMalformed)

	after, err := os.ReadFile(cfg.LocalCACert)
	require.NoError(t, err)
	assert.Equal(t, before, after, "malformed artifact must not be mutated")
}

func TestSaveCertChainRejectsEmpty(t *testing.T) {
	fs := certstore.New(newConfig(t))
	err := fs.SaveCACerts(nil)
	assert.Error(t, err)
}

func TestDeleteAllRemovesEverythingAndIsIdempotent(t *testing.T) {
	cfg := newConfig(t)
	fs := certstore.New(cfg)
	cert, key := selfSignedCert(t, "agent01.example.com")
	require.NoError(t, fs.SaveCACerts([]*x509.Certificate{cert}))
	require.NoError(t, fs.SavePrivateKey(key))
	require.NoError(t, fs.SaveClientCert(cert))

	require.NoError(t, fs.DeleteAll())
	require.NoError(t, fs.DeleteAll()) // absent files are not an error

	for _, path := range []string{cfg.LocalCACert, cfg.HostPrivKey, cfg.HostCert} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestAtomicSaveLeavesNoTempFilesBehind(t *testing.T) {
	cfg := newConfig(t)
	fs := certstore.New(cfg)
	cert, _ := selfSignedCert(t, "agent01.example.com")
	require.NoError(t, fs.SaveCACerts([]*x509.Certificate{cert}))

	entries, err := os.ReadDir(filepath.Dir(cfg.LocalCACert))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}
