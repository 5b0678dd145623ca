package sslcontext_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kboghdady/puppet/sslcontext"
)

func selfSignedCert(t *testing.T, cn string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func TestNewRejectsEmptyCACerts(t *testing.T) {
	_, err := sslcontext.New(nil, nil, true, nil, nil)
	assert.Error(t, err)
}

func TestNewRejectsKeyWithoutCert(t *testing.T) {
	ca, _ := selfSignedCert(t, "Test CA")
	_, key := selfSignedCert(t, "agent01.example.com")
	_, err := sslcontext.New([]*x509.Certificate{ca}, nil, true, key, nil)
	assert.Error(t, err)
}

func TestTLSConfigWithoutClientCredentials(t *testing.T) {
	ca, _ := selfSignedCert(t, "Test CA")
	ctx, err := sslcontext.New([]*x509.Certificate{ca}, nil, true, nil, nil)
	require.NoError(t, err)
	assert.False(t, ctx.HasClientCredentials())

	cfg := ctx.TLSConfig()
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Empty(t, cfg.Certificates)
}

func TestTLSConfigWithClientCredentials(t *testing.T) {
	ca, _ := selfSignedCert(t, "Test CA")
	clientCert, clientKey := selfSignedCert(t, "agent01.example.com")
	ctx, err := sslcontext.New([]*x509.Certificate{ca}, nil, true, clientKey, clientCert)
	require.NoError(t, err)
	assert.True(t, ctx.HasClientCredentials())

	cfg := ctx.TLSConfig()
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, clientCert.Raw, cfg.Certificates[0].Certificate[0])
}

func TestVerifyPeerFalseSetsInsecureSkipVerify(t *testing.T) {
	ca, _ := selfSignedCert(t, "Test CA")
	ctx, err := sslcontext.New([]*x509.Certificate{ca}, nil, false, nil, nil)
	require.NoError(t, err)
	assert.True(t, ctx.TLSConfig().InsecureSkipVerify)
}
