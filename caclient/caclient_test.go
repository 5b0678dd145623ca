package caclient_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kboghdady/puppet/caclient"
)

func newClient(t *testing.T, baseURL string) *caclient.Client {
	t.Helper()
	c, err := caclient.New(baseURL, 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestFetchCACertsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/puppet-ca/v1/certificate/ca", r.URL.Path)
		w.Write([]byte("PEM-DATA"))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	data, err := c.FetchCACerts(t.Context(), true, nil)
	require.NoError(t, err)
	assert.Equal(t, "PEM-DATA", string(data))
}

func TestFetchCACerts404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.FetchCACerts(t.Context(), true, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CA certificate is missing from the server")
}

func TestFetchCACertsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.FetchCACerts(t.Context(), true, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not download CA certificate")
	assert.ErrorIs(t, err, caclient.ErrServer)
}

func TestFetchCRLs404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.FetchCRLs(t.Context(), true, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRL is missing from the server")
}

func TestSubmitCSRAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/puppet-ca/v1/certificate_request/agent01.example.com", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	result, err := c.SubmitCSR(t.Context(), "agent01.example.com", []byte("CSR-PEM"), nil)
	require.NoError(t, err)
	assert.Equal(t, caclient.Accepted, result)
}

func TestSubmitCSRAlreadyExists(t *testing.T) {
	for _, body := range []string{
		"agent01.example.com already has a requested certificate",
		"agent01.example.com already has a signed certificate",
		"agent01.example.com already has a revoked certificate",
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(body))
		}))

		c := newClient(t, srv.URL)
		result, err := c.SubmitCSR(t.Context(), "agent01.example.com", []byte("CSR-PEM"), nil)
		require.NoError(t, err)
		assert.Equal(t, caclient.AlreadyExists, result)
		srv.Close()
	}
}

func TestSubmitCSROtherBadRequestFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("malformed CSR"))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.SubmitCSR(t.Context(), "agent01.example.com", []byte("CSR-PEM"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to submit the CSR, HTTP response was 400")
}

func TestFetchClientCertNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.FetchClientCert(t.Context(), "agent01.example.com", nil)
	assert.ErrorIs(t, err, caclient.ErrNotReady)
}

func TestFetchClientCertSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("CERT-PEM"))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	data, err := c.FetchClientCert(t.Context(), "agent01.example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "CERT-PEM", string(data))
}

func TestVerifyPeerFalseSkipsTLSValidation(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PEM-DATA"))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)

	// With verify_peer=true and no trust pool, the self-signed server cert
	// is rejected.
	_, err := c.FetchCACerts(t.Context(), true, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, caclient.ErrServer)

	// With verify_peer=false, the same call succeeds.
	data, err := c.FetchCACerts(t.Context(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, "PEM-DATA", string(data))
}
