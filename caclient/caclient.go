// Package caclient is a typed HTTP client for the three CA endpoints a
// bootstrap run speaks to. FetchCACerts and FetchCRLs take the
// peer-verification decision as an explicit argument rather than a
// connection-level flag, so the "first call is unverified" invariant is
// locally checkable at each call site instead of hidden in client
// construction. SubmitCSR and FetchClientCert take no such argument: they
// always verify the server against the trust pool they are given.
package caclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const apiPrefix = "/puppet-ca/v1"

// ErrNotReady indicates the CA has not yet issued the requested
// certificate. It is never fatal; the state machine routes it to Wait.
var ErrNotReady = errors.New("certificate not yet available")

// ErrServer indicates an unexpected non-2xx response or a network failure.
// It is fatal everywhere except fetch_client_cert, which folds it into
// ErrNotReady instead.
var ErrServer = errors.New("ca server error")

// idempotencySubstrings are the known 400 response bodies that mean "a CSR
// already exists for this certname" and should be treated as success.
var idempotencySubstrings = []string{
	"already has a requested certificate",
	"already has a signed certificate",
	"already has a revoked certificate",
}

// SubmitResult is the outcome of SubmitCSR.
type SubmitResult int

const (
	// Accepted means the CA accepted a brand new CSR.
	Accepted SubmitResult = iota
	// AlreadyExists means the CA already held a CSR or certificate for
	// this certname; the caller should proceed to polling exactly as if
	// Accepted had been returned.
	AlreadyExists
)

// Client is a CA HTTP client bound to a single CA server.
type Client struct {
	baseURL    *url.URL
	timeout    time.Duration
	logger     *slog.Logger
	httpClient func(verifyPeer bool, trust *x509.CertPool) *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger used for every request.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New returns a Client targeting baseURL (e.g. "https://ca.example.com:8140").
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("caclient: invalid base url %q: %w", baseURL, err)
	}
	c := &Client{
		baseURL: u,
		timeout: timeout,
		logger:  slog.Default(),
	}
	c.httpClient = c.newHTTPClient
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) newHTTPClient(verifyPeer bool, trust *x509.CertPool) *http.Client {
	return &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:            trust,
				InsecureSkipVerify: !verifyPeer,
			},
		},
	}
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = apiPrefix + path
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, verifyPeer bool, trust *x509.CertPool) (*http.Response, string, error) {
	reqID := uuid.New().String()
	endpoint := c.endpoint(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, reqID, fmt.Errorf("%w: building request: %v", ErrServer, err)
	}

	client := c.httpClient(verifyPeer, trust)
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Error("ca request failed", "request_id", reqID, "method", method, "path", path, "verify_peer", verifyPeer, "error", err)
		return nil, reqID, fmt.Errorf("%w: %v", ErrServer, err)
	}
	c.logger.Info("ca request completed", "request_id", reqID, "method", method, "path", path, "verify_peer", verifyPeer, "status", resp.StatusCode)
	return resp, reqID, nil
}

// FetchCACerts performs GET /certificate/ca.
func (c *Client) FetchCACerts(ctx context.Context, verifyPeer bool, trust *x509.CertPool) ([]byte, error) {
	resp, _, err := c.do(ctx, http.MethodGet, "/certificate/ca", verifyPeer, trust)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: CA certificate is missing from the server", ErrServer)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: Could not download CA certificate: %s", ErrServer, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// FetchCRLs performs GET /certificate_revocation_list/ca.
func (c *Client) FetchCRLs(ctx context.Context, verifyPeer bool, trust *x509.CertPool) ([]byte, error) {
	resp, _, err := c.do(ctx, http.MethodGet, "/certificate_revocation_list/ca", verifyPeer, trust)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: CRL is missing from the server", ErrServer)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: Could not download CRLs: %s", ErrServer, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// SubmitCSR performs PUT /certificate_request/{certname}.
func (c *Client) SubmitCSR(ctx context.Context, certname string, csrPEM []byte, trust *x509.CertPool) (SubmitResult, error) {
	reqID := uuid.New().String()
	endpoint := c.endpoint("/certificate_request/" + url.PathEscape(certname))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(string(csrPEM)))
	if err != nil {
		return 0, fmt.Errorf("%w: building request: %v", ErrServer, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	client := c.httpClient(true, trust)
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Error("ca request failed", "request_id", reqID, "method", "PUT", "path", "/certificate_request", "verify_peer", true, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrServer, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	c.logger.Info("ca request completed", "request_id", reqID, "method", "PUT", "path", "/certificate_request", "verify_peer", true, "status", resp.StatusCode)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Accepted, nil
	}
	if resp.StatusCode == http.StatusBadRequest && containsIdempotencySubstring(string(body)) {
		return AlreadyExists, nil
	}
	return 0, fmt.Errorf("%w: Failed to submit the CSR, HTTP response was %d", ErrServer, resp.StatusCode)
}

// FetchClientCert performs GET /certificate/{certname}. Any non-2xx
// response is folded into ErrNotReady rather than ErrServer: the CA simply
// has not signed the certificate yet.
func (c *Client) FetchClientCert(ctx context.Context, certname string, trust *x509.CertPool) ([]byte, error) {
	resp, _, err := c.do(ctx, http.MethodGet, "/certificate/"+url.PathEscape(certname), true, trust)
	if err != nil {
		return nil, ErrNotReady
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ErrNotReady
	}
	return io.ReadAll(resp.Body)
}

func containsIdempotencySubstring(body string) bool {
	for _, s := range idempotencySubstrings {
		if strings.Contains(body, s) {
			return true
		}
	}
	return false
}
