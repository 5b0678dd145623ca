package bootstrap

import (
	"crypto/rsa"
	"crypto/x509"

	"github.com/kboghdady/puppet/sslcontext"
)

// State is the bootstrap transition graph modeled as a tagged variant: each
// concrete type carries exactly the data its step needs, and no state
// holds a reference to a shared mutable "machine" object.
type State interface {
	isState()
	// name identifies the state for logging and the journal; it matches
	// the Go type name.
	name() string
}

// NeedCACerts is the initial state.
type NeedCACerts struct{}

// NeedCRLs carries the CA chain accepted (from disk or freshly fetched) in
// NeedCACerts, and the verify_peer decision every subsequent request in
// this run must use.
type NeedCRLs struct {
	CACerts    []*x509.Certificate
	VerifyPeer bool
}

// NeedKey carries the CA chain and CRL set (possibly empty when revocation
// is disabled) forward to key acquisition.
type NeedKey struct {
	CACerts    []*x509.Certificate
	CRLs       []*x509.RevocationList
	VerifyPeer bool
}

// NeedSubmitCSR carries a resolved private key forward to CSR submission.
type NeedSubmitCSR struct {
	CACerts    []*x509.Certificate
	CRLs       []*x509.RevocationList
	VerifyPeer bool
	Key        *rsa.PrivateKey
}

// NeedCert polls the CA for the signed certificate.
type NeedCert struct {
	CACerts    []*x509.Certificate
	CRLs       []*x509.RevocationList
	VerifyPeer bool
	Key        *rsa.PrivateKey
}

// Wait is entered when the CA has not yet issued the certificate. Its
// transition either sleeps and loops back to NeedCACerts, or terminates
// the run via Exit.
type Wait struct {
	CACerts    []*x509.Certificate
	CRLs       []*x509.RevocationList
	VerifyPeer bool
	Key        *rsa.PrivateKey
}

// Done is the successful terminal state.
type Done struct {
	Context *sslcontext.Context
}

// Exit is the terminal state reached when Wait finds polling disabled. It
// is modeled explicitly, rather than as a call to os.Exit from inside the
// state machine, so tests can observe it without trapping process exit;
// the CLI layer is responsible for turning it into an actual process exit.
type Exit struct {
	Code    int
	Message string
}

func (NeedCACerts) isState()   {}
func (NeedCRLs) isState()      {}
func (NeedKey) isState()       {}
func (NeedSubmitCSR) isState() {}
func (NeedCert) isState()      {}
func (Wait) isState()          {}
func (Done) isState()          {}
func (Exit) isState()          {}

func (NeedCACerts) name() string   { return "NeedCACerts" }
func (NeedCRLs) name() string      { return "NeedCRLs" }
func (NeedKey) name() string       { return "NeedKey" }
func (NeedSubmitCSR) name() string { return "NeedSubmitCSR" }
func (NeedCert) name() string      { return "NeedCert" }
func (Wait) name() string          { return "Wait" }
func (Done) name() string          { return "Done" }
func (Exit) name() string          { return "Exit" }
