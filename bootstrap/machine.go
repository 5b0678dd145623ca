// Package bootstrap implements the agent-side SSL bootstrap state machine:
// the transition graph, retry/wait policy, verification-mode gating, and
// termination described by the CertProvider/CAClient/CSRBuilder
// collaborators in the sibling packages.
package bootstrap

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kboghdady/puppet/caclient"
	"github.com/kboghdady/puppet/certstore"
	"github.com/kboghdady/puppet/config"
	"github.com/kboghdady/puppet/csr"
	"github.com/kboghdady/puppet/journal"
	"github.com/kboghdady/puppet/sslcontext"
)

// Sleeper abstracts the Wait state's pause so tests can substitute a fast
// stand-in instead of sleeping in wall-clock time. The default,
// RealSleeper, honors ctx cancellation the way a blocking network call
// would, per the single-threaded, signal-interruptible model spec.md
// describes.
type Sleeper func(ctx context.Context, d time.Duration) error

// RealSleeper sleeps for d or until ctx is done, whichever comes first.
func RealSleeper(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deps bundles every collaborator a run needs. Journal and Logger are
// optional: a nil Journal disables history recording, a nil Logger falls
// back to slog.Default().
type Deps struct {
	Config  config.Config
	Store   certstore.Provider
	CA      *caclient.Client
	Journal *journal.Journal
	Logger  *slog.Logger
	Sleep   Sleeper

	// AttemptID correlates every journal entry and log line written by a
	// single call to Run.
	AttemptID string
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Deps) sleeper() Sleeper {
	if d.Sleep != nil {
		return d.Sleep
	}
	return RealSleeper
}

func (d *Deps) record(state State, outcome, detail string) {
	if d.Journal == nil {
		return
	}
	_ = d.Journal.Append(journal.Entry{
		AttemptID: d.AttemptID,
		State:     state.name(),
		Outcome:   outcome,
		Detail:    detail,
		Time:      time.Now(),
	})
}

// Run drives the state machine from NeedCACerts until it reaches Done or
// Exit. A non-nil error means a fatal condition (spec.md §7): the caller
// should surface it and exit non-zero. Exit is not an error: it is the
// Wait state's "polling disabled" terminal, returned so callers can print
// its Message and exit with its Code without the library calling os.Exit
// itself.
func Run(ctx context.Context, deps Deps) (State, error) {
	var state State = NeedCACerts{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := step(ctx, deps, state)
		if err != nil {
			deps.record(state, "fatal", err.Error())
			deps.logger().Error("bootstrap state failed", "attempt_id", deps.AttemptID, "state", state.name(), "error", err)
			return nil, err
		}

		deps.record(state, "advanced", next.name())
		deps.logger().Info("bootstrap state advanced", "attempt_id", deps.AttemptID, "from", state.name(), "to", next.name())

		switch next.(type) {
		case Done, Exit:
			return next, nil
		default:
			state = next
		}
	}
}

func step(ctx context.Context, deps Deps, state State) (State, error) {
	switch s := state.(type) {
	case NeedCACerts:
		return stepNeedCACerts(ctx, deps)
	case NeedCRLs:
		return stepNeedCRLs(ctx, deps, s)
	case NeedKey:
		return stepNeedKey(deps, s)
	case NeedSubmitCSR:
		return stepNeedSubmitCSR(ctx, deps, s)
	case NeedCert:
		return stepNeedCert(ctx, deps, s)
	case Wait:
		return stepWait(ctx, deps, s)
	default:
		return nil, fmt.Errorf("bootstrap: no transition defined for state %s", state.name())
	}
}

func stepNeedCACerts(ctx context.Context, deps Deps) (State, error) {
	certs, err := deps.Store.LoadCACerts()
	if err != nil {
		return nil, err
	}
	if certs != nil {
		return NeedCRLs{CACerts: certs, VerifyPeer: true}, nil
	}

	// No local CA bundle: this is the one request in the run permitted to
	// run with verify_peer=false.
	pemBytes, err := deps.CA.FetchCACerts(ctx, false, nil)
	if err != nil {
		return nil, err
	}
	parsed, err := certstore.ParseCertChainPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: fetched ca certificate: %v", certstore.ErrMalformed, err)
	}
	if err := deps.Store.SaveCACerts(parsed); err != nil {
		return nil, err
	}
	return NeedCRLs{CACerts: parsed, VerifyPeer: true}, nil
}

func stepNeedCRLs(ctx context.Context, deps Deps, s NeedCRLs) (State, error) {
	if !deps.Config.CertificateRevocation {
		return NeedKey{CACerts: s.CACerts, VerifyPeer: s.VerifyPeer}, nil
	}

	crls, err := deps.Store.LoadCRLs()
	if err != nil {
		return nil, err
	}
	if crls != nil {
		return NeedKey{CACerts: s.CACerts, CRLs: crls, VerifyPeer: s.VerifyPeer}, nil
	}

	// Open question resolved (spec.md §9): CRL downloads run with
	// verify_peer=true once the CA bundle for this run is trusted.
	trust := certPool(s.CACerts)
	pemBytes, err := deps.CA.FetchCRLs(ctx, true, trust)
	if err != nil {
		return nil, err
	}
	parsed, err := certstore.ParseCRLBundlePEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: fetched crl: %v", certstore.ErrMalformed, err)
	}
	if err := deps.Store.SaveCRLs(parsed); err != nil {
		return nil, err
	}
	return NeedKey{CACerts: s.CACerts, CRLs: parsed, VerifyPeer: s.VerifyPeer}, nil
}

func stepNeedKey(deps Deps, s NeedKey) (State, error) {
	key, err := deps.Store.LoadPrivateKey()
	if err != nil {
		return nil, err
	}

	if key != nil {
		clientCert, err := deps.Store.LoadClientCert()
		if err != nil {
			return nil, err
		}
		if clientCert != nil {
			if !publicKeysEqual(clientCert, key) {
				return nil, fmt.Errorf("%w: '%s'", ErrKeyMismatch, clientCert.Subject.CommonName)
			}
			sslCtx, err := sslcontext.New(s.CACerts, s.CRLs, s.VerifyPeer, key, clientCert)
			if err != nil {
				return nil, err
			}
			return Done{Context: sslCtx}, nil
		}
		return NeedSubmitCSR{CACerts: s.CACerts, CRLs: s.CRLs, VerifyPeer: s.VerifyPeer, Key: key}, nil
	}

	newKey, err := generateAndPersistKey(deps.Store, deps.Config.KeySize)
	if err != nil {
		return nil, err
	}
	return NeedSubmitCSR{CACerts: s.CACerts, CRLs: s.CRLs, VerifyPeer: s.VerifyPeer, Key: newKey}, nil
}

func stepNeedSubmitCSR(ctx context.Context, deps Deps, s NeedSubmitCSR) (State, error) {
	attrs, err := csr.LoadAttributes(deps.Config.CSRAttributesPath)
	if err != nil {
		return nil, err
	}
	pemBytes, err := csr.Build(csr.Request{
		Certname:    deps.Config.Certname,
		DNSAltNames: deps.Config.DNSAltNames,
		Attributes:  attrs,
	}, s.Key)
	if err != nil {
		return nil, err
	}

	trust := certPool(s.CACerts)
	result, err := deps.CA.SubmitCSR(ctx, deps.Config.Certname, pemBytes, trust)
	if err != nil {
		return nil, err
	}
	deps.logger().Info("csr submitted", "attempt_id", deps.AttemptID, "result", submitResultString(result))

	return NeedCert{CACerts: s.CACerts, CRLs: s.CRLs, VerifyPeer: s.VerifyPeer, Key: s.Key}, nil
}

func stepNeedCert(ctx context.Context, deps Deps, s NeedCert) (State, error) {
	trust := certPool(s.CACerts)
	pemBytes, err := deps.CA.FetchClientCert(ctx, deps.Config.Certname, trust)
	if err != nil {
		if errors.Is(err, caclient.ErrNotReady) {
			return Wait{CACerts: s.CACerts, CRLs: s.CRLs, VerifyPeer: s.VerifyPeer, Key: s.Key}, nil
		}
		return nil, err
	}

	certs, err := certstore.ParseCertChainPEM(pemBytes)
	if err != nil {
		deps.logger().Warn("fetched client certificate was unparseable", "attempt_id", deps.AttemptID, "error", err)
		return Wait{CACerts: s.CACerts, CRLs: s.CRLs, VerifyPeer: s.VerifyPeer, Key: s.Key}, nil
	}
	leaf := certs[0]

	if !publicKeysEqual(leaf, s.Key) {
		deps.logger().Warn("fetched client certificate does not match private key", "attempt_id", deps.AttemptID)
		return Wait{CACerts: s.CACerts, CRLs: s.CRLs, VerifyPeer: s.VerifyPeer, Key: s.Key}, nil
	}

	if err := deps.Store.SaveClientCert(leaf); err != nil {
		return nil, err
	}
	sslCtx, err := sslcontext.New(s.CACerts, s.CRLs, s.VerifyPeer, s.Key, leaf)
	if err != nil {
		return nil, err
	}
	return Done{Context: sslCtx}, nil
}

func stepWait(ctx context.Context, deps Deps, s Wait) (State, error) {
	if deps.Config.Onetime || deps.Config.WaitForCert == 0 {
		const message = "Exiting; no certificate found and waitforcert is disabled"
		fmt.Println(message)
		return Exit{Code: 1, Message: message}, nil
	}

	if err := deps.sleeper()(ctx, time.Duration(deps.Config.WaitForCert)*time.Second); err != nil {
		return nil, err
	}
	return NeedCACerts{}, nil
}

func certPool(certs []*x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool
}

func publicKeysEqual(cert *x509.Certificate, key *rsa.PrivateKey) bool {
	certPub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false
	}
	return certPub.Equal(&key.PublicKey)
}

func submitResultString(r caclient.SubmitResult) string {
	if r == caclient.AlreadyExists {
		return "already_exists"
	}
	return "accepted"
}
