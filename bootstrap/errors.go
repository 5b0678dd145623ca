package bootstrap

import "errors"

// ErrKeyMismatch indicates an on-disk client certificate's public key does
// not match the on-disk private key. It is always fatal: the caller must
// not have reached this state via a freshly-fetched certificate, since
// NeedCert routes that case to Wait instead of returning an error.
var ErrKeyMismatch = errors.New("certificate does not match its private key")
