package bootstrap

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/kboghdady/puppet/certstore"
	"github.com/kboghdady/puppet/internal/util"
)

// generateAndPersistKey creates a new RSA key pair and writes it to disk
// exactly once. The key's PKCS#1 DER bytes are copied into a memguard
// enclave and the bare DER slice is wiped, the same library the teacher's
// vault package uses for its master unlock key. The key that is saved and
// returned is parsed back out of the enclave's locked buffer, which is
// destroyed when this function returns; the generated and the returned
// *rsa.PrivateKey values themselves live in ordinary memory.
func generateAndPersistKey(store certstore.Provider, keySize int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("generating private key: %w", err)
	}

	der := x509.MarshalPKCS1PrivateKey(key)
	enclave := memguard.NewEnclave(util.CopyBytes(der))
	util.WipeBytes(der)

	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()

	guardedKey, err := x509.ParsePKCS1PrivateKey(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("reconstructing key from enclave: %w", err)
	}

	if err := store.SavePrivateKey(guardedKey); err != nil {
		return nil, fmt.Errorf("persisting private key: %w", err)
	}
	return guardedKey, nil
}
