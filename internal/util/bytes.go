// Package util collects small byte- and randomness-handling helpers shared
// across the bootstrap packages.
package util

// CopyBytes returns an independent copy of src, so callers can hand key
// material to a memguard enclave without aliasing the caller's slice.
func CopyBytes(src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

// WipeBytes best-effort zeroes b in place. Used once private key bytes have
// been copied into a memguard buffer and the plaintext slice is no longer
// needed.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
