// Package crypto provides cryptographic primitives for CryptSync: the
// secure RNG, KDF/HKDF key schedule, MAC, and stream cipher adapters that
// the per-file pipeline and sync engine build on.
package crypto

import (
	"bytes"
	"crypto/rand"

	cserrors "cryptsync/internal/errors"
)

// RandomBytes draws n cryptographically secure random bytes from the
// operating system's entropy source. Every salt, nonce, and IV in
// CryptSync comes from this single call site.
//
// The service fails closed: an error from crypto/rand aborts the caller
// rather than falling back to any deterministic source.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, cserrors.NewCryptoError("rand", err)
	}

	// Sanity check against an entropy source returning all zeros.
	if bytes.Equal(b, make([]byte, n)) {
		return nil, cserrors.NewCryptoError("rand", cserrors.ErrCrypto)
	}

	return b, nil
}
