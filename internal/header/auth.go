package header

import (
	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
)

// VerifyTag compares a computed MAC tag against the trailing tag stored at
// the end of a file, in constant time. The tag is verified before any
// plaintext is ever released to the caller — see internal/pipeline's
// buffered decrypt-then-verify reader.
func VerifyTag(computed, stored []byte) error {
	if len(stored) != crypto.MACSize || len(computed) != crypto.MACSize {
		return cserrors.ErrAuthenticationFailed
	}
	if !crypto.Equal(computed, stored) {
		return cserrors.ErrAuthenticationFailed
	}
	return nil
}
