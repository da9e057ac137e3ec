package pipeline

import (
	"cryptsync/internal/crypto"
	"cryptsync/internal/header"
)

// DecryptPath recovers the relative path carried in a header without
// touching the file's body. The planner uses this to decide where a
// decrypted file belongs before committing to the more expensive full
// Decrypt call; the result is provisional until that full call verifies
// the trailing MAC tag.
func DecryptPath(h *header.FileHeader, fileKey []byte) (string, error) {
	cipherObj, err := crypto.NewStreamCipher(h.CipherID, fileKey, h.Nonce)
	if err != nil {
		return "", err
	}
	plaintext, err := decryptChunk(cipherObj, h.EncryptedPath)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
