// Package pipeline drives the per-file compress -> encrypt -> MAC
// transform (and its inverse) that every output file goes through. The
// MAC tag covers header bytes and ciphertext body together, computed as
// the data is produced rather than over a fully materialized buffer.
// Encrypt streams with bounded memory; Decrypt holds a file's plaintext in
// memory until the tag has been verified, so its memory use grows with
// the file's decompressed size.
package pipeline

import (
	"io"

	"cryptsync/internal/crypto"
	"cryptsync/internal/encoding"
	cserrors "cryptsync/internal/errors"
)

// encryptChunk pads (if the cipher's block size requires it) and encrypts
// a single self-contained message, such as the relative path carried in
// the header. It relies on cipherObj's internal chaining state continuing
// correctly into whatever is encrypted next, so callers must encrypt
// every chunk of a file in the same fixed order: path, then body.
func encryptChunk(cipherObj crypto.StreamCipher, plaintext []byte) ([]byte, error) {
	blockSize := cipherObj.BlockSize()
	padded := plaintext
	if blockSize > 1 {
		padded = encoding.Pad(append([]byte(nil), plaintext...), blockSize)
	}
	out := make([]byte, len(padded))
	if err := cipherObj.Encrypt(out, padded); err != nil {
		return nil, err
	}
	return out, nil
}

// decryptChunk reverses encryptChunk: decrypt, then unpad if the cipher
// uses block padding.
func decryptChunk(cipherObj crypto.StreamCipher, ciphertext []byte) ([]byte, error) {
	blockSize := cipherObj.BlockSize()
	out := make([]byte, len(ciphertext))
	if err := cipherObj.Decrypt(out, ciphertext); err != nil {
		return nil, err
	}
	if blockSize > 1 {
		return encoding.Unpad(out, blockSize)
	}
	return out, nil
}

// macTeeWriter writes every byte it receives both to an underlying
// io.Writer and into a running MAC, so the trailing tag always covers
// exactly what landed on disk.
type macTeeWriter struct {
	w   io.Writer
	mac *crypto.Mac
	n   int64
}

func (t *macTeeWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.mac.Write(p[:n])
		t.n += int64(n)
	}
	if err != nil {
		return n, cserrors.NewIoError("write", "", err)
	}
	return n, nil
}
