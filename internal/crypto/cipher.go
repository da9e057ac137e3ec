package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20"

	cserrors "cryptsync/internal/errors"
)

// CipherID selects the payload cipher. The set is closed per spec: AES-256
// in CBC mode with PKCS#7 padding, or ChaCha20 as a true stream cipher.
type CipherID byte

const (
	CipherAES256CBC CipherID = iota
	CipherChaCha20
)

func (c CipherID) String() string {
	switch c {
	case CipherAES256CBC:
		return "aes-256-cbc"
	case CipherChaCha20:
		return "chacha20"
	default:
		return "unknown"
	}
}

// KeySize returns the encryption subkey length both ciphers share.
func (c CipherID) KeySize() int { return 32 }

// NonceSize returns the per-file nonce/IV length for this cipher: 16
// bytes (one AES block) for CBC, 12 bytes for ChaCha20's standard nonce.
func (c CipherID) NonceSize() int {
	if c == CipherChaCha20 {
		return chacha20.NonceSize
	}
	return aes.BlockSize
}

// BlockSize returns the cipher's block size for padding purposes: 16 for
// AES-CBC, 1 for ChaCha20 (no padding needed, since it is a true stream
// cipher).
func (c CipherID) BlockSize() int {
	if c == CipherAES256CBC {
		return aes.BlockSize
	}
	return 1
}

// StreamCipher is the common interface the pipeline drives regardless of
// which cipher was selected at construction. Encrypt/Decrypt process one
// chunk in place into dst; for AES-CBC, src must be a whole number of
// blocks (the pipeline pads before calling Encrypt and unpads after the
// final Decrypt).
type StreamCipher interface {
	Encrypt(dst, src []byte) error
	Decrypt(dst, src []byte) error
	BlockSize() int
}

// NewStreamCipher constructs the StreamCipher selected by id, keyed with
// the encryption subkey and the per-file nonce from the header.
func NewStreamCipher(id CipherID, key, nonce []byte) (StreamCipher, error) {
	if len(key) != id.KeySize() {
		return nil, cserrors.NewCryptoError("cipher", fmt.Errorf("%s requires a %d-byte key, got %d", id, id.KeySize(), len(key)))
	}
	if len(nonce) != id.NonceSize() {
		return nil, cserrors.NewCryptoError("cipher", fmt.Errorf("%s requires a %d-byte nonce, got %d", id, id.NonceSize(), len(nonce)))
	}

	switch id {
	case CipherAES256CBC:
		return newAESCBCCipher(key, nonce)
	case CipherChaCha20:
		return newChaCha20Cipher(key, nonce)
	default:
		return nil, cserrors.NewCryptoError("cipher", fmt.Errorf("unknown cipher id %d", id))
	}
}

// aesCBCCipher drives independent CBC encrypter/decrypter BlockModes over
// the same key and IV, so a single value can serve either direction.
type aesCBCCipher struct {
	encrypter cipher.BlockMode
	decrypter cipher.BlockMode
}

func newAESCBCCipher(key, iv []byte) (*aesCBCCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cserrors.NewCryptoError("cipher", err)
	}
	return &aesCBCCipher{
		encrypter: cipher.NewCBCEncrypter(block, iv),
		decrypter: cipher.NewCBCDecrypter(block, iv),
	}, nil
}

func (c *aesCBCCipher) Encrypt(dst, src []byte) error {
	if len(src)%aes.BlockSize != 0 {
		return cserrors.NewCryptoError("cipher", fmt.Errorf("aes-cbc input length %d not block-aligned", len(src)))
	}
	c.encrypter.CryptBlocks(dst, src)
	return nil
}

func (c *aesCBCCipher) Decrypt(dst, src []byte) error {
	if len(src)%aes.BlockSize != 0 {
		return cserrors.NewCryptoError("cipher", fmt.Errorf("aes-cbc input length %d not block-aligned", len(src)))
	}
	c.decrypter.CryptBlocks(dst, src)
	return nil
}

func (c *aesCBCCipher) BlockSize() int { return aes.BlockSize }

// chacha20Cipher holds independent keystream generators for each direction
// so the internal block counters of the two directions never interfere.
type chacha20Cipher struct {
	enc *chacha20.Cipher
	dec *chacha20.Cipher
}

func newChaCha20Cipher(key, nonce []byte) (*chacha20Cipher, error) {
	enc, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, cserrors.NewCryptoError("cipher", err)
	}
	dec, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, cserrors.NewCryptoError("cipher", err)
	}
	return &chacha20Cipher{enc: enc, dec: dec}, nil
}

func (c *chacha20Cipher) Encrypt(dst, src []byte) error {
	c.enc.XORKeyStream(dst, src)
	return nil
}

func (c *chacha20Cipher) Decrypt(dst, src []byte) error {
	c.dec.XORKeyStream(dst, src)
	return nil
}

func (c *chacha20Cipher) BlockSize() int { return 1 }
