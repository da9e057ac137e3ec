package pipeline

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
	"cryptsync/internal/header"
)

func roundTrip(t *testing.T, cipherID crypto.CipherID, plaintext []byte, relPath string) {
	t.Helper()

	encKey := bytes.Repeat([]byte{0x01}, 32)
	macKey := bytes.Repeat([]byte{0x02}, 64)
	nonce := bytes.Repeat([]byte{0x03}, cipherID.NonceSize())
	contentSalt := bytes.Repeat([]byte{0x04}, 16)

	var out bytes.Buffer
	encOpts := EncryptOptions{
		CipherID:        cipherID,
		CompressorID:    crypto.CompressorZstd,
		CompressorLevel: 3,
		EncKey:          encKey,
		MacKey:          macKey,
		Nonce:           nonce,
		ContentSalt:     contentSalt,
		OrigSize:        uint64(len(plaintext)),
		OrigModTime:     1700000000000000000,
		RelPath:         relPath,
	}

	res, err := Encrypt(&out, bytes.NewReader(plaintext), encOpts)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if res.BytesIn != int64(len(plaintext)) {
		t.Errorf("BytesIn = %d, want %d", res.BytesIn, len(plaintext))
	}

	full := out.Bytes()
	if len(full) < crypto.MACSize {
		t.Fatalf("output too short: %d bytes", len(full))
	}
	storedTag := full[len(full)-crypto.MACSize:]
	rest := full[:len(full)-crypto.MACSize]

	r := bytes.NewReader(rest)
	h, headerRaw, err := header.NewReader(r).ReadHeader(len(contentSalt))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	var plainOut bytes.Buffer
	decOpts := DecryptOptions{
		EncKey:    encKey,
		MacKey:    macKey,
		Header:    h,
		HeaderRaw: headerRaw,
		StoredTag: storedTag,
	}
	decRes, err := Decrypt(&plainOut, r, decOpts)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	if decRes.RelPath != relPath {
		t.Errorf("RelPath = %q, want %q", decRes.RelPath, relPath)
	}
	if !bytes.Equal(plainOut.Bytes(), plaintext) {
		t.Errorf("decrypted plaintext mismatch: got %d bytes, want %d bytes", plainOut.Len(), len(plaintext))
	}
}

func TestRoundTripAESCBCSmall(t *testing.T) {
	roundTrip(t, crypto.CipherAES256CBC, []byte("hello, cryptsync"), "a/b/c.txt")
}

func TestRoundTripChaCha20Small(t *testing.T) {
	roundTrip(t, crypto.CipherChaCha20, []byte("hello, cryptsync"), "a/b/c.txt")
}

func TestRoundTripEmptyFile(t *testing.T) {
	roundTrip(t, crypto.CipherAES256CBC, []byte{}, "empty.txt")
	roundTrip(t, crypto.CipherChaCha20, []byte{}, "empty.txt")
}

func TestRoundTripLargeCompressibleFile(t *testing.T) {
	plaintext := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 100000))
	roundTrip(t, crypto.CipherAES256CBC, plaintext, "big/file.log")
	roundTrip(t, crypto.CipherChaCha20, plaintext, "big/file.log")
}

func TestRoundTripIncompressibleFile(t *testing.T) {
	plaintext := make([]byte, 3*1024*1024+17)
	for i := range plaintext {
		plaintext[i] = byte(i * 7 % 251)
	}
	roundTrip(t, crypto.CipherAES256CBC, plaintext, "random.bin")
	roundTrip(t, crypto.CipherChaCha20, plaintext, "random.bin")
}

func TestDecryptDetectsTamperedBody(t *testing.T) {
	encKey := bytes.Repeat([]byte{0x05}, 32)
	macKey := bytes.Repeat([]byte{0x06}, 64)
	cipherID := crypto.CipherAES256CBC
	nonce := bytes.Repeat([]byte{0x07}, cipherID.NonceSize())
	contentSalt := bytes.Repeat([]byte{0x08}, 16)
	plaintext := []byte("do not trust a single altered byte")

	var out bytes.Buffer
	_, err := Encrypt(&out, bytes.NewReader(plaintext), EncryptOptions{
		CipherID:        cipherID,
		CompressorID:    crypto.CompressorZstd,
		CompressorLevel: 3,
		EncKey:          encKey,
		MacKey:          macKey,
		Nonce:           nonce,
		ContentSalt:     contentSalt,
		OrigSize:        uint64(len(plaintext)),
		RelPath:         "tamper.txt",
	})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	full := out.Bytes()
	full[len(full)-crypto.MACSize-1] ^= 0xFF // flip a ciphertext byte just before the tag

	storedTag := full[len(full)-crypto.MACSize:]
	rest := full[:len(full)-crypto.MACSize]

	r := bytes.NewReader(rest)
	h, headerRaw, err := header.NewReader(r).ReadHeader(len(contentSalt))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	var plainOut bytes.Buffer
	_, err = Decrypt(&plainOut, r, DecryptOptions{
		EncKey:    encKey,
		MacKey:    macKey,
		Header:    h,
		HeaderRaw: headerRaw,
		StoredTag: storedTag,
	})
	if !errors.Is(err, cserrors.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed for tampered ciphertext, got %v", err)
	}
}

func TestDecryptDetectsWrongKey(t *testing.T) {
	encKey := bytes.Repeat([]byte{0x09}, 32)
	macKey := bytes.Repeat([]byte{0x0A}, 64)
	cipherID := crypto.CipherChaCha20
	nonce := bytes.Repeat([]byte{0x0B}, cipherID.NonceSize())
	contentSalt := bytes.Repeat([]byte{0x0C}, 16)
	plaintext := []byte("secret payload")

	var out bytes.Buffer
	_, err := Encrypt(&out, bytes.NewReader(plaintext), EncryptOptions{
		CipherID:        cipherID,
		CompressorID:    crypto.CompressorZstd,
		CompressorLevel: 3,
		EncKey:          encKey,
		MacKey:          macKey,
		Nonce:           nonce,
		ContentSalt:     contentSalt,
		RelPath:         "secret.txt",
	})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	full := out.Bytes()
	storedTag := full[len(full)-crypto.MACSize:]
	rest := full[:len(full)-crypto.MACSize]

	r := bytes.NewReader(rest)
	h, headerRaw, err := header.NewReader(r).ReadHeader(len(contentSalt))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	wrongMacKey := bytes.Repeat([]byte{0x0D}, 64)
	var plainOut bytes.Buffer
	_, err = Decrypt(&plainOut, r, DecryptOptions{
		EncKey:    encKey,
		MacKey:    wrongMacKey,
		Header:    h,
		HeaderRaw: headerRaw,
		StoredTag: storedTag,
	})
	if !errors.Is(err, cserrors.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed for wrong MAC key, got %v", err)
	}
}
