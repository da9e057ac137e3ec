package crypto

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestRandomBytes(t *testing.T) {
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if len(b) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(b))
	}

	b2, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if bytes.Equal(b, b2) {
		t.Fatal("two independent draws produced identical output")
	}
}

func TestKDFParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  KDFParams
		wantErr bool
	}{
		{"valid scrypt defaults", DefaultScryptParams(), false},
		{"log_n too low", KDFParams{Kind: KDFScrypt, LogN: 9, R: 8, P: 1, OutputLen: 32}, true},
		{"log_n too high", KDFParams{Kind: KDFScrypt, LogN: 25, R: 8, P: 1, OutputLen: 32}, true},
		{"r zero", KDFParams{Kind: KDFScrypt, LogN: 14, R: 0, P: 1, OutputLen: 32}, true},
		{"p zero", KDFParams{Kind: KDFScrypt, LogN: 14, R: 8, P: 0, OutputLen: 32}, true},
		{"pbkdf2 valid", KDFParams{Kind: KDFPBKDF2, Iterations: 10000, OutputLen: 32}, false},
		{"pbkdf2 zero iterations", KDFParams{Kind: KDFPBKDF2, Iterations: 0, OutputLen: 32}, true},
		{"zero output len", KDFParams{Kind: KDFScrypt, LogN: 14, R: 8, P: 1, OutputLen: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	params := KDFParams{Kind: KDFScrypt, LogN: 10, R: 1, P: 1, OutputLen: 32}
	password := []byte("correct horse battery staple")
	salt := []byte("0123456789abcdef0123456789abcdef")

	k1, err := DeriveMasterKey(password, salt, params)
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	k2, err := DeriveMasterKey(password, salt, params)
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same password/salt/params produced different keys")
	}

	k3, err := DeriveMasterKey([]byte("different password"), salt, params)
	if err != nil {
		t.Fatalf("DeriveMasterKey: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("different passwords produced the same key")
	}
}

func TestDeriveMasterKeyRejectsInvalidParams(t *testing.T) {
	_, err := DeriveMasterKey([]byte("pw"), []byte("salt"), KDFParams{Kind: KDFScrypt, LogN: 99, OutputLen: 32})
	if err == nil {
		t.Fatal("expected error for out-of-range log_n")
	}
}

func TestAutoTuneParamsScrypt(t *testing.T) {
	params, err := AutoTuneParams(50*time.Millisecond, KDFScrypt)
	if err != nil {
		t.Fatalf("AutoTuneParams: %v", err)
	}
	if params.LogN < minLogN || params.LogN > maxLogN {
		t.Errorf("tuned log_n %d out of range", params.LogN)
	}

	start := time.Now()
	if _, err := DeriveMasterKey([]byte("pw"), make([]byte, 16), params); err != nil {
		t.Fatalf("DeriveMasterKey with tuned params: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed > 500*time.Millisecond {
		t.Errorf("tuned params took %v, far beyond target", elapsed)
	}
}

func TestDeriveSubkeysIndependent(t *testing.T) {
	masterKey := bytes.Repeat([]byte{0x42}, 32)
	salt := bytes.Repeat([]byte{0x24}, 16)

	subkeys, err := DeriveSubkeys(masterKey, salt)
	if err != nil {
		t.Fatalf("DeriveSubkeys: %v", err)
	}
	defer subkeys.Close()

	if len(subkeys.Enc) != SubkeyEncSize {
		t.Errorf("Enc subkey length = %d, want %d", len(subkeys.Enc), SubkeyEncSize)
	}
	if len(subkeys.Mac) != SubkeyMacSize {
		t.Errorf("Mac subkey length = %d, want %d", len(subkeys.Mac), SubkeyMacSize)
	}
	if len(subkeys.Name) != SubkeyNameSize {
		t.Errorf("Name subkey length = %d, want %d", len(subkeys.Name), SubkeyNameSize)
	}

	if bytes.Equal(subkeys.Mac, subkeys.Name[:SubkeyMacSize]) {
		t.Error("Mac and Name subkeys should be independent")
	}

	again, err := DeriveSubkeys(masterKey, salt)
	if err != nil {
		t.Fatalf("DeriveSubkeys: %v", err)
	}
	defer again.Close()
	if !bytes.Equal(subkeys.Enc, again.Enc) {
		t.Error("subkey derivation is not deterministic for identical inputs")
	}
}

func TestSubkeysClose(t *testing.T) {
	subkeys, err := DeriveSubkeys(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 16))
	if err != nil {
		t.Fatalf("DeriveSubkeys: %v", err)
	}
	subkeys.Close()
	if !bytes.Equal(subkeys.Enc, make([]byte, len(subkeys.Enc))) {
		t.Error("Close should zero the Enc subkey in place")
	}
}

func TestMacRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, SubkeyMacSize)

	m1 := NewMac(key)
	m1.Write([]byte("header bytes"))
	m1.Write([]byte("ciphertext bytes"))
	tag1 := m1.Sum()

	m2 := NewMac(key)
	m2.Write([]byte("header bytesciphertext bytes"))
	tag2 := m2.Sum()

	if len(tag1) != MACSize {
		t.Fatalf("tag length = %d, want %d", len(tag1), MACSize)
	}
	if !Equal(tag1, tag2) {
		t.Error("MAC over split writes should equal MAC over the concatenation")
	}
}

func TestMacDetectsTamper(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, SubkeyMacSize)

	m1 := NewMac(key)
	m1.Write([]byte("original"))
	tag1 := m1.Sum()

	m2 := NewMac(key)
	m2.Write([]byte("tampered"))
	tag2 := m2.Sum()

	if Equal(tag1, tag2) {
		t.Error("tags should differ for different authenticated bytes")
	}
}

func TestChaCha20CipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, CipherChaCha20.KeySize())
	nonce := bytes.Repeat([]byte{0x44}, CipherChaCha20.NonceSize())

	c, err := NewStreamCipher(CipherChaCha20, key, nonce)
	if err != nil {
		t.Fatalf("NewStreamCipher: %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog, repeated for length")
	ciphertext := make([]byte, len(plaintext))
	if err := c.Encrypt(ciphertext, plaintext); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext should differ from plaintext")
	}

	c2, err := NewStreamCipher(CipherChaCha20, key, nonce)
	if err != nil {
		t.Fatalf("NewStreamCipher: %v", err)
	}
	decrypted := make([]byte, len(ciphertext))
	if err := c2.Decrypt(decrypted, ciphertext); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatal("round trip did not recover plaintext")
	}
}

func TestAESCBCCipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, CipherAES256CBC.KeySize())
	iv := bytes.Repeat([]byte{0x66}, CipherAES256CBC.NonceSize())

	c, err := NewStreamCipher(CipherAES256CBC, key, iv)
	if err != nil {
		t.Fatalf("NewStreamCipher: %v", err)
	}

	plaintext := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 8) // 32 bytes, block-aligned
	ciphertext := make([]byte, len(plaintext))
	if err := c.Encrypt(ciphertext, plaintext); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decrypted := make([]byte, len(ciphertext))
	if err := c.Decrypt(decrypted, ciphertext); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatal("round trip did not recover plaintext")
	}
}

func TestAESCBCRejectsUnalignedInput(t *testing.T) {
	key := bytes.Repeat([]byte{0x77}, CipherAES256CBC.KeySize())
	iv := bytes.Repeat([]byte{0x88}, CipherAES256CBC.NonceSize())

	c, err := NewStreamCipher(CipherAES256CBC, key, iv)
	if err != nil {
		t.Fatalf("NewStreamCipher: %v", err)
	}

	src := make([]byte, 17) // not block-aligned
	dst := make([]byte, 17)
	if err := c.Encrypt(dst, src); err == nil {
		t.Fatal("expected error for unaligned AES-CBC input")
	}
}

func TestNewStreamCipherRejectsWrongKeySize(t *testing.T) {
	if _, err := NewStreamCipher(CipherChaCha20, make([]byte, 16), make([]byte, CipherChaCha20.NonceSize())); err == nil {
		t.Fatal("expected error for wrong key size")
	}
}

func TestCompressorRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewCompressor(&buf, 3)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}

	original := bytes.Repeat([]byte("compress me please "), 100)
	if _, err := enc.Write(original); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dec, err := NewDecompressor(&buf)
	if err != nil {
		t.Fatalf("NewDecompressor: %v", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(out, original) {
		t.Fatal("decompressed output does not match original")
	}
}
