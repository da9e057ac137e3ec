package crypto

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"

	cserrors "cryptsync/internal/errors"
)

// Subkey sizes. The encryption subkey is sized for AES-256/ChaCha20 (32
// bytes); the MAC subkey matches HMAC-SHA512's natural key size; the
// filename subkey is likewise 64 bytes so HMAC-SHA512 filename tags draw
// on a full-strength key independent of the other two.
const (
	SubkeyEncSize  = 32
	SubkeyMacSize  = 64
	SubkeyNameSize = 64
)

// Subkey derivation labels. Domain separation comes entirely from the
// HKDF "info" parameter — each label gets its own independent HKDF-Expand
// call rather than a shared positional read, so the three subkeys can be
// derived in any order.
const (
	labelEnc  = "enc"
	labelMac  = "mac"
	labelName = "name"
)

// Subkeys holds the three independent keys derived from a master key:
// one for payload encryption, one for the per-file MAC, one for filename
// obfuscation.
type Subkeys struct {
	Enc  []byte
	Mac  []byte
	Name []byte
}

// Close securely zeros all three subkeys. Call via defer once the subkeys
// are no longer needed.
func (s *Subkeys) Close() {
	if s == nil {
		return
	}
	SecureZeroMultiple(s.Enc, s.Mac, s.Name)
	s.Enc, s.Mac, s.Name = nil, nil, nil
}

// DeriveSubkeys runs HKDF-SHA512 three times over masterKey/salt, once per
// domain-separated label, producing the encryption, MAC, and filename
// subkeys used by the rest of the pipeline.
func DeriveSubkeys(masterKey, salt []byte) (*Subkeys, error) {
	enc, err := hkdfExpand(masterKey, salt, labelEnc, SubkeyEncSize)
	if err != nil {
		return nil, err
	}
	mac, err := hkdfExpand(masterKey, salt, labelMac, SubkeyMacSize)
	if err != nil {
		SecureZero(enc)
		return nil, err
	}
	name, err := hkdfExpand(masterKey, salt, labelName, SubkeyNameSize)
	if err != nil {
		SecureZeroMultiple(enc, mac)
		return nil, err
	}
	return &Subkeys{Enc: enc, Mac: mac, Name: name}, nil
}

func hkdfExpand(masterKey, salt []byte, label string, size int) ([]byte, error) {
	reader := hkdf.New(sha512.New, masterKey, salt, []byte(label))
	out := make([]byte, size)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, cserrors.NewCryptoError("hkdf", err)
	}
	return out, nil
}

const labelFile = "file"

// DeriveFileKey runs a second, per-file HKDF-SHA512 pass over the session
// encryption subkey, salted with the file's own content_salt, producing
// the key the cipher actually uses. This keeps a compromised content_salt
// (stored in plaintext in the header) from being useful on its own while
// still giving every file independent encryption material derived from
// the one shared k_enc.
func DeriveFileKey(encSubkey, contentSalt []byte, outputLen int) ([]byte, error) {
	return hkdfExpand(encSubkey, contentSalt, labelFile, outputLen)
}
