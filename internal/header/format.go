// Package header reads and writes the per-file header that precedes every
// CryptSync output file's ciphertext body.
package header

import (
	"fmt"

	"cryptsync/internal/crypto"
)

// Magic is the first four bytes of every CryptSync output file, allowing
// version rejection before any cryptographic work begins.
var Magic = [4]byte{'C', 'S', 'Y', '1'}

// CurrentVersion is the only header version this build writes or reads.
const CurrentVersion byte = 1

// Fixed-size field widths, in the exact order they appear on disk.
const (
	MagicSize        = 4
	VersionSize      = 1
	CipherIDSize     = 1
	MacIDSize        = 1
	CompressorIDSize = 1
	OrigSizeSize     = 8 // big-endian uint64
	OrigModTimeSize  = 8 // big-endian int64, unix nanoseconds
	PathLenSize      = 2 // big-endian uint16

	// MaxEncryptedPathLen bounds the 2-byte length prefix.
	MaxEncryptedPathLen = 1<<16 - 1
)

// MacID identifies the MAC algorithm. The spec names HMAC-SHA512 as the
// only supported MAC, but the field is still carried on disk so a future
// format revision has somewhere to record a second choice.
type MacID byte

const (
	MacHMACSHA512 MacID = iota
)

// FileHeader is the fixed-order, length-prefixed record prepended to every
// output file. The MAC tag itself is not a header field: it is the final
// MACSize bytes of the file, computed over header_bytes || ciphertext_bytes
// and appended only once the whole body has been written.
type FileHeader struct {
	Version      byte
	CipherID     crypto.CipherID
	MacID        MacID
	CompressorID crypto.CompressorID
	// OrigSize and OrigModTime record the source file's size and mtime at
	// the moment it was last written. Like the rest of the header these
	// bytes are covered by the trailing MAC tag, but the sync planner
	// treats them only as a fast pre-filter for change detection; the
	// authoritative size is whatever the decrypt pipeline actually emits.
	OrigSize     uint64
	OrigModTime  int64 // unix nanoseconds
	Nonce        []byte
	ContentSalt  []byte
	// EncryptedPath is the original relative path, already encrypted and
	// authenticated by the same cipher/MAC as the body (see internal/pipeline).
	EncryptedPath []byte
}

// NewFileHeader builds a FileHeader for the current format version.
func NewFileHeader(cipherID crypto.CipherID, compressorID crypto.CompressorID, origSize uint64, origModTime int64, nonce, contentSalt, encryptedPath []byte) (*FileHeader, error) {
	if len(encryptedPath) > MaxEncryptedPathLen {
		return nil, fmt.Errorf("header: encrypted path length %d exceeds max %d", len(encryptedPath), MaxEncryptedPathLen)
	}
	return &FileHeader{
		Version:       CurrentVersion,
		CipherID:      cipherID,
		MacID:         MacHMACSHA512,
		CompressorID:  compressorID,
		OrigSize:      origSize,
		OrigModTime:   origModTime,
		Nonce:         nonce,
		ContentSalt:   contentSalt,
		EncryptedPath: encryptedPath,
	}, nil
}
