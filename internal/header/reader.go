package header

import (
	"encoding/binary"
	"fmt"
	"io"

	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
)

// Reader deserializes a FileHeader from an input stream.
type Reader struct {
	r io.Reader
}

// NewReader creates a header reader for the given input stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadHeader reads and validates a FileHeader. contentSaltLen must be the
// salt length recorded in the Root Manifest, since the content salt field
// has no length prefix of its own. The magic and version are checked
// first, before any other field is even read, so a wrong-format or
// wrong-version file is rejected before any cryptographic work.
//
// ReadHeader returns the parsed header and the exact raw bytes read, so the
// caller can feed them into the running MAC (the tag covers
// header_bytes || ciphertext_bytes).
func (hr *Reader) ReadHeader(contentSaltLen int) (*FileHeader, []byte, error) {
	var raw []byte

	magic := make([]byte, MagicSize)
	if _, err := io.ReadFull(hr.r, magic); err != nil {
		return nil, nil, cserrors.NewIoError("read", "", err)
	}
	raw = append(raw, magic...)
	if [4]byte(magic) != Magic {
		return nil, nil, cserrors.NewManifestError("magic", fmt.Errorf("not a CryptSync file"))
	}

	version := make([]byte, VersionSize)
	if _, err := io.ReadFull(hr.r, version); err != nil {
		return nil, nil, cserrors.NewIoError("read", "", err)
	}
	raw = append(raw, version...)
	if version[0] != CurrentVersion {
		return nil, nil, cserrors.NewManifestError("version", fmt.Errorf("unsupported header version %d", version[0]))
	}

	idBytes := make([]byte, CipherIDSize+MacIDSize+CompressorIDSize)
	if _, err := io.ReadFull(hr.r, idBytes); err != nil {
		return nil, nil, cserrors.NewIoError("read", "", err)
	}
	raw = append(raw, idBytes...)
	cipherID := crypto.CipherID(idBytes[0])
	macID := MacID(idBytes[1])
	compressorID := crypto.CompressorID(idBytes[2])

	origSizeBytes := make([]byte, OrigSizeSize)
	if _, err := io.ReadFull(hr.r, origSizeBytes); err != nil {
		return nil, nil, cserrors.NewIoError("read", "", err)
	}
	raw = append(raw, origSizeBytes...)
	origSize := binary.BigEndian.Uint64(origSizeBytes)

	origModTimeBytes := make([]byte, OrigModTimeSize)
	if _, err := io.ReadFull(hr.r, origModTimeBytes); err != nil {
		return nil, nil, cserrors.NewIoError("read", "", err)
	}
	raw = append(raw, origModTimeBytes...)
	origModTime := int64(binary.BigEndian.Uint64(origModTimeBytes))

	nonce := make([]byte, cipherID.NonceSize())
	if _, err := io.ReadFull(hr.r, nonce); err != nil {
		return nil, nil, cserrors.NewIoError("read", "", err)
	}
	raw = append(raw, nonce...)

	contentSalt := make([]byte, contentSaltLen)
	if _, err := io.ReadFull(hr.r, contentSalt); err != nil {
		return nil, nil, cserrors.NewIoError("read", "", err)
	}
	raw = append(raw, contentSalt...)

	pathLenBytes := make([]byte, PathLenSize)
	if _, err := io.ReadFull(hr.r, pathLenBytes); err != nil {
		return nil, nil, cserrors.NewIoError("read", "", err)
	}
	raw = append(raw, pathLenBytes...)
	pathLen := binary.BigEndian.Uint16(pathLenBytes)

	encryptedPath := make([]byte, pathLen)
	if pathLen > 0 {
		if _, err := io.ReadFull(hr.r, encryptedPath); err != nil {
			return nil, nil, cserrors.NewIoError("read", "", err)
		}
	}
	raw = append(raw, encryptedPath...)

	h := &FileHeader{
		Version:       version[0],
		CipherID:      cipherID,
		MacID:         macID,
		CompressorID:  compressorID,
		OrigSize:      origSize,
		OrigModTime:   origModTime,
		Nonce:         nonce,
		ContentSalt:   contentSalt,
		EncryptedPath: encryptedPath,
	}
	return h, raw, nil
}

// PeekMagicVersion reads only the magic and version fields, to classify a
// file as CryptSync output (and at what version) without committing to a
// full header parse.
func PeekMagicVersion(r io.Reader) (version byte, err error) {
	magic := make([]byte, MagicSize)
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, cserrors.NewIoError("read", "", err)
	}
	if [4]byte(magic) != Magic {
		return 0, cserrors.NewManifestError("magic", fmt.Errorf("not a CryptSync file"))
	}

	versionBuf := make([]byte, VersionSize)
	if _, err := io.ReadFull(r, versionBuf); err != nil {
		return 0, cserrors.NewIoError("read", "", err)
	}
	return versionBuf[0], nil
}
