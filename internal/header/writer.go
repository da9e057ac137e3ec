package header

import (
	"encoding/binary"
	"io"

	cserrors "cryptsync/internal/errors"
)

// Writer serializes a FileHeader to an output stream ahead of the
// ciphertext body.
type Writer struct {
	w io.Writer
}

// NewWriter creates a header writer for the given output stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes h in the fixed field order: magic, version, cipher_id,
// mac_id, compressor_id, orig_size, orig_mtime, nonce, content_salt,
// path-length, path. It returns
// the exact bytes written, so the caller can feed them into the running MAC
// (the tag covers header_bytes || ciphertext_bytes).
func (hw *Writer) WriteHeader(h *FileHeader) ([]byte, error) {
	buf := make([]byte, 0, MagicSize+VersionSize+CipherIDSize+MacIDSize+CompressorIDSize+
		OrigSizeSize+OrigModTimeSize+len(h.Nonce)+len(h.ContentSalt)+PathLenSize+len(h.EncryptedPath))

	buf = append(buf, Magic[:]...)
	buf = append(buf, h.Version)
	buf = append(buf, byte(h.CipherID))
	buf = append(buf, byte(h.MacID))
	buf = append(buf, byte(h.CompressorID))

	origSize := make([]byte, OrigSizeSize)
	binary.BigEndian.PutUint64(origSize, h.OrigSize)
	buf = append(buf, origSize...)

	origModTime := make([]byte, OrigModTimeSize)
	binary.BigEndian.PutUint64(origModTime, uint64(h.OrigModTime))
	buf = append(buf, origModTime...)

	buf = append(buf, h.Nonce...)
	buf = append(buf, h.ContentSalt...)

	pathLen := make([]byte, PathLenSize)
	binary.BigEndian.PutUint16(pathLen, uint16(len(h.EncryptedPath)))
	buf = append(buf, pathLen...)
	buf = append(buf, h.EncryptedPath...)

	if _, err := hw.w.Write(buf); err != nil {
		return nil, cserrors.NewIoError("write", "", err)
	}
	return buf, nil
}
