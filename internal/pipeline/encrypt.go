package pipeline

import (
	"io"

	"cryptsync/internal/crypto"
	"cryptsync/internal/encoding"
	cserrors "cryptsync/internal/errors"
	"cryptsync/internal/header"
	"cryptsync/internal/util"
)

// EncryptOptions bundles everything Encrypt needs to produce one complete
// output file: the per-file subkeys and random values the caller already
// derived/generated, plus the algorithm choices frozen by the Root
// Manifest.
type EncryptOptions struct {
	CipherID        crypto.CipherID
	CompressorID    crypto.CompressorID
	CompressorLevel int
	EncKey          []byte // k_enc
	MacKey          []byte // k_mac
	Nonce           []byte
	ContentSalt     []byte
	OrigSize        uint64
	OrigModTime     int64
	RelPath         string
}

// EncryptResult reports what Encrypt actually wrote, for progress
// reporting and diagnostics.
type EncryptResult struct {
	BytesIn  int64 // plaintext bytes read from src
	BytesOut int64 // total bytes written to dst (header + ciphertext + tag)
	Tag      []byte
}

// Encrypt reads src, compresses it, encrypts the compressed stream, and
// writes header || ciphertext || tag to dst in a single pass. The
// relative path is encrypted as the first chunk under the same cipher
// state the body continues from, so the header's EncryptedPath field and
// the body ciphertext form one continuous keyed stream.
func Encrypt(dst io.Writer, src io.Reader, opts EncryptOptions) (*EncryptResult, error) {
	cipherObj, err := crypto.NewStreamCipher(opts.CipherID, opts.EncKey, opts.Nonce)
	if err != nil {
		return nil, err
	}

	encryptedPath, err := encryptChunk(cipherObj, []byte(opts.RelPath))
	if err != nil {
		return nil, err
	}

	h, err := header.NewFileHeader(opts.CipherID, opts.CompressorID, opts.OrigSize, opts.OrigModTime, opts.Nonce, opts.ContentSalt, encryptedPath)
	if err != nil {
		return nil, err
	}

	mac := crypto.NewMac(opts.MacKey)

	headerBytes, err := header.NewWriter(dst).WriteHeader(h)
	if err != nil {
		return nil, err
	}
	mac.Write(headerBytes)

	tee := &macTeeWriter{w: dst, mac: mac}
	bodyWriter := newBlockEncryptWriter(cipherObj, tee)

	compressor, err := crypto.NewCompressor(bodyWriter, opts.CompressorLevel)
	if err != nil {
		return nil, err
	}

	buf := util.GetMiBBuffer()
	defer util.PutMiBBuffer(buf)

	bytesIn, err := io.CopyBuffer(compressor, src, buf)
	if err != nil {
		return nil, cserrors.NewIoError("read", "", err)
	}
	if err := compressor.Close(); err != nil {
		return nil, cserrors.NewCryptoError("compress", err)
	}
	if err := bodyWriter.finalize(); err != nil {
		return nil, err
	}

	tag := mac.Sum()
	if _, err := dst.Write(tag); err != nil {
		return nil, cserrors.NewIoError("write", "", err)
	}

	return &EncryptResult{
		BytesIn:  bytesIn,
		BytesOut: int64(len(headerBytes)) + tee.n + int64(len(tag)),
		Tag:      tag,
	}, nil
}

// blockEncryptWriter buffers partial blocks across Write calls so a
// block cipher (AES-256-CBC) only ever sees whole-block input; a true
// stream cipher (ChaCha20, BlockSize()==1) passes every byte straight
// through.
type blockEncryptWriter struct {
	cipherObj crypto.StreamCipher
	blockSize int
	dst       io.Writer
	buf       []byte
}

func newBlockEncryptWriter(cipherObj crypto.StreamCipher, dst io.Writer) *blockEncryptWriter {
	return &blockEncryptWriter{cipherObj: cipherObj, blockSize: cipherObj.BlockSize(), dst: dst}
}

func (w *blockEncryptWriter) Write(p []byte) (int, error) {
	if w.blockSize <= 1 {
		out := make([]byte, len(p))
		if err := w.cipherObj.Encrypt(out, p); err != nil {
			return 0, err
		}
		if _, err := w.dst.Write(out); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	w.buf = append(w.buf, p...)
	full := len(w.buf) - len(w.buf)%w.blockSize
	if full > 0 {
		out := make([]byte, full)
		if err := w.cipherObj.Encrypt(out, w.buf[:full]); err != nil {
			return 0, err
		}
		if _, err := w.dst.Write(out); err != nil {
			return 0, err
		}
		w.buf = append(w.buf[:0], w.buf[full:]...)
	}
	return len(p), nil
}

// finalize PKCS#7-pads and encrypts whatever remains buffered. For a
// true stream cipher there is never anything buffered, so this is a
// no-op.
func (w *blockEncryptWriter) finalize() error {
	if w.blockSize <= 1 {
		return nil
	}
	padded := encoding.Pad(w.buf, w.blockSize)
	out := make([]byte, len(padded))
	if err := w.cipherObj.Encrypt(out, padded); err != nil {
		return err
	}
	if _, err := w.dst.Write(out); err != nil {
		return cserrors.NewIoError("write", "", err)
	}
	w.buf = nil
	return nil
}
