package pipeline

import (
	"bytes"
	"fmt"
	"io"

	"cryptsync/internal/crypto"
	"cryptsync/internal/encoding"
	cserrors "cryptsync/internal/errors"
	"cryptsync/internal/header"
	"cryptsync/internal/util"
)

// DecryptOptions bundles the subkeys and already-parsed header needed to
// reverse Encrypt. HeaderRaw must be the exact bytes ReadHeader consumed,
// since the MAC tag covers them verbatim.
type DecryptOptions struct {
	EncKey    []byte // k_enc
	MacKey    []byte // k_mac
	Header    *header.FileHeader
	HeaderRaw []byte
	StoredTag []byte
}

// DecryptResult reports what Decrypt recovered.
type DecryptResult struct {
	RelPath  string
	BytesOut int64
}

// Decrypt reverses Encrypt: it decrypts and decompresses body into an
// in-memory staging buffer while feeding the same raw ciphertext bytes to
// the running MAC, reading body exactly once. Nothing reaches dst until
// the tag has been verified against storedTag at end-of-stream — a
// tampered body surfaces as ErrAuthenticationFailed even when the
// tampered bytes would otherwise fail to decrypt or decompress cleanly,
// since the MAC is always checked before any decode error is reported.
func Decrypt(dst io.Writer, body io.Reader, opts DecryptOptions) (*DecryptResult, error) {
	h := opts.Header
	cipherObj, err := crypto.NewStreamCipher(h.CipherID, opts.EncKey, h.Nonce)
	if err != nil {
		return nil, err
	}

	mac := crypto.NewMac(opts.MacKey)
	mac.Write(opts.HeaderRaw)

	relPathBytes, err := decryptChunk(cipherObj, h.EncryptedPath)
	if err != nil {
		return nil, err
	}

	bodyReader := newBlockDecryptReader(cipherObj, mac, body)
	defer bodyReader.close()

	var staging bytes.Buffer
	decompressor, decompErr := crypto.NewDecompressor(bodyReader)
	var copyErr error
	if decompErr != nil {
		copyErr = decompErr
	} else {
		buf := util.GetMiBBuffer()
		_, copyErr = io.CopyBuffer(&staging, decompressor, buf)
		util.PutMiBBuffer(buf)
		decompressor.Close()
	}

	// A tamper can make the decrypt/decompress pass above bail out before
	// body is fully consumed. Drain whatever ciphertext it never reached so
	// the MAC always covers the entire body before the tag is checked.
	if _, drainErr := io.Copy(io.Discard, bodyReader); drainErr != nil {
		return nil, drainErr
	}

	tag := mac.Sum()
	if err := header.VerifyTag(tag, opts.StoredTag); err != nil {
		return nil, err
	}
	if copyErr != nil {
		return nil, cserrors.NewIoError("write", "", copyErr)
	}

	bytesOut, err := io.Copy(dst, &staging)
	if err != nil {
		return nil, cserrors.NewIoError("write", "", err)
	}

	return &DecryptResult{RelPath: string(relPathBytes), BytesOut: bytesOut}, nil
}

// blockDecryptReader reads ciphertext from src, absorbs the raw bytes
// into the running MAC as they are read, and decrypts them into a
// plaintext stream. For AES-256-CBC it always holds back at least one
// full block, since the true final block is only identified at EOF and
// must be unpadded; ChaCha20 has no such constraint and is decrypted
// byte-for-byte as it arrives.
type blockDecryptReader struct {
	src       io.Reader
	cipherObj crypto.StreamCipher
	mac       *crypto.Mac
	blockSize int

	readBuf  []byte
	holdback []byte
	pending  []byte
	eof      bool
}

func newBlockDecryptReader(cipherObj crypto.StreamCipher, mac *crypto.Mac, src io.Reader) *blockDecryptReader {
	return &blockDecryptReader{
		src:       src,
		cipherObj: cipherObj,
		mac:       mac,
		blockSize: cipherObj.BlockSize(),
		readBuf:   util.GetMiBBuffer(),
	}
}

func (r *blockDecryptReader) close() {
	util.PutMiBBuffer(r.readBuf)
}

func (r *blockDecryptReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *blockDecryptReader) fill() error {
	n, readErr := r.src.Read(r.readBuf)
	if n > 0 {
		raw := r.readBuf[:n]
		r.mac.Write(raw)
		if err := r.consume(raw); err != nil {
			return err
		}
	}

	if readErr == io.EOF {
		r.eof = true
		return r.drain()
	}
	if readErr != nil {
		return cserrors.NewIoError("read", "", readErr)
	}
	return nil
}

// consume decrypts whatever full blocks are available, holding back the
// last block (CBC only) until drain confirms it is truly final.
func (r *blockDecryptReader) consume(raw []byte) error {
	if r.blockSize <= 1 {
		out := make([]byte, len(raw))
		if err := r.cipherObj.Decrypt(out, raw); err != nil {
			return err
		}
		r.pending = append(r.pending, out...)
		return nil
	}

	combined := append(r.holdback, raw...)
	r.holdback = nil

	if len(combined) > r.blockSize {
		usable := len(combined) - r.blockSize
		usable -= usable % r.blockSize
		if usable > 0 {
			out := make([]byte, usable)
			if err := r.cipherObj.Decrypt(out, combined[:usable]); err != nil {
				return err
			}
			r.pending = append(r.pending, out...)
			combined = combined[usable:]
		}
	}
	r.holdback = combined
	return nil
}

// drain decrypts and unpads the final held-back block once EOF confirms
// it really is the last one.
func (r *blockDecryptReader) drain() error {
	if r.blockSize <= 1 {
		return nil
	}
	if len(r.holdback) == 0 {
		return cserrors.NewCryptoError("cipher", fmt.Errorf("ciphertext body missing its final padded block"))
	}
	if len(r.holdback)%r.blockSize != 0 {
		return cserrors.NewCryptoError("cipher", fmt.Errorf("ciphertext body length %d not block-aligned", len(r.holdback)))
	}

	out := make([]byte, len(r.holdback))
	if err := r.cipherObj.Decrypt(out, r.holdback); err != nil {
		return err
	}
	unpadded, err := encoding.Unpad(out, r.blockSize)
	if err != nil {
		return cserrors.NewCryptoError("cipher", err)
	}
	r.pending = append(r.pending, unpadded...)
	r.holdback = nil
	return nil
}
