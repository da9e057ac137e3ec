package crypto

import (
	"io"

	"github.com/klauspost/compress/zstd"

	cserrors "cryptsync/internal/errors"
)

// CompressorID identifies the compression algorithm in the per-file
// header. The spec names Zstandard as the only supported compressor.
type CompressorID byte

const (
	CompressorZstd CompressorID = iota
)

// Compressor wraps a zstd encoder writing to an underlying io.Writer.
// Close must be called to flush the final frame.
type Compressor struct {
	enc *zstd.Encoder
}

// NewCompressor constructs a Compressor at the given level (1-19, per
// spec's tie-break rule enforced by the CLI config parser before this
// call is ever reached).
func NewCompressor(w io.Writer, level int) (*Compressor, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return nil, cserrors.NewCryptoError("compress", err)
	}
	return &Compressor{enc: enc}, nil
}

func (c *Compressor) Write(p []byte) (int, error) {
	return c.enc.Write(p)
}

// Close flushes and finalizes the zstd stream.
func (c *Compressor) Close() error {
	return c.enc.Close()
}

// Decompressor wraps a zstd decoder reading from an underlying io.Reader.
type Decompressor struct {
	dec *zstd.Decoder
}

// NewDecompressor constructs a Decompressor over r.
func NewDecompressor(r io.Reader) (*Decompressor, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, cserrors.NewCryptoError("decompress", err)
	}
	return &Decompressor{dec: dec}, nil
}

func (d *Decompressor) Read(p []byte) (int, error) {
	return d.dec.Read(p)
}

// Close releases the decoder's background goroutines/buffers.
func (d *Decompressor) Close() {
	d.dec.Close()
}

// zstdLevel maps the spec's 1-19 scale onto klauspost/compress's named
// encoder levels, since the library does not expose a raw numeric level
// knob. The mapping is coarse by design: callers outside [1,19] are
// rejected before this function is ever reached.
func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 12:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
