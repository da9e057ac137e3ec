// Package config holds the single validated configuration struct the CLI
// parser builds once and hands to the core; the core never re-parses
// flags or re-validates ambient state after Validate succeeds.
package config

import (
	"fmt"
	"runtime"
	"time"

	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
	"cryptsync/internal/filename"
)

// Default CLI values, matching the documented defaults: ChaCha20,
// HMAC-SHA512 (the only MAC choice, so it has no flag), Zstd level 3,
// Scrypt log_n=15/r=8/p=1, a 512-byte master salt, 3-level spread, and a
// 4-second auto-tuning target.
const (
	DefaultSaltLen        = 512
	DefaultSpreadDepth    = 3
	DefaultKeyDerivTime   = 4 * time.Second
	DefaultCompressorID   = crypto.CompressorZstd
	DefaultCompressLevel  = 3
	DefaultCipherID       = crypto.CipherChaCha20
	minCompressorLevel    = 1
	maxCompressorLevel    = 19
	minParallelism        = 1
)

// Config is the fully validated, flag-derived configuration the CLI
// passes to internal/sync and internal/manifest. It never carries the
// password itself — that travels as a separate, securely-zeroed byte
// slice read by internal/cli/password.go.
type Config struct {
	SourceDir string
	OutDir    string

	CipherID        crypto.CipherID
	CompressorID    crypto.CompressorID
	CompressorLevel int

	KDFParams          crypto.KDFParams
	UseExplicitKDF     bool // --key-deriv-by-params: params below are authoritative
	KeyDerivTime       time.Duration

	SaltLen     int
	SpreadDepth int
	Parallelism int

	// AdoptManifest mirrors spec §4.7's default: a stored manifest's
	// algorithm choices win over conflicting flags rather than aborting.
	AdoptManifest bool
}

// Default returns the documented CLI defaults, ready for flag overrides.
func Default() Config {
	return Config{
		CipherID:        DefaultCipherID,
		CompressorID:    DefaultCompressorID,
		CompressorLevel: DefaultCompressLevel,
		KDFParams:       crypto.DefaultScryptParams(),
		KeyDerivTime:    DefaultKeyDerivTime,
		SaltLen:         DefaultSaltLen,
		SpreadDepth:     DefaultSpreadDepth,
		Parallelism:     runtime.NumCPU(),
		AdoptManifest:   true,
	}
}

// Validate enforces every tie-break rule named in spec §4.1 before the
// core ever sees the config: compressor level in [1,19], KDF parameters
// in range (delegated to crypto.KDFParams.Validate), spread depth in
// range, and a sane parallelism.
func (c Config) Validate() error {
	if c.SourceDir == "" {
		return cserrors.NewIoError("validate", c.SourceDir, fmt.Errorf("source directory must be set"))
	}
	if c.OutDir == "" {
		return cserrors.NewIoError("validate", c.OutDir, fmt.Errorf("output directory must be set"))
	}
	if c.CompressorLevel < minCompressorLevel || c.CompressorLevel > maxCompressorLevel {
		return cserrors.ErrConfigInvalid
	}
	if c.UseExplicitKDF {
		if err := c.KDFParams.Validate(); err != nil {
			return err
		}
	} else if c.KeyDerivTime <= 0 {
		return cserrors.ErrConfigInvalid
	}
	if err := filename.ValidateSpreadDepth(c.SpreadDepth); err != nil {
		return err
	}
	if c.SaltLen <= 0 {
		return cserrors.ErrConfigInvalid
	}
	if c.Parallelism < minParallelism {
		return cserrors.ErrConfigInvalid
	}
	return nil
}
