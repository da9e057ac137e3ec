package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"time"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"

	cserrors "cryptsync/internal/errors"
)

// KDFKind selects the master-key derivation algorithm. The set is closed:
// CryptSync never infers an algorithm from outside this enum.
type KDFKind byte

const (
	KDFScrypt KDFKind = iota
	KDFPBKDF2
)

func (k KDFKind) String() string {
	switch k {
	case KDFScrypt:
		return "scrypt"
	case KDFPBKDF2:
		return "pbkdf2"
	default:
		return "unknown"
	}
}

// PRFKind selects the pseudo-random function PBKDF2 iterates.
type PRFKind byte

const (
	PRFSHA256 PRFKind = iota
	PRFSHA512
)

func (p PRFKind) hashFunc() func() hash.Hash {
	if p == PRFSHA512 {
		return sha512.New
	}
	return sha256.New
}

// Default master-key derivation parameters, matching the documented CLI
// defaults (scrypt log_n=15, r=8, p=1).
const (
	DefaultLogN      = 15
	DefaultR         = 8
	DefaultP         = 1
	DefaultOutputLen = 32

	minLogN = 10
	maxLogN = 24

	// maxRP bounds scrypt's r and p so each fits the single byte the Root
	// Manifest marshals them into (spec §3's kdf_params wire layout).
	maxRP = 255
)

// KDFParams bundles the algorithm choice and its tunable parameters. It is
// the exact shape stored in the Root Manifest's kdf_params field.
type KDFParams struct {
	Kind       KDFKind
	LogN       int // scrypt: CPU/memory cost exponent, N = 2^LogN
	R          int // scrypt: block size parameter
	P          int // scrypt: parallelization parameter
	PRF        PRFKind
	Iterations int // pbkdf2: iteration count
	OutputLen  int
}

// DefaultScryptParams returns the documented CLI defaults for scrypt.
func DefaultScryptParams() KDFParams {
	return KDFParams{Kind: KDFScrypt, LogN: DefaultLogN, R: DefaultR, P: DefaultP, OutputLen: DefaultOutputLen}
}

// Validate enforces the tie-break rules: scrypt log_n must be in [10,24]
// and r, p must be >=1. PBKDF2 requires a positive iteration count.
func (p KDFParams) Validate() error {
	if p.OutputLen <= 0 {
		return cserrors.NewCryptoError("kdf", fmt.Errorf("output length must be positive, got %d", p.OutputLen))
	}
	switch p.Kind {
	case KDFScrypt:
		if p.LogN < minLogN || p.LogN > maxLogN {
			return cserrors.NewCryptoError("kdf", fmt.Errorf("scrypt log_n %d outside [%d,%d]", p.LogN, minLogN, maxLogN))
		}
		if p.R < 1 || p.R > maxRP {
			return cserrors.NewCryptoError("kdf", fmt.Errorf("scrypt r must be in [1,%d], got %d", maxRP, p.R))
		}
		if p.P < 1 || p.P > maxRP {
			return cserrors.NewCryptoError("kdf", fmt.Errorf("scrypt p must be in [1,%d], got %d", maxRP, p.P))
		}
	case KDFPBKDF2:
		if p.Iterations < 1 {
			return cserrors.NewCryptoError("kdf", fmt.Errorf("pbkdf2 iterations must be >=1, got %d", p.Iterations))
		}
	default:
		return cserrors.NewCryptoError("kdf", fmt.Errorf("unknown kdf kind %d", p.Kind))
	}
	return nil
}

// DeriveMasterKey runs the configured KDF over password and salt, producing
// params.OutputLen bytes of master key material.
//
// CRITICAL: once a Root Manifest has frozen a set of params, they must
// never change for that output tree, or previously written files become
// undecryptable.
func DeriveMasterKey(password, salt []byte, params KDFParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	switch params.Kind {
	case KDFScrypt:
		n := 1 << uint(params.LogN)
		key, err := scrypt.Key(password, salt, n, params.R, params.P, params.OutputLen)
		if err != nil {
			return nil, cserrors.NewCryptoError("kdf", err)
		}
		return key, nil
	case KDFPBKDF2:
		return pbkdf2.Key(password, salt, params.Iterations, params.OutputLen, params.PRF.hashFunc()), nil
	default:
		return nil, cserrors.NewCryptoError("kdf", fmt.Errorf("unknown kdf kind %d", params.Kind))
	}
}

// AutoTuneParams implements the exponential-probe-then-linear-refine
// search for the largest cost parameter whose derivation time does not
// exceed target. For scrypt it probes log_n; for PBKDF2 it probes the
// iteration count. Probing uses a fixed throwaway password/salt pair — the
// timing characteristics of the KDF do not depend on their values.
func AutoTuneParams(target time.Duration, kind KDFKind) (KDFParams, error) {
	probePassword := []byte("cryptsync-autotune-probe")
	probeSalt := make([]byte, 32)

	switch kind {
	case KDFScrypt:
		return autoTuneScrypt(target, probePassword, probeSalt)
	case KDFPBKDF2:
		return autoTunePBKDF2(target, probePassword, probeSalt)
	default:
		return KDFParams{}, cserrors.NewCryptoError("kdf", fmt.Errorf("unknown kdf kind %d", kind))
	}
}

func autoTuneScrypt(target time.Duration, password, salt []byte) (KDFParams, error) {
	logN := minLogN
	var last time.Duration

	// Exponential probe: raise log_n by one (doubling N) until we exceed
	// the target or pass the maximum allowed exponent.
	for logN <= maxLogN {
		params := KDFParams{Kind: KDFScrypt, LogN: logN, R: DefaultR, P: DefaultP, OutputLen: DefaultOutputLen}
		start := time.Now()
		if _, err := DeriveMasterKey(password, salt, params); err != nil {
			return KDFParams{}, err
		}
		last = time.Since(start)
		if last > target {
			break
		}
		logN++
	}

	// logN now either exceeded the target or hit maxLogN; the largest
	// acceptable value is one step back unless we never exceeded target.
	if last <= target {
		return KDFParams{Kind: KDFScrypt, LogN: logN - 1, R: DefaultR, P: DefaultP, OutputLen: DefaultOutputLen}, nil
	}

	// Linear refinement: step back down from logN by one until we're at
	// or under the target again.
	for n := logN - 1; n >= minLogN; n-- {
		params := KDFParams{Kind: KDFScrypt, LogN: n, R: DefaultR, P: DefaultP, OutputLen: DefaultOutputLen}
		start := time.Now()
		if _, err := DeriveMasterKey(password, salt, params); err != nil {
			return KDFParams{}, err
		}
		if time.Since(start) <= target {
			return params, nil
		}
	}

	return KDFParams{Kind: KDFScrypt, LogN: minLogN, R: DefaultR, P: DefaultP, OutputLen: DefaultOutputLen}, nil
}

func autoTunePBKDF2(target time.Duration, password, salt []byte) (KDFParams, error) {
	const (
		startIterations = 10_000
		step            = 10_000
	)

	iterations := startIterations
	var last time.Duration

	for {
		params := KDFParams{Kind: KDFPBKDF2, PRF: PRFSHA512, Iterations: iterations, OutputLen: DefaultOutputLen}
		start := time.Now()
		if _, err := DeriveMasterKey(password, salt, params); err != nil {
			return KDFParams{}, err
		}
		last = time.Since(start)
		if last > target {
			break
		}
		iterations *= 2
	}

	// Linear refinement downward in fixed steps until at or under target.
	for n := iterations - step; n >= startIterations; n -= step {
		params := KDFParams{Kind: KDFPBKDF2, PRF: PRFSHA512, Iterations: n, OutputLen: DefaultOutputLen}
		start := time.Now()
		if _, err := DeriveMasterKey(password, salt, params); err != nil {
			return KDFParams{}, err
		}
		if time.Since(start) <= target {
			return params, nil
		}
	}

	return KDFParams{Kind: KDFPBKDF2, PRF: PRFSHA512, Iterations: startIterations, OutputLen: DefaultOutputLen}, nil
}
