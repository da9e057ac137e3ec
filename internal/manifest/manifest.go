// Package manifest persists the Root Manifest: the single record at the
// root of every output directory that freezes the algorithm choices used
// for every file beneath it and holds the password verifier. Once
// written, its contents are authoritative (spec §4.7) — a later run's
// CLI flags either adopt the stored values or the run aborts.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
)

// FileName is the reserved sentinel name for the manifest, always located
// at the root of the output directory.
const FileName = "csync.manifest"

// Magic and CurrentVersion let a corrupt or foreign file be rejected
// before any KDF work is attempted, the same rejection-before-crypto
// discipline the per-file header uses.
var Magic = [4]byte{'C', 'S', 'Y', 'M'}

const CurrentVersion byte = 1

// verifierConstant is the fixed public string the password verifier MACs.
// It carries no secret value of its own; its only role is to give
// decrypt something to authenticate against k_mac before any per-file
// work begins.
var verifierConstant = []byte("cryptsync-manifest-verifier-v1")

// Manifest is the parsed, in-memory form of the Root Manifest (spec §3).
type Manifest struct {
	Version         byte
	KDFParams       crypto.KDFParams
	MasterSalt      []byte
	CipherID        crypto.CipherID
	CompressorID    crypto.CompressorID
	CompressorLevel int
	SpreadDepth     int
	SaltLen         int
	MacID           crypto.MacID
	Verifier        []byte // MAC over verifierConstant using k_mac
}

// New builds a Manifest for a freshly initialized output directory. macKey
// is the k_mac subkey derived from the same master key/salt this manifest
// freezes; the verifier is computed once, here, and never recomputed
// except to check a password on a later run.
func New(params crypto.KDFParams, masterSalt []byte, cipherID crypto.CipherID, compressorID crypto.CompressorID, compressorLevel, spreadDepth, saltLen int, macKey []byte) *Manifest {
	mac := crypto.NewMac(macKey)
	mac.Write(verifierConstant)
	return &Manifest{
		Version:         CurrentVersion,
		KDFParams:       params,
		MasterSalt:      masterSalt,
		CipherID:        cipherID,
		CompressorID:    compressorID,
		CompressorLevel: compressorLevel,
		SpreadDepth:     spreadDepth,
		SaltLen:         saltLen,
		MacID:           crypto.MacHMACSHA512,
		Verifier:        mac.Sum(),
	}
}

// VerifyPassword recomputes the verifier MAC with macKey (the k_mac
// subkey derived from the candidate password and this manifest's stored
// master_salt/kdf_params) and compares it in constant time against the
// stored verifier. A decrypt run must call this before touching any
// per-file output (spec §4.3's "verify the password verifier before
// proceeding").
func (m *Manifest) VerifyPassword(macKey []byte) error {
	mac := crypto.NewMac(macKey)
	mac.Write(verifierConstant)
	if !crypto.Equal(mac.Sum(), m.Verifier) {
		return cserrors.ErrPasswordMismatch
	}
	return nil
}

// DesiredConfig is the subset of CLI-supplied algorithm choices that a
// stored manifest can conflict with.
type DesiredConfig struct {
	CipherID        crypto.CipherID
	CompressorID    crypto.CompressorID
	CompressorLevel int
	SpreadDepth     int
}

// CheckConflict compares desired against the stored manifest fields it
// can contradict. adoptStored implements the CLI's default, which
// --no-adopt-manifest turns off: when true, mismatches are silently tolerated because the
// manifest wins; when false, any mismatch is a fatal ErrManifestConflict
// (spec §4.7: "abort with ManifestConflict").
func (m *Manifest) CheckConflict(desired DesiredConfig, adoptStored bool) error {
	if adoptStored {
		return nil
	}
	switch {
	case desired.CipherID != m.CipherID:
		return cserrors.NewManifestError("cipher_id", fmt.Errorf("%w: requested %v, manifest has %v", cserrors.ErrManifestConflict, desired.CipherID, m.CipherID))
	case desired.CompressorID != m.CompressorID:
		return cserrors.NewManifestError("compressor_id", fmt.Errorf("%w: requested %v, manifest has %v", cserrors.ErrManifestConflict, desired.CompressorID, m.CompressorID))
	case desired.CompressorLevel != m.CompressorLevel:
		return cserrors.NewManifestError("compressor_level", fmt.Errorf("%w: requested %d, manifest has %d", cserrors.ErrManifestConflict, desired.CompressorLevel, m.CompressorLevel))
	case desired.SpreadDepth != m.SpreadDepth:
		return cserrors.NewManifestError("spread_depth", fmt.Errorf("%w: requested %d, manifest has %d", cserrors.ErrManifestConflict, desired.SpreadDepth, m.SpreadDepth))
	}
	return nil
}

// Path returns the manifest's fixed location under outDir.
func Path(outDir string) string {
	return filepath.Join(outDir, FileName)
}

// Marshal serializes m in the fixed field order: magic, version, kdf_kind,
// log_n, r, p, prf, iterations (all written whichever kdf is selected),
// output_len, master_salt
// (length-prefixed), cipher_id, compressor_id, compressor_level,
// spread_depth, salt_len, mac_id, verifier (fixed 64 bytes).
func (m *Manifest) Marshal() []byte {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(m.Version)
	buf.WriteByte(byte(m.KDFParams.Kind))
	buf.WriteByte(byte(m.KDFParams.LogN))
	buf.WriteByte(byte(m.KDFParams.R))
	buf.WriteByte(byte(m.KDFParams.P))
	buf.WriteByte(byte(m.KDFParams.PRF))

	var iterBytes [4]byte
	binary.BigEndian.PutUint32(iterBytes[:], uint32(m.KDFParams.Iterations))
	buf.Write(iterBytes[:])

	buf.WriteByte(byte(m.KDFParams.OutputLen))

	var saltLenBytes [2]byte
	binary.BigEndian.PutUint16(saltLenBytes[:], uint16(len(m.MasterSalt)))
	buf.Write(saltLenBytes[:])
	buf.Write(m.MasterSalt)

	buf.WriteByte(byte(m.CipherID))
	buf.WriteByte(byte(m.CompressorID))
	buf.WriteByte(byte(m.CompressorLevel))
	buf.WriteByte(byte(m.SpreadDepth))

	var contentSaltLenBytes [2]byte
	binary.BigEndian.PutUint16(contentSaltLenBytes[:], uint16(m.SaltLen))
	buf.Write(contentSaltLenBytes[:])

	buf.WriteByte(byte(m.MacID))

	buf.Write(m.Verifier)
	return buf.Bytes()
}

// Unmarshal parses data written by Marshal, checking the magic and
// version before any other field (the same rejection-before-crypto
// discipline the per-file header applies).
func Unmarshal(data []byte) (*Manifest, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(Magic))
	if _, err := readFull(r, magic); err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}
	if [4]byte(magic) != Magic {
		return nil, cserrors.NewManifestError("magic", fmt.Errorf("%w: not a CryptSync manifest", cserrors.ErrManifestCorrupt))
	}

	version, err := r.ReadByte()
	if err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}
	if version != CurrentVersion {
		return nil, cserrors.NewManifestError("version", fmt.Errorf("%w: unsupported manifest version %d", cserrors.ErrManifestCorrupt, version))
	}

	fields := make([]byte, 5)
	if _, err := readFull(r, fields); err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}
	kind := crypto.KDFKind(fields[0])
	logN := int(fields[1])
	rParam := int(fields[2])
	pParam := int(fields[3])
	prf := crypto.PRFKind(fields[4])

	iterBytes := make([]byte, 4)
	if _, err := readFull(r, iterBytes); err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}
	iterations := int(binary.BigEndian.Uint32(iterBytes))

	outputLenByte, err := r.ReadByte()
	if err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}

	saltLenBytes := make([]byte, 2)
	if _, err := readFull(r, saltLenBytes); err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}
	masterSaltLen := binary.BigEndian.Uint16(saltLenBytes)
	masterSalt := make([]byte, masterSaltLen)
	if masterSaltLen > 0 {
		if _, err := readFull(r, masterSalt); err != nil {
			return nil, cserrors.ErrManifestCorrupt
		}
	}

	remaining := make([]byte, 4)
	if _, err := readFull(r, remaining); err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}
	cipherID := crypto.CipherID(remaining[0])
	compressorID := crypto.CompressorID(remaining[1])
	compressorLevel := int(remaining[2])
	spreadDepth := int(remaining[3])

	contentSaltLenBytes := make([]byte, 2)
	if _, err := readFull(r, contentSaltLenBytes); err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}
	contentSaltLen := int(binary.BigEndian.Uint16(contentSaltLenBytes))

	macIDByte, err := r.ReadByte()
	if err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}
	macID := crypto.MacID(macIDByte)

	verifier := make([]byte, crypto.MACSize)
	if _, err := readFull(r, verifier); err != nil {
		return nil, cserrors.ErrManifestCorrupt
	}

	return &Manifest{
		Version: version,
		KDFParams: crypto.KDFParams{
			Kind:       kind,
			LogN:       logN,
			R:          rParam,
			P:          pParam,
			PRF:        prf,
			Iterations: iterations,
			OutputLen:  int(outputLenByte),
		},
		MasterSalt:      masterSalt,
		CipherID:        cipherID,
		CompressorID:    compressorID,
		CompressorLevel: compressorLevel,
		SpreadDepth:     spreadDepth,
		SaltLen:         contentSaltLen,
		MacID:           macID,
		Verifier:        verifier,
	}, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Save atomically writes m to outDir via a temp file in the same
// directory followed by fsync + rename, matching the staging-then-rename
// discipline every per-file write in the syncer also follows.
func Save(outDir string, m *Manifest) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return cserrors.NewIoError("mkdir", outDir, err)
	}

	tmp, err := os.CreateTemp(outDir, ".csync.manifest.tmp-*")
	if err != nil {
		return cserrors.NewIoError("create", outDir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(m.Marshal()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return cserrors.NewIoError("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return cserrors.NewIoError("fsync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return cserrors.NewIoError("close", tmpName, err)
	}

	if err := os.Rename(tmpName, Path(outDir)); err != nil {
		_ = os.Remove(tmpName)
		return cserrors.NewIoError("rename", Path(outDir), err)
	}
	return nil
}

// Load reads and parses the manifest at outDir. A missing manifest is
// reported as ErrManifestMissing, distinct from a present-but-corrupt one
// (ErrManifestCorrupt), so callers can tell "first run, initialize" apart
// from "something is wrong".
func Load(outDir string) (*Manifest, error) {
	data, err := os.ReadFile(Path(outDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cserrors.ErrManifestMissing
		}
		return nil, cserrors.NewIoError("read", Path(outDir), err)
	}
	return Unmarshal(data)
}

// Exists reports whether a manifest is already present at outDir, used by
// the encrypt command to decide between "initialize a fresh output
// directory" and "continue an existing one".
func Exists(outDir string) bool {
	_, err := os.Stat(Path(outDir))
	return err == nil
}
