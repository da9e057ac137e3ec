package cli

import (
	"fmt"

	"cryptsync/internal/config"
	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
	"cryptsync/internal/manifest"
)

// session bundles the Root Manifest and the derived subkeys a run needs.
// Callers must defer session.Close to zero the subkeys once the run
// finishes.
type session struct {
	Manifest *manifest.Manifest
	Subkeys  *crypto.Subkeys
}

func (s *session) Close() {
	if s == nil {
		return
	}
	s.Subkeys.Close()
}

// bootstrapEncrypt implements spec §4.3's "on encrypt" key-schedule: if
// the output directory already has a manifest, its stored parameters and
// salt are authoritative and the password is verified against them
// before anything else happens; otherwise a fresh master_salt and
// kdf_params (auto-tuned or explicit, per cfg) are generated and frozen
// into a brand-new manifest.
func bootstrapEncrypt(cfg config.Config, password []byte) (*session, error) {
	if manifest.Exists(cfg.OutDir) {
		m, err := manifest.Load(cfg.OutDir)
		if err != nil {
			return nil, err
		}
		masterKey, err := crypto.DeriveMasterKey(password, m.MasterSalt, m.KDFParams)
		if err != nil {
			return nil, err
		}
		defer crypto.SecureZero(masterKey)
		subkeys, err := crypto.DeriveSubkeys(masterKey, m.MasterSalt)
		if err != nil {
			return nil, err
		}
		if err := m.VerifyPassword(subkeys.Mac); err != nil {
			subkeys.Close()
			return nil, err
		}
		desired := manifest.DesiredConfig{
			CipherID:        cfg.CipherID,
			CompressorID:    cfg.CompressorID,
			CompressorLevel: cfg.CompressorLevel,
			SpreadDepth:     cfg.SpreadDepth,
		}
		if err := m.CheckConflict(desired, cfg.AdoptManifest); err != nil {
			subkeys.Close()
			return nil, err
		}
		return &session{Manifest: m, Subkeys: subkeys}, nil
	}

	params := cfg.KDFParams
	if !cfg.UseExplicitKDF {
		tuned, err := crypto.AutoTuneParams(cfg.KeyDerivTime, params.Kind)
		if err != nil {
			return nil, err
		}
		params = tuned
	}

	masterSalt, err := crypto.RandomBytes(cfg.SaltLen)
	if err != nil {
		return nil, err
	}
	masterKey, err := crypto.DeriveMasterKey(password, masterSalt, params)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZero(masterKey)

	subkeys, err := crypto.DeriveSubkeys(masterKey, masterSalt)
	if err != nil {
		return nil, err
	}

	m := manifest.New(params, masterSalt, cfg.CipherID, cfg.CompressorID, cfg.CompressorLevel, cfg.SpreadDepth, cfg.SaltLen, subkeys.Mac)
	if err := manifest.Save(cfg.OutDir, m); err != nil {
		subkeys.Close()
		return nil, err
	}
	return &session{Manifest: m, Subkeys: subkeys}, nil
}

// bootstrapDecrypt implements spec §4.3's "on decrypt" key-schedule: read
// the Root Manifest, rerun the stored KDF, and verify the password
// verifier before any per-file work is attempted.
func bootstrapDecrypt(outDir string, password []byte) (*session, error) {
	m, err := manifest.Load(outDir)
	if err != nil {
		return nil, err
	}
	masterKey, err := crypto.DeriveMasterKey(password, m.MasterSalt, m.KDFParams)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZero(masterKey)

	subkeys, err := crypto.DeriveSubkeys(masterKey, m.MasterSalt)
	if err != nil {
		return nil, err
	}
	if err := m.VerifyPassword(subkeys.Mac); err != nil {
		subkeys.Close()
		return nil, err
	}
	return &session{Manifest: m, Subkeys: subkeys}, nil
}

// parseCipher, parseKDFKind and parsePRF translate the --cipher, --kdf and
// --pbkdf2-prf flag strings into their tagged-variant ids, rejecting anything outside
// the closed set named in spec §4.1.
func parseCipher(s string) (crypto.CipherID, error) {
	switch s {
	case "chacha20":
		return crypto.CipherChaCha20, nil
	case "aes256cbc":
		return crypto.CipherAES256CBC, nil
	default:
		return 0, fmt.Errorf("%w: unknown cipher %q", cserrors.ErrConfigInvalid, s)
	}
}

func parseKDFKind(s string) (crypto.KDFKind, error) {
	switch s {
	case "scrypt":
		return crypto.KDFScrypt, nil
	case "pbkdf2":
		return crypto.KDFPBKDF2, nil
	default:
		return 0, fmt.Errorf("%w: unknown kdf %q", cserrors.ErrConfigInvalid, s)
	}
}

func parsePRF(s string) (crypto.PRFKind, error) {
	switch s {
	case "sha256":
		return crypto.PRFSHA256, nil
	case "sha512":
		return crypto.PRFSHA512, nil
	default:
		return 0, fmt.Errorf("%w: unknown pbkdf2 prf %q", cserrors.ErrConfigInvalid, s)
	}
}
