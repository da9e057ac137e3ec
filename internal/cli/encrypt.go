package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"cryptsync/internal/config"
	"cryptsync/internal/crypto"
	csynclog "cryptsync/internal/log"
	"cryptsync/internal/sync"
	"cryptsync/internal/util"
)

var encryptFlags = config.Default()
var encryptCipherFlag string
var encryptKDFFlag string
var encryptPRFFlag string
var encryptStdinPassword bool
var encryptQuiet bool
var encryptNoAdopt bool

var encryptCmd = &cobra.Command{
	Use:   "encrypt <source>",
	Short: "Mirror <source> into --out-dir as an encrypted, obfuscated tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runEncrypt,
}

func init() {
	f := encryptCmd.Flags()
	f.StringVar(&encryptFlags.OutDir, "out-dir", "", "output directory (required)")
	f.StringVar(&encryptCipherFlag, "cipher", "chacha20", "cipher: chacha20 or aes256cbc")
	f.IntVar(&encryptFlags.CompressorLevel, "compressor-level", config.DefaultCompressLevel, "zstd level 1-19")
	f.StringVar(&encryptKDFFlag, "kdf", "scrypt", "key derivation function: scrypt or pbkdf2")
	f.DurationVar(&encryptFlags.KeyDerivTime, "key-deriv-time", config.DefaultKeyDerivTime, "auto-tune target derivation time")
	f.BoolVar(&encryptFlags.UseExplicitKDF, "key-deriv-by-params", false, "use explicit KDF parameters instead of time-based auto-tuning")
	f.IntVar(&encryptFlags.KDFParams.LogN, "scrypt-log-n", crypto.DefaultLogN, "scrypt log_n (explicit params)")
	f.IntVar(&encryptFlags.KDFParams.R, "scrypt-r", crypto.DefaultR, "scrypt r (explicit params)")
	f.IntVar(&encryptFlags.KDFParams.P, "scrypt-p", crypto.DefaultP, "scrypt p (explicit params)")
	f.IntVar(&encryptFlags.KDFParams.Iterations, "pbkdf2-iterations", 200_000, "pbkdf2 iterations (explicit params)")
	f.StringVar(&encryptPRFFlag, "pbkdf2-prf", "sha512", "pbkdf2 prf: sha256 or sha512")
	f.IntVar(&encryptFlags.SaltLen, "salt-len", config.DefaultSaltLen, "master salt length in bytes")
	f.IntVar(&encryptFlags.SpreadDepth, "spread-depth", config.DefaultSpreadDepth, "spread-tree directory depth")
	f.IntVar(&encryptFlags.Parallelism, "parallelism", encryptFlags.Parallelism, "worker pool size")
	f.BoolVar(&encryptNoAdopt, "no-adopt-manifest", false, "abort with ManifestConflict instead of adopting the stored manifest's algorithm choices")
	f.BoolVar(&encryptStdinPassword, "stdin-password", false, "read the password as a single line from stdin instead of prompting")
	f.BoolVar(&encryptQuiet, "quiet", false, "suppress progress output")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	cfg := encryptFlags
	cfg.SourceDir = args[0]
	cfg.AdoptManifest = !encryptNoAdopt

	cipherID, err := parseCipher(encryptCipherFlag)
	if err != nil {
		return err
	}
	cfg.CipherID = cipherID

	kdfKind, err := parseKDFKind(encryptKDFFlag)
	if err != nil {
		return err
	}
	cfg.KDFParams.Kind = kdfKind
	if kdfKind == crypto.KDFPBKDF2 {
		prf, err := parsePRF(encryptPRFFlag)
		if err != nil {
			return err
		}
		cfg.KDFParams.PRF = prf
	}
	cfg.KDFParams.OutputLen = crypto.DefaultOutputLen

	if err := cfg.Validate(); err != nil {
		return err
	}

	password, err := readOperationPassword(encryptStdinPassword, true)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(password)

	csynclog.Info("encrypt starting", csynclog.String("source", cfg.SourceDir), csynclog.String("out_dir", cfg.OutDir))

	sess, err := bootstrapEncrypt(cfg, password)
	if err != nil {
		return err
	}
	defer sess.Close()
	m := sess.Manifest

	planner := sync.NewPlanner(cfg.SourceDir, cfg.OutDir, sess.Subkeys.Name, m.SpreadDepth, m.SaltLen)
	units, err := planner.Plan()
	if err != nil {
		return err
	}

	var totalBytes int64
	for _, u := range units {
		if u.Action == sync.ActionCreate || u.Action == sync.ActionUpdate {
			totalBytes += u.Size
		}
	}
	reporter := NewReporter(encryptQuiet, len(units), totalBytes)
	globalReporter = reporter
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reporter.BindCancel(cancel)

	syncer := &sync.Syncer{
		OutDir:          cfg.OutDir,
		EncSubkey:       sess.Subkeys.Enc,
		MacKey:          sess.Subkeys.Mac,
		CipherID:        m.CipherID,
		CompressorID:    m.CompressorID,
		CompressorLevel: m.CompressorLevel,
		SaltLen:         m.SaltLen,
		Parallelism:     cfg.Parallelism,
		Progress:        reporter.Progress,
	}

	start := time.Now()
	summary, runErr := syncer.Run(ctx, units)
	reporter.Finish()

	printSummary(reporter, summary, time.Since(start))
	if runErr != nil {
		return runErr
	}
	if len(summary.FailedPaths) > 0 {
		return errPartialFailure{n: len(summary.FailedPaths)}
	}
	return nil
}

func printSummary(r *Reporter, s *sync.Summary, elapsed time.Duration) {
	r.PrintSuccess("created=%d updated=%d skipped=%d removed=%d bytes_in=%s bytes_out=%s elapsed=%s",
		s.Created, s.Updated, s.Skipped, s.Removed, util.Sizeify(s.BytesIn), util.Sizeify(s.BytesOut), elapsed.Round(time.Millisecond))
	for _, p := range s.FailedPaths {
		r.PrintError("failed: %s", p)
	}
}

// readOperationPassword centralizes the stdin-vs-terminal password
// choice shared by encrypt, decrypt and clean: piped input for scripted runs,
// an interactive prompt (with confirmation on encrypt) otherwise.
func readOperationPassword(fromStdin, confirm bool) ([]byte, error) {
	if fromStdin {
		pw, err := ReadPasswordFromStdin()
		if err != nil {
			return nil, err
		}
		if pw == "" {
			return nil, ErrPasswordEmpty
		}
		return []byte(pw), nil
	}
	pw, err := ReadPasswordInteractive(confirm)
	if err != nil {
		return nil, err
	}
	return []byte(pw), nil
}
