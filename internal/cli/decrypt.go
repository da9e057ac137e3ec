package cli

import (
	"context"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
	csynclog "cryptsync/internal/log"
	"cryptsync/internal/sync"
)

var (
	decryptOutDir        string
	decryptParallelism   int
	decryptStdinPassword bool
	decryptQuiet         bool
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt <encrypted-source>",
	Short: "Reconstruct the plaintext tree from an encrypted source into --out-dir",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecrypt,
}

func init() {
	f := decryptCmd.Flags()
	f.StringVar(&decryptOutDir, "out-dir", "", "plaintext output directory (required)")
	f.IntVar(&decryptParallelism, "parallelism", runtime.NumCPU(), "worker pool size")
	f.BoolVar(&decryptStdinPassword, "stdin-password", false, "read the password as a single line from stdin instead of prompting")
	f.BoolVar(&decryptQuiet, "quiet", false, "suppress progress output")
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	encRoot := args[0]
	if decryptOutDir == "" {
		return cserrors.ErrConfigInvalid
	}

	password, err := readOperationPassword(decryptStdinPassword, false)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(password)

	csynclog.Info("decrypt starting", csynclog.String("source", encRoot), csynclog.String("out_dir", decryptOutDir))

	sess, err := bootstrapDecrypt(encRoot, password)
	if err != nil {
		return err
	}
	defer sess.Close()
	m := sess.Manifest

	units, err := sync.PlanDecrypt(encRoot, decryptOutDir, sess.Subkeys.Enc, m.SaltLen)
	if err != nil {
		return err
	}

	var totalBytes int64
	for _, u := range units {
		if u.Action == sync.ActionCreate || u.Action == sync.ActionUpdate {
			totalBytes += u.Size
		}
	}
	reporter := NewReporter(decryptQuiet, len(units), totalBytes)
	globalReporter = reporter
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reporter.BindCancel(cancel)

	decryptor := &sync.Decryptor{
		EncSubkey:      sess.Subkeys.Enc,
		MacKey:         sess.Subkeys.Mac,
		ContentSaltLen: m.SaltLen,
		Parallelism:    decryptParallelism,
		Progress:       reporter.Progress,
	}

	start := time.Now()
	summary, runErr := decryptor.Run(ctx, units)
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
