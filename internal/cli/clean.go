package cli

import (
	"github.com/spf13/cobra"

	"cryptsync/internal/crypto"
	csynclog "cryptsync/internal/log"
	"cryptsync/internal/sync"
)

var cleanStdinPassword bool
var cleanQuiet bool

var cleanCmd = &cobra.Command{
	Use:   "clean <dir>",
	Short: "Verify every .csync file under <dir> and delete any that fail authentication",
	Args:  cobra.ExactArgs(1),
	RunE:  runClean,
}

func init() {
	f := cleanCmd.Flags()
	f.BoolVar(&cleanStdinPassword, "stdin-password", false, "read the password as a single line from stdin instead of prompting")
	f.BoolVar(&cleanQuiet, "quiet", false, "suppress progress output")
}

func runClean(cmd *cobra.Command, args []string) error {
	dir := args[0]

	password, err := readOperationPassword(cleanStdinPassword, false)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(password)

	csynclog.Info("clean starting", csynclog.String("dir", dir))

	sess, err := bootstrapDecrypt(dir, password)
	if err != nil {
		return err
	}
	defer sess.Close()

	summary, err := sync.Clean(dir, sess.Subkeys.Mac, sess.Manifest.SaltLen)
	if err != nil {
		return err
	}

	reporter := NewReporter(cleanQuiet, 0, 0)
	reporter.PrintSuccess("verified=%d removed=%d", summary.Verified, summary.Removed)
	for _, p := range summary.RemovedPaths {
		reporter.PrintError("removed: %s", p)
	}
	return nil
}
