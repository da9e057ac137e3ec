// Package cli wires the validated configuration, password prompt, and
// sync engine together into the cryptsync command-line tool. It is the
// only package that touches os.Args, flag parsing, or the terminal; the
// core packages it calls into never re-parse a flag or re-derive a
// config value on their own (spec §6's "CLI parser delivers a fully
// validated configuration struct" contract).
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by Execute from the version string main.go passes in.
var Version = "dev"

// rootCmd is the base command when cryptsync is invoked without a
// recognized subcommand.
var rootCmd = &cobra.Command{
	Use:   "cryptsync",
	Short: "Mirror a directory into an encrypted, obfuscated sync tree",
	Long: `cryptsync mirrors a source directory into an output directory where
every file is independently compressed, authenticated, and encrypted, and
where file names and directory topology are obfuscated. Because each
source file maps to exactly one output artifact, subsequent runs
re-process only the files whose content or metadata changed.

  cryptsync encrypt <source> --out-dir <dir>
  cryptsync decrypt <source> --out-dir <dir>
  cryptsync clean <dir>`,
	Version: Version,
}

// globalReporter lets the SIGINT/SIGTERM handler below reach whichever
// Reporter the running subcommand created, so Ctrl-C cancels the
// in-flight run cooperatively instead of killing the process mid-write.
var globalReporter *Reporter

// Execute parses os.Args and runs the matching subcommand, exiting the
// process with the code documented in spec §6.
func Execute(version string) {
	Version = version
	rootCmd.Version = version

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if globalReporter != nil {
			globalReporter.Cancel()
			fmt.Fprintln(os.Stderr, "\nCancelling, finishing in-flight files...")
		} else {
			os.Exit(int(exitUserError))
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(int(exitCodeFor(err)))
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(encryptCmd, decryptCmd, cleanCmd)
}
