// cryptsync mirrors a source directory tree into an output directory
// where every file is independently compressed, authenticated, and
// encrypted, and where file names and directory topology are obfuscated.
//
//   cryptsync encrypt <source> --out-dir <dir>
//   cryptsync decrypt <source> --out-dir <dir>
//   cryptsync clean <dir>
package main

import "cryptsync/internal/cli"

// version is the application version reported by --version.
const version = "v0.1"

func main() {
	cli.Execute(version)
}
