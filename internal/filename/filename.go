// Package filename obfuscates a relative source path into a spread output
// path, per the Content-Addressed Output Path described in the data
// model: spread(hash(p, k_name)) / ciphername(p, k_name) + ".csync".
package filename

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base32"
	"fmt"
	"strings"

	cserrors "cryptsync/internal/errors"
)

// Extension is the suffix appended to every obfuscated output path.
const Extension = ".csync"

// tagEncoding is the filesystem-safe, case-insensitive encoding the spec
// calls for: no path separators, no characters reserved on Windows
// (<>:"/\|?*). The standard RFC 4648 base32 alphabet (A-Z, 2-7),
// upper-case with no padding, satisfies all three; grounded on the same encoding/base32 approach
// Syncthing uses for its own encrypted-folder filename obfuscation.
var tagEncoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)

// MinSpreadDepth and MaxSpreadDepth bound the manifest's spread_depth
// field. The upper bound is generous; the encoded tag for a 64-byte
// HMAC-SHA512 output is 103 characters long, far more than any
// reasonable spread depth would consume.
const (
	MinSpreadDepth = 0
	MaxSpreadDepth = 16
)

// ValidateSpreadDepth enforces the bound at config-parse time, the same
// place other tie-break rules (compressor level, scrypt log_n) are
// enforced.
func ValidateSpreadDepth(depth int) error {
	if depth < MinSpreadDepth || depth > MaxSpreadDepth {
		return cserrors.NewManifestError("spread_depth", fmt.Errorf("spread depth %d outside [%d,%d]", depth, MinSpreadDepth, MaxSpreadDepth))
	}
	return nil
}

// Tag computes HMAC-SHA512(kName, relPath), the one-way fingerprint that
// both the output path and the sync planner's duplicate-detection key
// are derived from.
func Tag(relPath string, kName []byte) []byte {
	mac := hmac.New(sha512.New, kName)
	mac.Write([]byte(relPath))
	return mac.Sum(nil)
}

// Obfuscate computes the spread output path for relPath: spreadDepth
// leading one-character directories, carved off the encoded tag, followed
// by the remainder of the tag as a filename and the .csync suffix.
//
// There is no inverse. Because the tag is a one-way MAC, the output path
// alone never reveals relPath; the original relative path travels inside
// the per-file header instead, encrypted and authenticated by the same
// pipeline as the file body (see internal/pipeline and internal/header).
func Obfuscate(relPath string, kName []byte, spreadDepth int) (string, error) {
	if err := ValidateSpreadDepth(spreadDepth); err != nil {
		return "", err
	}

	encoded := tagEncoding.EncodeToString(Tag(relPath, kName))
	if len(encoded) <= spreadDepth {
		return "", cserrors.NewCryptoError("filename", fmt.Errorf("encoded tag length %d too short for spread depth %d", len(encoded), spreadDepth))
	}

	var b strings.Builder
	for i := 0; i < spreadDepth; i++ {
		b.WriteByte(encoded[i])
		b.WriteByte('/')
	}
	b.WriteString(encoded[spreadDepth:])
	b.WriteString(Extension)
	return b.String(), nil
}
