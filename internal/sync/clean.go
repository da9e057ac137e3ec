package sync

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
	"cryptsync/internal/filename"
	"cryptsync/internal/header"
)

// CleanSummary tallies a Clean run.
type CleanSummary struct {
	Verified     int
	Removed      int
	RemovedPaths []string
}

// Clean walks outDir and deletes any .csync file whose trailing MAC tag
// doesn't verify, then prunes directories left empty by those removals.
// It never repacks or rewrites a surviving file, and never exposes
// plaintext: verification is done by re-running the header and body
// bytes through HMAC-SHA512 and comparing tags, without decrypting or
// decompressing anything. Running Clean twice in a row is a no-op the
// second time, since only already-invalid files are ever removed.
func Clean(outDir string, macKey []byte, contentSaltLen int) (*CleanSummary, error) {
	summary := &CleanSummary{}
	var dirsToPrune []string

	walkErr := filepath.WalkDir(outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != filename.Extension {
			return nil
		}

		if verifyErr := verifyFile(path, macKey, contentSaltLen); verifyErr != nil {
			if rmErr := os.Remove(path); rmErr != nil {
				return cserrors.NewIoError("remove", path, rmErr)
			}
			summary.Removed++
			summary.RemovedPaths = append(summary.RemovedPaths, path)
			dirsToPrune = append(dirsToPrune, filepath.Dir(path))
		} else {
			summary.Verified++
		}
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return summary, nil
		}
		return nil, cserrors.NewIoError("walk", outDir, walkErr)
	}

	for _, dir := range dirsToPrune {
		pruneEmptyDirs(dir, outDir)
	}
	return summary, nil
}

// verifyFile re-derives the trailing MAC tag over a file's header and
// body bytes, without ever decrypting either, and checks it against the
// tag stored on disk.
func verifyFile(path string, macKey []byte, contentSaltLen int) error {
	f, err := os.Open(path)
	if err != nil {
		return cserrors.NewIoError("open", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return cserrors.NewIoError("stat", path, err)
	}

	_, headerRaw, err := header.NewReader(f).ReadHeader(contentSaltLen)
	if err != nil {
		return err
	}

	bodyLen := stat.Size() - int64(len(headerRaw)) - int64(crypto.MACSize)
	if bodyLen < 0 {
		return cserrors.NewCryptoError("auth", fmt.Errorf("%s: truncated, missing body or trailing tag", path))
	}

	mac := crypto.NewMac(macKey)
	mac.Write(headerRaw)
	if _, err := io.CopyN(&macOnlyWriter{mac}, f, bodyLen); err != nil {
		return cserrors.NewIoError("read", path, err)
	}

	tagBuf := make([]byte, crypto.MACSize)
	if _, err := io.ReadFull(f, tagBuf); err != nil {
		return cserrors.NewIoError("read", path, err)
	}

	return header.VerifyTag(mac.Sum(), tagBuf)
}

// macOnlyWriter feeds every byte it receives into a running MAC without
// otherwise retaining or decrypting it.
type macOnlyWriter struct {
	mac *crypto.Mac
}

func (w *macOnlyWriter) Write(p []byte) (int, error) {
	w.mac.Write(p)
	return len(p), nil
}
