package sync

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
	"cryptsync/internal/filename"
	"cryptsync/internal/header"
	"cryptsync/internal/pipeline"
)

// DecryptUnit is one planned reverse-direction action: materializing (or
// skipping) the plaintext counterpart of one encrypted file.
type DecryptUnit struct {
	Action        Action
	EncryptedPath string
	RelPath       string
	OutputPath    string
	Size          int64 // plaintext size, from the file header's orig_size
}

// PlanDecrypt walks encRoot's .csync files, decrypts just the path field
// of each header to learn where its plaintext belongs, and classifies it
// create/update/skip against whatever already sits at that plaintext
// path. Files whose header can't be read or whose path doesn't decrypt
// to a well-formed relative path are silently skipped rather than
// failing the whole plan; Clean, by contrast, deletes .csync files whose
// header cannot be read.
//
// Unlike the forward Planner, PlanDecrypt never plans removals: a
// plaintext directory may hold files cryptsync never wrote, so nothing
// here deletes from it. Pruning the encrypted side for files whose
// source vanished is what the encrypt-direction Planner and Clean are
// for.
func PlanDecrypt(encRoot, outDir string, encSubkey []byte, contentSaltLen int) ([]DecryptUnit, error) {
	var units []DecryptUnit

	walkErr := filepath.WalkDir(encRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != filename.Extension {
			return nil
		}

		unit, planErr := planDecryptUnit(path, encSubkey, outDir, contentSaltLen)
		if planErr != nil {
			return nil
		}
		units = append(units, unit)
		return nil
	})
	if walkErr != nil {
		return nil, cserrors.NewIoError("walk", encRoot, walkErr)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].RelPath < units[j].RelPath })
	return units, nil
}

func planDecryptUnit(path string, encSubkey []byte, outDir string, contentSaltLen int) (DecryptUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return DecryptUnit{}, err
	}
	defer f.Close()

	h, _, err := header.NewReader(f).ReadHeader(contentSaltLen)
	if err != nil {
		return DecryptUnit{}, err
	}

	fileKey, err := crypto.DeriveFileKey(encSubkey, h.ContentSalt, h.CipherID.KeySize())
	if err != nil {
		return DecryptUnit{}, err
	}

	relPath, err := pipeline.DecryptPath(h, fileKey)
	if err != nil {
		return DecryptUnit{}, err
	}

	cleanRel := filepath.FromSlash(relPath)
	if cleanRel == "" || filepath.IsAbs(cleanRel) || cleanRel == ".." || strings.HasPrefix(cleanRel, ".."+string(filepath.Separator)) {
		return DecryptUnit{}, fmt.Errorf("decrypted path %q is not a well-formed relative path", relPath)
	}
	outAbs := filepath.Join(outDir, cleanRel)

	action := ActionCreate
	if info, statErr := os.Stat(outAbs); statErr == nil {
		if uint64(info.Size()) == h.OrigSize && info.ModTime().UnixNano() == h.OrigModTime {
			action = ActionSkip
		} else {
			action = ActionUpdate
		}
	} else if !os.IsNotExist(statErr) {
		return DecryptUnit{}, statErr
	}

	return DecryptUnit{Action: action, EncryptedPath: path, RelPath: cleanRel, OutputPath: outAbs, Size: int64(h.OrigSize)}, nil
}

// Decryptor carries out a decrypt plan with a bounded worker pool, the
// mirror image of Syncer for the reverse direction.
type Decryptor struct {
	EncSubkey      []byte
	MacKey         []byte
	ContentSaltLen int
	Parallelism    int
	Progress       ProgressFunc
}

// Run executes every unit. As with Syncer.Run, one failing unit is
// recorded in Summary.FailedPaths rather than aborting the pool.
func (d *Decryptor) Run(ctx context.Context, units []DecryptUnit) (*Summary, error) {
	summary := &Summary{}
	var mu sync.Mutex
	var filesDone int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	if d.Parallelism > 0 {
		g.SetLimit(d.Parallelism)
	}

	for _, unit := range units {
		unit := unit
		if unit.Action == ActionSkip {
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			var bytesOut int64
			var err error

			if gctx.Err() == nil {
				bytesOut, err = d.processUnit(gctx, unit)
			} else {
				err = gctx.Err()
			}

			mu.Lock()
			if err != nil {
				summary.FailedPaths = append(summary.FailedPaths, unit.RelPath)
			} else {
				switch unit.Action {
				case ActionCreate:
					summary.Created++
				case ActionUpdate:
					summary.Updated++
				}
				summary.BytesOut += bytesOut
			}
			done := atomic.AddInt64(&filesDone, 1)
			bIn, bOut := summary.BytesIn, summary.BytesOut
			mu.Unlock()

			if d.Progress != nil {
				d.Progress(done, bIn, bOut, time.Since(start))
			}
			return nil
		})
	}

	_ = g.Wait()

	if ctx.Err() != nil {
		return summary, cserrors.ErrCancelled
	}
	return summary, nil
}

// processUnit decrypts one file into a staging file beside its final
// plaintext path, restores the original modification time so a rerun
// correctly classifies it as unchanged, then renames it into place.
func (d *Decryptor) processUnit(ctx context.Context, u DecryptUnit) (int64, error) {
	src, err := os.Open(u.EncryptedPath)
	if err != nil {
		return 0, cserrors.NewIoError("open", u.EncryptedPath, err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return 0, cserrors.NewIoError("stat", u.EncryptedPath, err)
	}

	h, headerRaw, err := header.NewReader(src).ReadHeader(d.ContentSaltLen)
	if err != nil {
		return 0, err
	}
	headerEnd, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, cserrors.NewIoError("seek", u.EncryptedPath, err)
	}

	bodyLen := stat.Size() - headerEnd - int64(crypto.MACSize)
	if bodyLen < 0 {
		return 0, cserrors.NewCryptoError("auth", fmt.Errorf("%s: truncated, missing body or trailing tag", u.EncryptedPath))
	}

	tagBuf := make([]byte, crypto.MACSize)
	if _, err := src.Seek(-int64(crypto.MACSize), io.SeekEnd); err != nil {
		return 0, cserrors.NewIoError("seek", u.EncryptedPath, err)
	}
	if _, err := io.ReadFull(src, tagBuf); err != nil {
		return 0, cserrors.NewIoError("read", u.EncryptedPath, err)
	}
	if _, err := src.Seek(headerEnd, io.SeekStart); err != nil {
		return 0, cserrors.NewIoError("seek", u.EncryptedPath, err)
	}

	fileKey, err := crypto.DeriveFileKey(d.EncSubkey, h.ContentSalt, h.CipherID.KeySize())
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(u.OutputPath), 0o755); err != nil {
		return 0, cserrors.NewIoError("mkdir", filepath.Dir(u.OutputPath), err)
	}
	tmpPath := u.OutputPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, cserrors.NewIoError("create", tmpPath, err)
	}

	body := io.LimitReader(src, bodyLen)
	result, decErr := pipeline.Decrypt(tmpFile, &ctxReader{ctx: ctx, r: body}, pipeline.DecryptOptions{
		EncKey:    fileKey,
		MacKey:    d.MacKey,
		Header:    h,
		HeaderRaw: headerRaw,
		StoredTag: tagBuf,
	})
	if decErr != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, decErr
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, cserrors.NewIoError("fsync", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, cserrors.NewIoError("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, u.OutputPath); err != nil {
		os.Remove(tmpPath)
		return 0, cserrors.NewIoError("rename", u.OutputPath, err)
	}

	mtime := time.Unix(0, h.OrigModTime)
	_ = os.Chtimes(u.OutputPath, mtime, mtime)

	return result.BytesOut, nil
}
