package sync

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptsync/internal/crypto"
	cserrors "cryptsync/internal/errors"
	"cryptsync/internal/pipeline"
)

// ProgressFunc is called after every completed unit with a running total,
// so the CLI can redraw a status line without polling.
type ProgressFunc func(filesDone int64, bytesIn, bytesOut int64, elapsed time.Duration)

// Summary tallies what a Run actually did.
type Summary struct {
	Created, Updated, Removed, Skipped int
	FailedPaths                        []string
	BytesIn, BytesOut                  int64
}

// Syncer carries out a plan with a bounded pool of concurrent workers.
// One failing unit never aborts the run: its path is recorded in
// Summary.FailedPaths and every other unit still gets a chance to run.
type Syncer struct {
	OutDir string

	EncSubkey []byte // k_enc
	MacKey    []byte // k_mac

	CipherID        crypto.CipherID
	CompressorID    crypto.CompressorID
	CompressorLevel int
	SaltLen         int

	Parallelism int
	Progress    ProgressFunc
}

// Run executes every unit, skipping ActionSkip units immediately. ctx
// cancellation stops new work from starting and aborts in-flight reads
// at the next chunk boundary; Run still returns the Summary, together
// with ErrCancelled, so callers can report partial progress either way.
func (s *Syncer) Run(ctx context.Context, units []SyncUnit) (*Summary, error) {
	summary := &Summary{}
	var mu sync.Mutex
	var filesDone int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	if s.Parallelism > 0 {
		g.SetLimit(s.Parallelism)
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
			var bytesIn, bytesOut int64
			var err error

			if gctx.Err() == nil {
				switch unit.Action {
				case ActionCreate, ActionUpdate:
					bytesIn, bytesOut, err = s.processWrite(gctx, unit)
				case ActionRemove:
					err = s.processRemove(unit)
				}
			} else {
				err = gctx.Err()
			}

			mu.Lock()
			if err != nil {
				summary.FailedPaths = append(summary.FailedPaths, unitLabel(unit))
			} else {
				switch unit.Action {
				case ActionCreate:
					summary.Created++
				case ActionUpdate:
					summary.Updated++
				case ActionRemove:
					summary.Removed++
				}
				summary.BytesIn += bytesIn
				summary.BytesOut += bytesOut
			}
			done := atomic.AddInt64(&filesDone, 1)
			bIn, bOut := summary.BytesIn, summary.BytesOut
			mu.Unlock()

			if s.Progress != nil {
				s.Progress(done, bIn, bOut, time.Since(start))
			}
			// Per-unit errors are captured above, not propagated: the
			// pool must keep draining the remaining units.
			return nil
		})
	}

	_ = g.Wait()

	if ctx.Err() != nil {
		return summary, cserrors.ErrCancelled
	}
	return summary, nil
}

func unitLabel(u SyncUnit) string {
	if u.RelPath != "" {
		return u.RelPath
	}
	return u.OutputPath
}

// ctxReader checks for cancellation on every Read call, giving
// cooperative cancellation at roughly one check per copy-buffer chunk
// rather than only between whole-file units.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// processWrite encrypts one source file into a staging file beside its
// final output path, fsyncs it, then renames it into place. A failure at
// any point removes the staging file so partial output never lingers.
func (s *Syncer) processWrite(ctx context.Context, u SyncUnit) (int64, int64, error) {
	contentSalt, err := crypto.RandomBytes(s.SaltLen)
	if err != nil {
		return 0, 0, err
	}
	nonce, err := crypto.RandomBytes(s.CipherID.NonceSize())
	if err != nil {
		return 0, 0, err
	}
	fileKey, err := crypto.DeriveFileKey(s.EncSubkey, contentSalt, s.CipherID.KeySize())
	if err != nil {
		return 0, 0, err
	}

	outDir := filepath.Dir(u.OutputPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, 0, cserrors.NewIoError("mkdir", outDir, err)
	}

	tmpPath := u.OutputPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, 0, cserrors.NewIoError("create", tmpPath, err)
	}

	src, err := os.Open(u.SourceAbsPath)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, 0, cserrors.NewIoError("open", u.SourceAbsPath, err)
	}

	result, encErr := pipeline.Encrypt(tmpFile, &ctxReader{ctx: ctx, r: src}, pipeline.EncryptOptions{
		CipherID:        s.CipherID,
		CompressorID:    s.CompressorID,
		CompressorLevel: s.CompressorLevel,
		EncKey:          fileKey,
		MacKey:          s.MacKey,
		Nonce:           nonce,
		ContentSalt:     contentSalt,
		OrigSize:        uint64(u.Size),
		OrigModTime:     u.ModTimeUnix,
		RelPath:         u.RelPath,
	})
	src.Close()
	if encErr != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, 0, encErr
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, 0, cserrors.NewIoError("fsync", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, 0, cserrors.NewIoError("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, u.OutputPath); err != nil {
		os.Remove(tmpPath)
		return 0, 0, cserrors.NewIoError("rename", u.OutputPath, err)
	}

	return result.BytesIn, result.BytesOut, nil
}

func (s *Syncer) processRemove(u SyncUnit) error {
	if err := os.Remove(u.OutputPath); err != nil && !os.IsNotExist(err) {
		return cserrors.NewIoError("remove", u.OutputPath, err)
	}
	pruneEmptyDirs(filepath.Dir(u.OutputPath), s.OutDir)
	return nil
}

// pruneEmptyDirs best-effort removes now-empty spread directories walking
// upward from dir toward (but not including) root. Failures are ignored:
// a directory that isn't actually empty, or a concurrent writer racing
// into it, just stops the walk early.
func pruneEmptyDirs(dir, root string) {
	root = filepath.Clean(root)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
