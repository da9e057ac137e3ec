// Package sync walks a source tree and an encrypted output tree, plans
// the minimal set of create/update/skip/remove actions between them, and
// carries those actions out with a bounded worker pool.
package sync

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	cserrors "cryptsync/internal/errors"
	"cryptsync/internal/filename"
	"cryptsync/internal/header"
)

// Action classifies what a SyncUnit requires.
type Action int

const (
	ActionSkip Action = iota
	ActionCreate
	ActionUpdate
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// SyncUnit is one planned file-level action. SourceAbsPath and RelPath
// are empty for ActionRemove, since the source side no longer exists.
type SyncUnit struct {
	Action        Action
	SourceAbsPath string
	RelPath       string
	OutputPath    string
	ModTimeUnix   int64
	Size          int64
}

// Planner compares a source directory against the obfuscated output tree
// under OutDir and decides, per file, whether it needs writing.
type Planner struct {
	SourceRoot     string
	OutDir         string
	NameKey        []byte
	SpreadDepth    int
	ContentSaltLen int
}

// NewPlanner constructs a Planner over the given source/output roots.
func NewPlanner(sourceRoot, outDir string, nameKey []byte, spreadDepth, contentSaltLen int) *Planner {
	return &Planner{
		SourceRoot:     sourceRoot,
		OutDir:         outDir,
		NameKey:        nameKey,
		SpreadDepth:    spreadDepth,
		ContentSaltLen: contentSaltLen,
	}
}

// Plan walks SourceRoot, classifies every regular file against its
// expected output path, and appends removal units for any output file
// that no longer corresponds to a source file. The result is sorted by
// relative source path so callers get deterministic, reproducible runs.
func (p *Planner) Plan() ([]SyncUnit, error) {
	var units []SyncUnit
	expected := make(map[string]bool)

	walkErr := filepath.WalkDir(p.SourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinks, sockets, devices etc. are not synced: their
			// "content" isn't a byte stream this pipeline can authenticate.
			return nil
		}

		relPath, err := filepath.Rel(p.SourceRoot, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		outRel, err := filename.Obfuscate(relPath, p.NameKey, p.SpreadDepth)
		if err != nil {
			return err
		}
		outAbs := filepath.Join(p.OutDir, outRel)
		expected[outAbs] = true

		action, err := p.classify(outAbs, info)
		if err != nil {
			return err
		}

		units = append(units, SyncUnit{
			Action:        action,
			SourceAbsPath: path,
			RelPath:       relPath,
			OutputPath:    outAbs,
			ModTimeUnix:   info.ModTime().UnixNano(),
			Size:          info.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, cserrors.NewIoError("walk", p.SourceRoot, walkErr)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].RelPath < units[j].RelPath })

	removals, err := p.planRemovals(expected)
	if err != nil {
		return nil, err
	}
	return append(units, removals...), nil
}

// classify decides what must happen to reach parity for one source file.
// The existing output header's authenticated-but-advisory OrigSize and
// OrigModTime are used as a fast pre-filter: any mismatch, or absence of
// a readable header at all, means the file is (re)written.
func (p *Planner) classify(outAbs string, info fs.FileInfo) (Action, error) {
	f, err := os.Open(outAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return ActionCreate, nil
		}
		return ActionSkip, cserrors.NewIoError("open", outAbs, err)
	}
	defer f.Close()

	h, _, err := header.NewReader(f).ReadHeader(p.ContentSaltLen)
	if err != nil {
		// Unreadable or foreign file sitting at the expected path: treat
		// it as needing replacement rather than failing the whole plan.
		return ActionUpdate, nil
	}

	if h.OrigSize == uint64(info.Size()) && h.OrigModTime == info.ModTime().UnixNano() {
		return ActionSkip, nil
	}
	return ActionUpdate, nil
}

// planRemovals finds every .csync file under OutDir that isn't in
// expected, meaning its source file was deleted or renamed.
func (p *Planner) planRemovals(expected map[string]bool) ([]SyncUnit, error) {
	if _, err := os.Stat(p.OutDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cserrors.NewIoError("stat", p.OutDir, err)
	}

	var removals []SyncUnit
	walkErr := filepath.WalkDir(p.OutDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != filename.Extension {
			return nil
		}
		if expected[path] {
			return nil
		}
		removals = append(removals, SyncUnit{Action: ActionRemove, OutputPath: path})
		return nil
	})
	if walkErr != nil {
		return nil, cserrors.NewIoError("walk", p.OutDir, walkErr)
	}
	return removals, nil
}
