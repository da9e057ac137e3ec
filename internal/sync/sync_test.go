package sync

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"cryptsync/internal/crypto"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func newSyncer(outDir string, encSubkey, macKey []byte) *Syncer {
	return &Syncer{
		OutDir:          outDir,
		EncSubkey:       encSubkey,
		MacKey:          macKey,
		CipherID:        crypto.CipherChaCha20,
		CompressorID:    crypto.CompressorZstd,
		CompressorLevel: 3,
		SaltLen:         16,
		Parallelism:     4,
	}
}

func TestPlanAndRunCreatesFiles(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()

	writeFile(t, filepath.Join(srcDir, "a.txt"), []byte("hello"))
	writeFile(t, filepath.Join(srcDir, "nested", "b.txt"), []byte("world"))

	nameKey := bytes.Repeat([]byte{0x01}, 64)
	encSubkey := bytes.Repeat([]byte{0x02}, 32)
	macKey := bytes.Repeat([]byte{0x03}, 64)

	planner := NewPlanner(srcDir, outDir, nameKey, 2, 16)
	units, err := planner.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	for _, u := range units {
		if u.Action != ActionCreate {
			t.Errorf("unit %s: action = %v, want create", u.RelPath, u.Action)
		}
	}

	s := newSyncer(outDir, encSubkey, macKey)
	summary, err := s.Run(context.Background(), units)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Created != 2 || len(summary.FailedPaths) != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRerunWithoutChangesSkipsEverything(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "a.txt"), []byte("hello"))

	nameKey := bytes.Repeat([]byte{0x04}, 64)
	encSubkey := bytes.Repeat([]byte{0x05}, 32)
	macKey := bytes.Repeat([]byte{0x06}, 64)

	planner := NewPlanner(srcDir, outDir, nameKey, 2, 16)
	s := newSyncer(outDir, encSubkey, macKey)

	units, err := planner.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, err := s.Run(context.Background(), units); err != nil {
		t.Fatalf("Run: %v", err)
	}

	units2, err := planner.Plan()
	if err != nil {
		t.Fatalf("second Plan: %v", err)
	}
	if len(units2) != 1 || units2[0].Action != ActionSkip {
		t.Fatalf("second plan = %+v, want one skip unit", units2)
	}

	summary, err := s.Run(context.Background(), units2)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Skipped != 1 || summary.Created != 0 || summary.Updated != 0 {
		t.Fatalf("second summary = %+v", summary)
	}
}

func TestPlanDetectsRemoval(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	aPath := filepath.Join(srcDir, "a.txt")
	writeFile(t, aPath, []byte("hello"))

	nameKey := bytes.Repeat([]byte{0x07}, 64)
	encSubkey := bytes.Repeat([]byte{0x08}, 32)
	macKey := bytes.Repeat([]byte{0x09}, 64)

	planner := NewPlanner(srcDir, outDir, nameKey, 2, 16)
	s := newSyncer(outDir, encSubkey, macKey)

	units, err := planner.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, err := s.Run(context.Background(), units); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := os.Remove(aPath); err != nil {
		t.Fatal(err)
	}

	units2, err := planner.Plan()
	if err != nil {
		t.Fatalf("second Plan: %v", err)
	}
	if len(units2) != 1 || units2[0].Action != ActionRemove {
		t.Fatalf("second plan = %+v, want one remove unit", units2)
	}

	summary, err := s.Run(context.Background(), units2)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Removed != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	remaining, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("outDir not empty after removal+prune: %v", remaining)
	}
}

func TestPlanDetectsContentChange(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	aPath := filepath.Join(srcDir, "a.txt")
	writeFile(t, aPath, []byte("hello"))

	nameKey := bytes.Repeat([]byte{0x0A}, 64)
	encSubkey := bytes.Repeat([]byte{0x0B}, 32)
	macKey := bytes.Repeat([]byte{0x0C}, 64)

	planner := NewPlanner(srcDir, outDir, nameKey, 2, 16)
	s := newSyncer(outDir, encSubkey, macKey)

	units, err := planner.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, err := s.Run(context.Background(), units); err != nil {
		t.Fatalf("Run: %v", err)
	}

	writeFile(t, aPath, []byte("hello, much longer now"))

	units2, err := planner.Plan()
	if err != nil {
		t.Fatalf("second Plan: %v", err)
	}
	if len(units2) != 1 || units2[0].Action != ActionUpdate {
		t.Fatalf("second plan = %+v, want one update unit", units2)
	}
}

func TestCleanRemovesTamperedFileAndIsIdempotent(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "a.txt"), []byte("hello"))
	writeFile(t, filepath.Join(srcDir, "b.txt"), []byte("world"))

	nameKey := bytes.Repeat([]byte{0x0D}, 64)
	encSubkey := bytes.Repeat([]byte{0x0E}, 32)
	macKey := bytes.Repeat([]byte{0x0F}, 64)

	planner := NewPlanner(srcDir, outDir, nameKey, 2, 16)
	s := newSyncer(outDir, encSubkey, macKey)

	units, err := planner.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, err := s.Run(context.Background(), units); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var victim string
	_ = filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			victim = path
		}
		return nil
	})
	if victim == "" {
		t.Fatal("no output file found to tamper with")
	}

	data, err := os.ReadFile(victim)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(victim, data, 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := Clean(outDir, macKey, 16)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if summary.Removed != 1 || summary.Verified != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	summary2, err := Clean(outDir, macKey, 16)
	if err != nil {
		t.Fatalf("second Clean: %v", err)
	}
	if summary2.Removed != 0 || summary2.Verified != 1 {
		t.Fatalf("second summary = %+v, want idempotent no-op", summary2)
	}
}
