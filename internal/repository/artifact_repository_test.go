package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/ytclip/internal/config"
	"github.com/iconidentify/ytclip/internal/domain"
)

func newTestRepo(t *testing.T) (*FilesystemArtifactRepository, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "temp")
	repo := NewFilesystemArtifactRepository(
		config.StorageConfig{TempPath: root},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	if err := repo.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return repo, root
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	return len(entries)
}

func TestInit_Idempotent(t *testing.T) {
	repo, _ := newTestRepo(t)
	if err := repo.Init(); err != nil {
		t.Errorf("second Init should succeed, got %v", err)
	}
}

func TestAllocate_Paths(t *testing.T) {
	repo, root := newTestRepo(t)

	a, err := repo.Allocate("dQw4w9WgXcQ", "mp4")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if a.RequestID == "" {
		t.Error("RequestID should be set")
	}
	wantRaw := filepath.Join(root, "dQw4w9WgXcQ-"+a.RequestID+".mp4")
	if a.RawPath != wantRaw {
		t.Errorf("RawPath = %q, want %q", a.RawPath, wantRaw)
	}
	wantClip := filepath.Join(root, "dQw4w9WgXcQ-"+a.RequestID+"-clip.mp4")
	if a.ClipPath != wantClip {
		t.Errorf("ClipPath = %q, want %q", a.ClipPath, wantClip)
	}
	if countFiles(t, root) != 0 {
		t.Error("Allocate must not create files")
	}
}

func TestAllocate_SameVideoDoesNotCollide(t *testing.T) {
	repo, _ := newTestRepo(t)

	a, _ := repo.Allocate("abc", "mp4")
	b, _ := repo.Allocate("abc", "mp4")

	if a.RawPath == b.RawPath || a.ClipPath == b.ClipPath {
		t.Errorf("concurrent requests for one video share paths: %+v %+v", a, b)
	}
}

func TestAllocate_StaysInsideRoot(t *testing.T) {
	repo, root := newTestRepo(t)

	a, err := repo.Allocate("../../etc/passwd", "mp4")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	for _, p := range a.Paths() {
		if filepath.Dir(p) != root {
			t.Errorf("path %q escapes root %q", p, root)
		}
	}
}

func TestAllocate_InvalidInput(t *testing.T) {
	repo, _ := newTestRepo(t)

	if _, err := repo.Allocate("", "mp4"); err == nil {
		t.Error("expected error for empty video ID")
	}
	if _, err := repo.Allocate("abc", "mp4/../x"); err == nil {
		t.Error("expected error for unsafe extension")
	}
	if a, err := repo.Allocate("abc", ".webm"); err != nil || !strings.HasSuffix(a.RawPath, ".webm") {
		t.Errorf("leading dot should be accepted, got %v %v", a, err)
	}
}

func TestCleanup_RemovesExisting(t *testing.T) {
	repo, root := newTestRepo(t)
	a, _ := repo.Allocate("abc", "mp4")

	os.WriteFile(a.RawPath, []byte("raw"), 0644)
	os.WriteFile(a.ClipPath, []byte("clip"), 0644)

	if err := repo.Cleanup(context.Background(), a); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n := countFiles(t, root); n != 0 {
		t.Errorf("%d files left after cleanup", n)
	}
}

func TestCleanup_MissingFilesAreFine(t *testing.T) {
	repo, _ := newTestRepo(t)
	a, _ := repo.Allocate("abc", "mp4")

	// Only the raw file was ever created, as after a failed trim.
	os.WriteFile(a.RawPath, []byte("raw"), 0644)

	if err := repo.Cleanup(context.Background(), a); err != nil {
		t.Errorf("Cleanup should ignore missing files, got %v", err)
	}
	if err := repo.Cleanup(context.Background(), a); err != nil {
		t.Errorf("repeated Cleanup should be harmless, got %v", err)
	}
	if err := repo.Cleanup(context.Background(), nil); err != nil {
		t.Errorf("nil artifacts should be a no-op, got %v", err)
	}
}

func TestCleanup_ReportsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory removal semantics differ on windows")
	}
	repo, _ := newTestRepo(t)
	a, _ := repo.Allocate("abc", "mp4")

	// A non-empty directory at the artifact path cannot be removed with os.Remove.
	os.MkdirAll(filepath.Join(a.RawPath, "child"), 0755)

	err := repo.Cleanup(context.Background(), a)
	if !errors.Is(err, domain.ErrCleanup) {
		t.Errorf("err = %v, want ErrCleanup", err)
	}
}

func TestSweep(t *testing.T) {
	repo, root := newTestRepo(t)

	stale := filepath.Join(root, "old-request.mp4")
	fresh := filepath.Join(root, "new-request.mp4")
	os.WriteFile(stale, []byte("x"), 0644)
	os.WriteFile(fresh, []byte("x"), 0644)
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(stale, old, old)

	// An in-flight artifact survives even when old.
	a, _ := repo.Allocate("abc", "mp4")
	os.WriteFile(a.RawPath, []byte("x"), 0644)
	os.Chtimes(a.RawPath, old, old)

	removed, err := repo.Sweep(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh file should be kept")
	}
	if _, err := os.Stat(a.RawPath); err != nil {
		t.Error("in-flight artifact should be kept")
	}
}

func TestSweep_MissingRoot(t *testing.T) {
	repo := NewFilesystemArtifactRepository(config.StorageConfig{TempPath: filepath.Join(t.TempDir(), "missing")}, nil)

	removed, err := repo.Sweep(context.Background(), time.Hour)
	if err != nil || removed != 0 {
		t.Errorf("Sweep = %d, %v; want 0, nil", removed, err)
	}
}

func TestStats(t *testing.T) {
	repo, root := newTestRepo(t)

	a, _ := repo.Allocate("abc", "mp4")
	os.WriteFile(a.RawPath, []byte("12345"), 0644)
	os.WriteFile(filepath.Join(root, "other.mp4"), []byte("123"), 0644)

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.Files != 2 {
		t.Errorf("Files = %d, want 2", stats.Files)
	}
	if stats.Bytes != 8 {
		t.Errorf("Bytes = %d, want 8", stats.Bytes)
	}
	if stats.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", stats.InFlight)
	}
	if stats.Allocated != 1 {
		t.Errorf("Allocated = %d, want 1", stats.Allocated)
	}
}
