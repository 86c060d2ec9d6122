package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/ytclip/internal/config"
	"github.com/iconidentify/ytclip/internal/domain"
)

// FilesystemArtifactRepository implements ArtifactRepository under a single temp directory.
type FilesystemArtifactRepository struct {
	root      string
	logger    *slog.Logger
	mu        sync.Mutex
	active    map[string]struct{} // reserved paths
	allocated int64
}

// NewFilesystemArtifactRepository creates a new filesystem-based artifact repository.
func NewFilesystemArtifactRepository(cfg config.StorageConfig, logger *slog.Logger) *FilesystemArtifactRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilesystemArtifactRepository{
		root:   cfg.TempPath,
		logger: logger,
		active: make(map[string]struct{}),
	}
}

// Init creates the storage root.
func (r *FilesystemArtifactRepository) Init() error {
	if err := os.MkdirAll(r.root, 0755); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	return nil
}

// Allocate reserves <root>/<videoID>-<requestID>.<ext> and the matching -clip path.
func (r *FilesystemArtifactRepository) Allocate(videoID domain.VideoID, ext string) (*domain.Artifacts, error) {
	name := safeName(videoID.String())
	if name == "" {
		return nil, fmt.Errorf("allocate artifacts: empty video ID")
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" || safeName(ext) != ext {
		return nil, fmt.Errorf("allocate artifacts: invalid extension %q", ext)
	}

	requestID := uuid.New().String()
	base := filepath.Join(r.root, name+"-"+requestID)
	a := &domain.Artifacts{
		RequestID: requestID,
		VideoID:   videoID,
		RawPath:   base + "." + ext,
		ClipPath:  base + "-clip." + ext,
	}

	r.mu.Lock()
	for _, p := range a.Paths() {
		r.active[p] = struct{}{}
	}
	r.allocated++
	r.mu.Unlock()

	return a, nil
}

// Cleanup removes both artifacts. Every failure is wrapped with domain.ErrCleanup.
func (r *FilesystemArtifactRepository) Cleanup(ctx context.Context, a *domain.Artifacts) error {
	if a == nil {
		return nil
	}

	var errs []error
	for _, p := range a.Paths() {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%w: %s: %v", domain.ErrCleanup, filepath.Base(p), err))
		}
	}

	r.mu.Lock()
	for _, p := range a.Paths() {
		delete(r.active, p)
	}
	r.mu.Unlock()

	return errors.Join(errs...)
}

// Sweep removes files left behind by crashed or killed requests.
func (r *FilesystemArtifactRepository) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read temp directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if e.IsDir() {
			continue
		}

		path := filepath.Join(r.root, e.Name())
		if r.isActive(path) {
			continue
		}

		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("sweep failed to remove file", "path", path, "error", err)
			continue
		}
		removed++
	}

	return removed, nil
}

// Stats reports file count and size under the root.
func (r *FilesystemArtifactRepository) Stats(ctx context.Context) (*StorageStats, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("read temp directory: %w", err)
	}

	stats := &StorageStats{Path: r.root}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Files++
		stats.Bytes += info.Size()
	}

	if usage, err := VolumeUsage(r.root); err == nil {
		stats.Disk = usage
	}

	r.mu.Lock()
	stats.InFlight = len(r.active) / 2
	stats.Allocated = r.allocated
	r.mu.Unlock()

	return stats, nil
}

func (r *FilesystemArtifactRepository) isActive(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[path]
	return ok
}

// safeName keeps only characters that cannot escape the storage root.
func safeName(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
