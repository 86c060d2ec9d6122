package repository

import (
	"context"
	"time"

	"github.com/iconidentify/ytclip/internal/domain"
)

// ArtifactRepository owns the temporary files of in-flight clip requests.
type ArtifactRepository interface {
	// Init creates the storage root. Safe to call when it already exists.
	Init() error

	// Allocate reserves unique raw and clip paths for one request.
	// No files are created.
	Allocate(videoID domain.VideoID, ext string) (*domain.Artifacts, error)

	// Cleanup removes whichever artifacts exist and releases the reservation.
	// Missing files are not an error.
	Cleanup(ctx context.Context, a *domain.Artifacts) error

	// Sweep removes unreserved files older than maxAge and returns how many were removed.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)

	// Stats reports current usage of the storage root.
	Stats(ctx context.Context) (*StorageStats, error)
}

// StorageStats describes the storage root.
type StorageStats struct {
	Path      string
	Files     int
	Bytes     int64
	InFlight  int
	Allocated int64 // total reservations since start
	Disk      DiskUsage
}
