package downloader

import (
	"context"
	"io"

	"github.com/iconidentify/ytclip/internal/domain"
)

// Downloader fetches media content from direct resource URLs.
type Downloader interface {
	// Download opens url for streaming, returning the body and its size (-1 if unknown).
	// Caller is responsible for closing the reader.
	Download(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// StreamSource opens a resolved format through the extraction library's own downloader.
// Used when the format carries no direct URL.
type StreamSource interface {
	Stream(ctx context.Context, id domain.VideoID, format domain.StreamFormat) (io.ReadCloser, int64, error)
}

// ProgressFunc receives periodic transfer snapshots during a fetch.
type ProgressFunc func(domain.TransferProgress)

// FetchRequest describes one raw stream transfer to disk.
type FetchRequest struct {
	VideoID    domain.VideoID
	Format     domain.StreamFormat
	Dest       string
	OnProgress ProgressFunc
}
