package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iconidentify/ytclip/internal/config"
	"github.com/iconidentify/ytclip/internal/domain"
)

// ErrStalled is returned when no data arrives for the configured read timeout.
var ErrStalled = errors.New("download stalled")

// progressInterval is the minimum spacing between progress callbacks.
const progressInterval = 500 * time.Millisecond

// Fetcher materializes a resolved format as a local file.
type Fetcher struct {
	direct      Downloader
	library     StreamSource
	readTimeout time.Duration
	logger      *slog.Logger
}

// NewFetcher creates a Fetcher. direct serves formats with a resource URL,
// library serves the rest.
func NewFetcher(direct Downloader, library StreamSource, cfg config.DownloadConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		direct:      direct,
		library:     library,
		readTimeout: cfg.ReadTimeout,
		logger:      logger,
	}
}

// Fetch streams the format into req.Dest and returns the number of bytes written.
// Exactly one of the direct or library paths runs. The destination must not exist.
// A partially written file is left in place for the caller to clean up.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, total, path, err := f.open(ctx, req)
	if err != nil {
		return 0, err
	}

	file, err := os.OpenFile(req.Dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		body.Close()
		return 0, fmt.Errorf("create %s: %w", req.Dest, err)
	}

	pr := newProgressReader(body, total, f.readTimeout, cancel, req.OnProgress, f.logger.With(
		"video_id", req.VideoID,
		"path", path,
	))
	n, copyErr := io.Copy(file, pr)
	pr.Close()
	closeErr := file.Close()

	if copyErr != nil {
		if pr.isStalled() {
			return n, fmt.Errorf("%w: no data for %v", ErrStalled, f.readTimeout)
		}
		return n, fmt.Errorf("copy stream: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w", req.Dest, closeErr)
	}
	if n == 0 {
		return 0, domain.ErrEmptyArtifact
	}
	if total > 0 && n != total {
		return n, fmt.Errorf("short transfer: got %d of %d bytes: %w", n, total, io.ErrUnexpectedEOF)
	}

	f.logger.Info("stream fetched",
		"video_id", req.VideoID,
		"path", path,
		"itag", req.Format.Itag,
		"bytes", n,
	)
	return n, nil
}

func (f *Fetcher) open(ctx context.Context, req FetchRequest) (io.ReadCloser, int64, string, error) {
	if req.Format.HasDirectURL() {
		if f.direct == nil {
			return nil, 0, "", errors.New("no direct downloader configured")
		}
		body, total, err := f.direct.Download(ctx, req.Format.URL)
		if err != nil {
			return nil, 0, "", fmt.Errorf("direct download: %w", err)
		}
		return body, total, "direct", nil
	}

	if f.library == nil {
		return nil, 0, "", errors.New("format has no direct URL and no stream source is configured")
	}
	body, total, err := f.library.Stream(ctx, req.VideoID, req.Format)
	if err != nil {
		return nil, 0, "", fmt.Errorf("library stream: %w", err)
	}
	return body, total, "library", nil
}

// progressReader wraps an io.ReadCloser to track download progress
// and detect stalls (no data for readTimeout).
type progressReader struct {
	reader      io.ReadCloser
	total       int64
	downloaded  int64
	start       time.Time
	lastReport  time.Time
	lastLog     time.Time
	readTimeout time.Duration
	stallTimer  *time.Timer
	stalled     atomic.Bool
	onProgress  ProgressFunc
	logger      *slog.Logger
	mu          sync.Mutex
	closed      bool
}

func newProgressReader(r io.ReadCloser, total int64, readTimeout time.Duration, abort context.CancelFunc, onProgress ProgressFunc, logger *slog.Logger) *progressReader {
	now := time.Now()
	p := &progressReader{
		reader:      r,
		total:       total,
		start:       now,
		lastReport:  now,
		lastLog:     now,
		readTimeout: readTimeout,
		onProgress:  onProgress,
		logger:      logger,
	}
	if readTimeout > 0 {
		p.stallTimer = time.AfterFunc(readTimeout, func() {
			p.stalled.Store(true)
			abort()
			// Unblock a Read parked on a body that ignores cancellation.
			r.Close()
		})
	}
	return p
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)

	p.mu.Lock()
	defer p.mu.Unlock()

	if n > 0 {
		p.downloaded += int64(n)
		if p.stallTimer != nil {
			p.stallTimer.Reset(p.readTimeout)
		}

		now := time.Now()
		if p.onProgress != nil && now.Sub(p.lastReport) >= progressInterval {
			p.onProgress(p.snapshot(now))
			p.lastReport = now
		}
		if now.Sub(p.lastLog) > 30*time.Second {
			p.logProgress()
			p.lastLog = now
		}
	}

	if err == io.EOF && p.onProgress != nil {
		p.onProgress(p.snapshot(time.Now()))
	}

	return n, err
}

func (p *progressReader) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.stallTimer != nil {
		p.stallTimer.Stop()
	}

	// Log final progress
	if p.downloaded > 0 {
		p.logProgress()
	}
	p.mu.Unlock()

	return p.reader.Close()
}

func (p *progressReader) isStalled() bool {
	return p.stalled.Load()
}

func (p *progressReader) snapshot(now time.Time) domain.TransferProgress {
	return domain.TransferProgress{
		Downloaded: p.downloaded,
		Total:      p.total,
		Elapsed:    now.Sub(p.start),
	}
}

func (p *progressReader) logProgress() {
	if p.total > 0 {
		pct := float64(p.downloaded) / float64(p.total) * 100
		p.logger.Info("download progress",
			"downloaded_mb", p.downloaded/(1024*1024),
			"total_mb", p.total/(1024*1024),
			"percent", fmt.Sprintf("%.1f%%", pct),
		)
	} else {
		p.logger.Info("download progress",
			"downloaded_mb", p.downloaded/(1024*1024),
		)
	}
}
