package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iconidentify/ytclip/internal/config"
	"github.com/iconidentify/ytclip/internal/domain"
)

// HTTPDownloader implements Downloader using plain HTTP GET requests.
type HTTPDownloader struct {
	// streamClient has no overall timeout; the caller's context bounds each transfer
	streamClient   *http.Client
	userAgent      string
	acceptLanguage string
	logger         *slog.Logger
}

// NewHTTPDownloader creates a new HTTP-based stream downloader.
// A nil client gets one built from cfg.
func NewHTTPDownloader(cfg config.DownloadConfig, client *http.Client) *HTTPDownloader {
	if client == nil {
		client = NewHTTPClient(cfg)
	}
	return &HTTPDownloader{
		streamClient:   client,
		userAgent:      cfg.UserAgent,
		acceptLanguage: cfg.AcceptLanguage,
		logger:         slog.Default(),
	}
}

// SetLogger sets the logger for download reporting.
func (d *HTTPDownloader) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// Download opens url with a single streamed GET. There is no retry: a signed
// stream URL that fails once is treated as gone.
func (d *HTTPDownloader) Download(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	// Set headers to mimic browser request
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "video/mp4,video/webm,video/*;q=0.9,*/*;q=0.8")
	if d.acceptLanguage != "" {
		req.Header.Set("Accept-Language", d.acceptLanguage)
	}
	req.Header.Set("Referer", "https://www.youtube.com/")

	resp, err := d.streamClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, 0, domain.ErrURLExpired
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, 0, domain.ErrRateLimited
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	size := resp.ContentLength
	if size < 0 {
		// Try to parse from header
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				size = n
			}
		}
	}

	d.logger.Debug("stream opened", "size", size, "content_type", resp.Header.Get("Content-Type"))
	return resp.Body, size, nil
}
