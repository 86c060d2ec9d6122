package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kkdai/youtube/v2"

	"github.com/iconidentify/ytclip/internal/domain"
)

// LibraryStrategy resolves formats through the youtube extraction library.
// It also serves the library streaming path for formats without a direct URL.
type LibraryStrategy struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLibraryStrategy creates a library-backed strategy. The client's
// transport supplies browser headers the library does not set itself.
func NewLibraryStrategy(httpClient *http.Client, logger *slog.Logger) *LibraryStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibraryStrategy{
		httpClient: httpClient,
		logger:     logger,
	}
}

// Name implements Strategy.
func (s *LibraryStrategy) Name() string {
	return "library"
}

// client returns a fresh library client. youtube.Client keeps per-instance
// consent and player state, so one is not shared across requests.
func (s *LibraryStrategy) client() *youtube.Client {
	return &youtube.Client{HTTPClient: s.httpClient}
}

// Resolve implements Strategy.
func (s *LibraryStrategy) Resolve(ctx context.Context, id domain.VideoID) (*domain.VideoInfo, error) {
	video, err := s.client().GetVideoContext(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}

	info := &domain.VideoInfo{
		ID:       id,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
		Formats:  make([]domain.StreamFormat, 0, len(video.Formats)),
		Source:   s.Name(),
	}
	for _, f := range video.Formats {
		info.Formats = append(info.Formats, toStreamFormat(rawFormat{
			Itag:          f.ItagNo,
			URL:           f.URL,
			MimeType:      f.MimeType,
			QualityLabel:  f.QualityLabel,
			ContentLength: f.ContentLength,
			AudioQuality:  f.AudioQuality,
			AudioChannels: f.AudioChannels,
		}))
	}

	s.logger.Debug("library resolved video",
		"video_id", id,
		"title", video.Title,
		"formats", len(info.Formats),
	)
	return info, nil
}

// Stream re-resolves the video and opens the format with the same itag
// through the library's chunked downloader.
func (s *LibraryStrategy) Stream(ctx context.Context, id domain.VideoID, format domain.StreamFormat) (io.ReadCloser, int64, error) {
	client := s.client()

	video, err := client.GetVideoContext(ctx, id.String())
	if err != nil {
		return nil, 0, fmt.Errorf("get video: %w", err)
	}

	matches := video.Formats.Itag(format.Itag)
	if len(matches) == 0 {
		return nil, 0, fmt.Errorf("itag %d no longer offered: %w", format.Itag, domain.ErrNoSuitableFormat)
	}

	body, size, err := client.GetStreamContext(ctx, video, &matches[0])
	if err != nil {
		return nil, 0, fmt.Errorf("open stream: %w", err)
	}
	return body, size, nil
}
