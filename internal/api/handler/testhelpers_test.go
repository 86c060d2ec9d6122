package handler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/iconidentify/ytclip/internal/domain"
	"github.com/iconidentify/ytclip/internal/downloader"
	"github.com/iconidentify/ytclip/internal/repository"
	"github.com/iconidentify/ytclip/internal/service"
	"github.com/iconidentify/ytclip/pkg/ffmpeg"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockToolChecker is a test implementation of ToolChecker.
type mockToolChecker struct {
	err error
}

func (m *mockToolChecker) CheckTools() error {
	return m.err
}

// mockArtifactRepository is a test implementation of repository.ArtifactRepository.
type mockArtifactRepository struct {
	stats    *repository.StorageStats
	statsErr error
}

func newMockArtifactRepository() *mockArtifactRepository {
	return &mockArtifactRepository{
		stats: &repository.StorageStats{Path: os.TempDir()},
	}
}

func (m *mockArtifactRepository) Init() error { return nil }

func (m *mockArtifactRepository) Allocate(videoID domain.VideoID, ext string) (*domain.Artifacts, error) {
	return &domain.Artifacts{RequestID: "req", VideoID: videoID}, nil
}

func (m *mockArtifactRepository) Cleanup(ctx context.Context, a *domain.Artifacts) error {
	return nil
}

func (m *mockArtifactRepository) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	return 0, nil
}

func (m *mockArtifactRepository) Stats(ctx context.Context) (*repository.StorageStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return m.stats, nil
}

// mockPipeline is a test implementation of PipelineStats.
type mockPipeline struct {
	inFlight int
}

func (m *mockPipeline) InFlight() int {
	return m.inFlight
}

// mockClipCreator is a test implementation of ClipCreator.
type mockClipCreator struct {
	mu   sync.Mutex
	clip *service.Clip
	err  error
	got  []domain.TrimRequest
}

func (m *mockClipCreator) Create(ctx context.Context, req domain.TrimRequest) (*service.Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.clip, nil
}

func (m *mockClipCreator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

// stubResolver always resolves to one muxed mp4 format.
type stubResolver struct {
	title string
	err   error
}

func (s *stubResolver) Resolve(ctx context.Context, id domain.VideoID) (*domain.VideoInfo, domain.StreamFormat, error) {
	if s.err != nil {
		return nil, domain.StreamFormat{}, s.err
	}
	return &domain.VideoInfo{ID: id, Title: s.title, Source: "stub"},
		domain.StreamFormat{Itag: 18, QualityLabel: "360p", Container: "mp4", HasVideo: true, HasAudio: true},
		nil
}

// stubFetcher writes fixed bytes to the destination.
type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, req downloader.FetchRequest) (int64, error) {
	data := []byte("raw media")
	return int64(len(data)), os.WriteFile(req.Dest, data, 0644)
}

// stubTrimmer writes fixed clip bytes or fails.
type stubTrimmer struct {
	data []byte
	err  error
	got  ffmpeg.TrimOptions
}

func (s *stubTrimmer) Trim(ctx context.Context, opts ffmpeg.TrimOptions) error {
	s.got = opts
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(opts.Output, s.data, 0644)
}
