package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/iconidentify/ytclip/internal/config"
	"github.com/iconidentify/ytclip/internal/domain"
	"github.com/iconidentify/ytclip/internal/downloader"
	"github.com/iconidentify/ytclip/internal/repository"
	"github.com/iconidentify/ytclip/pkg/ffmpeg"
)

// FormatResolver picks the stream format for a video.
type FormatResolver interface {
	Resolve(ctx context.Context, id domain.VideoID) (*domain.VideoInfo, domain.StreamFormat, error)
}

// StreamFetcher writes a resolved format to disk.
type StreamFetcher interface {
	Fetch(ctx context.Context, req downloader.FetchRequest) (int64, error)
}

// Trimmer cuts a time range out of a media file.
type Trimmer interface {
	Trim(ctx context.Context, opts ffmpeg.TrimOptions) error
}

// Prober reads media metadata from a finished clip.
type Prober interface {
	GetVideoInfo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
}

// ProgressPublisher receives client-observable progress events.
type ProgressPublisher interface {
	Publish(ev domain.ProgressEvent)
}

// maxTitleRunes bounds the title part of a download filename.
const maxTitleRunes = 20

// ClipServiceConfig bounds each pipeline stage.
type ClipServiceConfig struct {
	ResolveTimeout  time.Duration
	FetchTimeout    time.Duration
	TrimTimeout     time.Duration
	MaxConcurrent   int           // 0 = unlimited
	MaxClipDuration time.Duration // 0 = unlimited
}

// NewClipServiceConfig derives the service settings from application config.
func NewClipServiceConfig(cfg *config.Config) ClipServiceConfig {
	return ClipServiceConfig{
		ResolveTimeout:  cfg.Download.ResolveTimeout,
		FetchTimeout:    cfg.Download.FetchTimeout,
		TrimTimeout:     cfg.Download.TrimTimeout,
		MaxConcurrent:   cfg.Pipeline.MaxConcurrent,
		MaxClipDuration: cfg.Pipeline.MaxClipDuration,
	}
}

// ClipService orchestrates the resolve, fetch and trim stages of a clip request.
type ClipService struct {
	resolver  FormatResolver
	fetcher   StreamFetcher
	trimmer   Trimmer
	artifacts repository.ArtifactRepository
	progress  ProgressPublisher
	prober    Prober
	cfg       ClipServiceConfig
	slots     chan struct{}
	logger    *slog.Logger
}

// NewClipService creates a new clip service. progress may be nil.
func NewClipService(
	resolver FormatResolver,
	fetcher StreamFetcher,
	trimmer Trimmer,
	artifacts repository.ArtifactRepository,
	progress ProgressPublisher,
	cfg ClipServiceConfig,
	logger *slog.Logger,
) *ClipService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ClipService{
		resolver:  resolver,
		fetcher:   fetcher,
		trimmer:   trimmer,
		artifacts: artifacts,
		progress:  progress,
		cfg:       cfg,
		logger:    logger,
	}
	if cfg.MaxConcurrent > 0 {
		s.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	return s
}

// SetProber enables clip verification with ffprobe after trimming.
func (s *ClipService) SetProber(p Prober) {
	s.prober = p
}

// Clip is a trimmed file ready for delivery. The caller must call Release
// once the response is finished; it deletes both artifacts.
type Clip struct {
	Path        string
	ContentType string
	Filename    string
	Size        int64
	Title       string
	Artifacts   *domain.Artifacts

	release func()
	once    sync.Once
}

// Release runs cleanup. Safe to call more than once.
func (c *Clip) Release() {
	c.once.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
}

// Create runs the pipeline up to a trimmed clip. On failure every artifact
// created so far is removed before the error is returned, and the error is a
// *domain.StageError matching the failed stage's kind.
func (s *ClipService) Create(ctx context.Context, req domain.TrimRequest) (*Clip, error) {
	if err := req.Validate(s.cfg.MaxClipDuration); err != nil {
		return nil, domain.NewStageError(domain.StageValidating, req.VideoID, err)
	}

	if !s.acquire() {
		s.logger.Warn("clip rejected, pipeline at capacity", "video_id", req.VideoID, "max_concurrent", s.cfg.MaxConcurrent)
		return nil, domain.ErrBusy
	}

	log := s.logger.With("video_id", req.VideoID)
	started := time.Now()
	log.Info("clip requested", "start", req.StartTime, "end", req.EndTime)

	var artifacts *domain.Artifacts
	fail := func(stage domain.Stage, err error) (*Clip, error) {
		s.cleanup(ctx, artifacts, log)
		s.releaseSlot()

		stageErr := domain.NewStageError(stage, req.VideoID, err)
		log.Error("clip failed", "stage", stage, "error", err, "elapsed", time.Since(started))
		s.publish(domain.ProgressEvent{
			VideoID: req.VideoID,
			Status:  domain.ProgressError,
			Message: stageErr.Error(),
		})
		return nil, stageErr
	}

	// Resolving
	s.publish(domain.ProgressEvent{VideoID: req.VideoID, Status: domain.ProgressResolving})
	resolveCtx, cancel := withTimeout(ctx, s.cfg.ResolveTimeout)
	info, format, err := s.resolver.Resolve(resolveCtx, req.VideoID)
	cancel()
	if err != nil {
		return fail(domain.StageResolving, err)
	}
	log.Info("format resolved",
		"source", info.Source,
		"itag", format.Itag,
		"quality", format.QualityLabel,
		"container", format.Extension(),
	)

	// Fetching
	artifacts, err = s.artifacts.Allocate(req.VideoID, format.Extension())
	if err != nil {
		return fail(domain.StageFetching, err)
	}
	log = log.With("request_id", artifacts.RequestID)

	if err := checkDiskSpace(artifacts.RawPath, format.ContentLength); err != nil {
		return fail(domain.StageFetching, err)
	}

	fetchCtx, cancel := withTimeout(ctx, s.cfg.FetchTimeout)
	size, err := s.fetcher.Fetch(fetchCtx, downloader.FetchRequest{
		VideoID: req.VideoID,
		Format:  format,
		Dest:    artifacts.RawPath,
		OnProgress: func(p domain.TransferProgress) {
			s.publish(domain.ProgressEvent{
				VideoID:    req.VideoID,
				Status:     domain.ProgressDownloading,
				Downloaded: p.Downloaded,
				Total:      p.Total,
				Speed:      p.Speed(),
				ETA:        p.ETA(),
				Progress:   p.Percent(),
			})
		},
	})
	cancel()
	if err != nil {
		return fail(domain.StageFetching, err)
	}
	log.Info("raw stream stored", "bytes", size)

	// Trimming
	s.publish(domain.ProgressEvent{VideoID: req.VideoID, Status: domain.ProgressProcessing})
	duration := req.Duration()
	trimCtx, cancel := withTimeout(ctx, s.cfg.TrimTimeout)
	err = s.trimmer.Trim(trimCtx, ffmpeg.TrimOptions{
		Input:    artifacts.RawPath,
		Output:   artifacts.ClipPath,
		Start:    req.StartTime,
		Duration: duration,
		OnProgress: func(p ffmpeg.TrimProgress) {
			pct := p.OutTime.Seconds() / duration * 100
			if pct > 100 || p.Done {
				pct = 100
			}
			s.publish(domain.ProgressEvent{
				VideoID:  req.VideoID,
				Status:   domain.ProgressProcessing,
				Progress: pct,
			})
		},
	})
	cancel()
	if err != nil {
		return fail(domain.StageTrimming, err)
	}

	stat, err := os.Stat(artifacts.ClipPath)
	if err != nil {
		return fail(domain.StageTrimming, fmt.Errorf("stat clip: %w", err))
	}
	if stat.Size() == 0 {
		return fail(domain.StageTrimming, domain.ErrEmptyArtifact)
	}

	if err := s.verify(ctx, artifacts.ClipPath, log); err != nil {
		return fail(domain.StageTrimming, err)
	}

	log.Info("clip ready", "bytes", stat.Size(), "elapsed", time.Since(started))

	owned := artifacts
	return &Clip{
		Path:        owned.ClipPath,
		ContentType: format.ContentType(),
		Filename:    ClipFilename(info.Title, req.VideoID, format.Extension()),
		Size:        stat.Size(),
		Title:       info.Title,
		Artifacts:   owned,
		release: func() {
			s.cleanup(ctx, owned, log)
			s.releaseSlot()
			s.publish(domain.ProgressEvent{
				VideoID:  req.VideoID,
				Status:   domain.ProgressFinished,
				Progress: 100,
			})
			log.Info("clip delivered", "elapsed", time.Since(started))
		},
	}, nil
}

// verify rejects clips that probe with no duration. A probe that cannot run
// is logged and ignored; the trim already succeeded.
func (s *ClipService) verify(ctx context.Context, path string, log *slog.Logger) error {
	if s.prober == nil {
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	info, err := s.prober.GetVideoInfo(probeCtx, path)
	if err != nil {
		log.Warn("clip probe failed", "error", err)
		return nil
	}
	if info.Duration <= 0 {
		return fmt.Errorf("clip has no duration: %w", domain.ErrEmptyArtifact)
	}
	log.Debug("clip probed", "duration", info.Duration, "width", info.Width, "height", info.Height, "audio", info.HasAudio)
	return nil
}

// InFlight returns the number of pipelines holding a slot.
func (s *ClipService) InFlight() int {
	return len(s.slots)
}

func (s *ClipService) acquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *ClipService) releaseSlot() {
	if s.slots == nil {
		return
	}
	<-s.slots
}

// cleanup removes artifacts best-effort. Failures are logged, never returned.
func (s *ClipService) cleanup(ctx context.Context, a *domain.Artifacts, log *slog.Logger) {
	if a == nil {
		return
	}
	// Cleanup must run even when the request context is already canceled.
	if err := s.artifacts.Cleanup(context.WithoutCancel(ctx), a); err != nil {
		log.Warn("artifact cleanup failed", "stage", domain.StageCleaning, "error", err)
		return
	}
	log.Debug("artifacts removed", "raw", a.RawPath, "clip", a.ClipPath)
}

func (s *ClipService) publish(ev domain.ProgressEvent) {
	if s.progress != nil {
		s.progress.Publish(ev)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// checkDiskSpace fails when the known stream size exceeds free space.
// Unknown sizes and unreadable filesystems pass.
func checkDiskSpace(dest string, need int64) error {
	if need <= 0 {
		return nil
	}
	usage, err := repository.VolumeUsage(filepath.Dir(dest))
	if err != nil || usage.Total == 0 {
		return nil
	}
	if usage.Free < need {
		return fmt.Errorf("insufficient disk space: need %d bytes, have %d", need, usage.Free)
	}
	return nil
}

// ClipFilename builds the download name from the video title: truncated to 20
// characters, with characters illegal in filenames removed. Falls back to the
// video ID when nothing usable remains.
func ClipFilename(title string, id domain.VideoID, ext string) string {
	runes := []rune(strings.TrimSpace(title))
	if len(runes) > maxTitleRunes {
		runes = runes[:maxTitleRunes]
	}

	var b strings.Builder
	for _, r := range runes {
		if strings.ContainsRune(`\/:*?"<>|`, r) || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	name := strings.TrimSpace(b.String())
	if name == "" || strings.Trim(name, ".") == "" {
		name = id.String()
	}
	if name == "" {
		name = "clip"
	}
	return name + "." + ext
}

// IsBusy reports whether err is a capacity rejection.
func IsBusy(err error) bool {
	return errors.Is(err, domain.ErrBusy)
}
