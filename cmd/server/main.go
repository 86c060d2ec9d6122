package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/iconidentify/ytclip/internal/api"
	"github.com/iconidentify/ytclip/internal/api/handler"
	mw "github.com/iconidentify/ytclip/internal/api/middleware"
	"github.com/iconidentify/ytclip/internal/config"
	"github.com/iconidentify/ytclip/internal/downloader"
	"github.com/iconidentify/ytclip/internal/repository"
	"github.com/iconidentify/ytclip/internal/resolver"
	"github.com/iconidentify/ytclip/internal/service"
	"github.com/iconidentify/ytclip/internal/worker"
	"github.com/iconidentify/ytclip/pkg/ffmpeg"
	"github.com/iconidentify/ytclip/pkg/ui"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ytclip %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger; Load already rejected unknown levels
	level, _ := cfg.Server.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting ytclip",
		"version", Version,
		"build_time", BuildTime,
	)

	// Temp storage
	artifacts := repository.NewFilesystemArtifactRepository(cfg.Storage, logger)
	if err := artifacts.Init(); err != nil {
		logger.Error("failed to prepare temp directory", "error", err, "path", cfg.Storage.TempPath)
		os.Exit(1)
	}

	processor := ffmpeg.NewVideoProcessor(ffmpeg.Config{
		FFmpegPath:  cfg.FFmpeg.FFmpegPath,
		FFprobePath: cfg.FFmpeg.FFprobePath,
		CopyCodecs:  cfg.FFmpeg.CopyCodecs,
	})
	if err := processor.CheckTools(); err != nil {
		// Keep serving so /ready can report it; trims fail with an install hint.
		logger.Warn("media tools unavailable", "error", err)
	} else if v, err := processor.Version(context.Background()); err == nil {
		logger.Info("ffmpeg detected", "version", v)
	}

	// Upstream access
	httpClient := downloader.NewHTTPClient(cfg.Download)
	limiter := rate.NewLimiter(cfg.Download.Limit(), cfg.Download.Burst)

	library := resolver.NewLibraryStrategy(httpClient, logger)
	var fallbacks []resolver.Strategy
	if cfg.Download.PageFallback {
		fallbacks = append(fallbacks, resolver.NewPageStrategy(httpClient, cfg.Download, logger))
	}
	formatResolver := resolver.New(limiter, logger, library, fallbacks...)

	direct := downloader.NewHTTPDownloader(cfg.Download, httpClient)
	direct.SetLogger(logger.With("component", "downloader"))
	fetcher := downloader.NewFetcher(
		direct,
		library,
		cfg.Download,
		logger,
	)

	// Initialize services
	progress := service.NewProgressBroker(logger)
	clipSvc := service.NewClipService(
		formatResolver,
		fetcher,
		processor,
		artifacts,
		progress,
		service.NewClipServiceConfig(cfg),
		logger,
	)
	clipSvc.SetProber(processor)

	// Initialize handlers
	clipHandler := handler.NewClipHandler(clipSvc, cfg.Server.ExposeErrorDetails, logger)
	progressHandler := handler.NewProgressHandler(progress, logger)
	healthHandler := handler.NewHealthHandler(processor, artifacts, clipSvc)
	uiHandler := handler.NewUIHandler(ui.Page{
		RequireKey:     cfg.Server.APIKey != "",
		MaxClipSeconds: int(cfg.Pipeline.MaxClipDuration.Seconds()),
	}, logger)

	// Setup router
	router := api.NewRouter(clipHandler, progressHandler, healthHandler, uiHandler, api.RouterConfig{
		CORS: mw.CORSConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Development:    cfg.Server.Development,
		},
		APIKey: cfg.Server.APIKey,
	})
	if cfg.Server.APIKey == "" {
		logger.Warn("download endpoint is unauthenticated; set SERVER_API_KEY to require a key")
	}

	// Orphan sweeper
	janitor := worker.NewJanitor(
		worker.Config{
			Interval: cfg.Storage.SweepInterval,
			MaxAge:   cfg.Storage.MaxArtifactAge,
		},
		artifacts,
		logger,
	)
	janitor.Start() // first sweep clears leftovers from a previous crash

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Graceful shutdown; in-flight clips release their temp files as handlers return
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if err := janitor.Stop(5 * time.Second); err != nil {
		logger.Error("janitor shutdown error", "error", err)
	}

	logger.Info("shutdown complete", "clips_in_flight", clipSvc.InFlight())
}
