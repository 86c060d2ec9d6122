package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrShutdownTimeout is returned when the janitor doesn't stop within timeout.
var ErrShutdownTimeout = errors.New("janitor shutdown timed out")

// Sweeper removes stale temporary files.
type Sweeper interface {
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// Config holds janitor configuration.
type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
}

// Janitor periodically removes artifacts orphaned by crashed or killed
// requests. Files of in-flight requests are never touched.
type Janitor struct {
	interval time.Duration
	maxAge   time.Duration
	sweeper  Sweeper
	logger   *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewJanitor creates a new janitor.
func NewJanitor(cfg Config, sweeper Sweeper, logger *slog.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Janitor{
		interval: cfg.Interval,
		maxAge:   cfg.MaxAge,
		sweeper:  sweeper,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start sweeps once immediately, then every interval.
func (j *Janitor) Start() {
	j.logger.Info("starting janitor", "interval", j.interval, "max_age", j.maxAge)

	j.wg.Add(1)
	go j.run()
}

// Stop gracefully stops the janitor.
func (j *Janitor) Stop(timeout time.Duration) error {
	j.logger.Info("stopping janitor")
	j.cancel()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info("janitor stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (j *Janitor) run() {
	defer j.wg.Done()

	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	removed, err := j.sweeper.Sweep(j.ctx, j.maxAge)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			j.logger.Error("artifact sweep failed", "error", err, "removed", removed)
		}
		return
	}
	if removed > 0 {
		j.logger.Info("removed orphaned artifacts", "count", removed, "max_age", j.maxAge)
	}
}
