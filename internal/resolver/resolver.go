// Package resolver turns a video ID into metadata plus the best muxed stream format.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/time/rate"

	"github.com/iconidentify/ytclip/internal/domain"
)

// Strategy obtains the available formats for a video.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, id domain.VideoID) (*domain.VideoInfo, error)
}

// FallbackError is returned when every strategy fails. The primary
// strategy's error is authoritative; later failures are context.
type FallbackError struct {
	Primary   error
	Secondary error
}

func (e *FallbackError) Error() string {
	if e.Secondary == nil {
		return e.Primary.Error()
	}
	return fmt.Sprintf("%v (fallback: %v)", e.Primary, e.Secondary)
}

func (e *FallbackError) Unwrap() error {
	return e.Primary
}

// Resolver tries its strategies in order and selects the best format.
type Resolver struct {
	strategies []Strategy
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a Resolver. The first strategy is primary; the rest run
// only when every earlier one failed. A nil limiter disables throttling.
func New(limiter *rate.Limiter, logger *slog.Logger, primary Strategy, fallbacks ...Strategy) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		strategies: append([]Strategy{primary}, fallbacks...),
		limiter:    limiter,
		logger:     logger,
	}
}

// Lookup returns video metadata from the first strategy that succeeds.
func (r *Resolver) Lookup(ctx context.Context, id domain.VideoID) (*domain.VideoInfo, error) {
	var primaryErr error
	var secondary []error

	for i, s := range r.strategies {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				if primaryErr == nil {
					return nil, fmt.Errorf("throttle: %w", err)
				}
				secondary = append(secondary, err)
				break
			}
		}

		info, err := s.Resolve(ctx, id)
		if err == nil {
			if info.Source == "" {
				info.Source = s.Name()
			}
			if i > 0 {
				r.logger.Info("resolved via fallback strategy",
					"video_id", id,
					"strategy", s.Name(),
					"primary_error", primaryErr,
				)
			}
			return info, nil
		}

		if i == 0 {
			primaryErr = fmt.Errorf("%s: %w", s.Name(), err)
			r.logger.Warn("primary strategy failed",
				"video_id", id,
				"strategy", s.Name(),
				"error", err,
			)
		} else {
			secondary = append(secondary, fmt.Errorf("%s: %w", s.Name(), err))
		}

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &FallbackError{Primary: primaryErr, Secondary: errors.Join(secondary...)}
}

// Resolve looks up the video and selects the highest-quality muxed format.
func (r *Resolver) Resolve(ctx context.Context, id domain.VideoID) (*domain.VideoInfo, domain.StreamFormat, error) {
	info, err := r.Lookup(ctx, id)
	if err != nil {
		return nil, domain.StreamFormat{}, err
	}

	best, err := SelectBest(info.Formats)
	if err != nil {
		return info, domain.StreamFormat{}, fmt.Errorf("%s: %w", info.Source, err)
	}

	r.logger.Debug("format selected",
		"video_id", id,
		"source", info.Source,
		"itag", best.Itag,
		"quality", best.QualityLabel,
		"candidates", len(info.Formats),
		"direct_url", best.HasDirectURL(),
	)
	return info, best, nil
}

// SelectBest returns the muxed format with the highest numeric quality.
// Formats without a numeric label rank as quality 0. Ties keep input order.
func SelectBest(formats []domain.StreamFormat) (domain.StreamFormat, error) {
	muxed := make([]domain.StreamFormat, 0, len(formats))
	for _, f := range formats {
		if f.Muxed() {
			muxed = append(muxed, f)
		}
	}
	if len(muxed) == 0 {
		return domain.StreamFormat{}, domain.ErrNoSuitableFormat
	}

	sort.SliceStable(muxed, func(i, j int) bool {
		return muxed[i].Quality() > muxed[j].Quality()
	})
	return muxed[0], nil
}
