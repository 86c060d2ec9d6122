package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// =============================================================================
// StreamFormat Tests
// =============================================================================

func TestStreamFormat_Quality(t *testing.T) {
	tests := []struct {
		label string
		want  int
	}{
		{"720p", 720},
		{"1080p60", 1080},
		{"480", 480},
		{"", 0},
		{"hd720", 0},
		{"tiny", 0},
		{" 360p ", 360},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			f := StreamFormat{QualityLabel: tt.label}
			if got := f.Quality(); got != tt.want {
				t.Errorf("Quality() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStreamFormat_Muxed(t *testing.T) {
	tests := []struct {
		name     string
		hasVideo bool
		hasAudio bool
		want     bool
	}{
		{"audio and video", true, true, true},
		{"video only", true, false, false},
		{"audio only", false, true, false},
		{"neither", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := StreamFormat{HasVideo: tt.hasVideo, HasAudio: tt.hasAudio}
			if got := f.Muxed(); got != tt.want {
				t.Errorf("Muxed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStreamFormat_ExtensionAndContentType(t *testing.T) {
	tests := []struct {
		container   string
		wantExt     string
		wantContent string
	}{
		{"mp4", "mp4", "video/mp4"},
		{"webm", "webm", "video/webm"},
		{"", "mp4", "video/mp4"},
		{"3gpp", "3gp", "video/3gpp"},
	}

	for _, tt := range tests {
		t.Run(tt.wantExt, func(t *testing.T) {
			f := StreamFormat{Container: tt.container}
			if got := f.Extension(); got != tt.wantExt {
				t.Errorf("Extension() = %q, want %q", got, tt.wantExt)
			}
			if got := f.ContentType(); got != tt.wantContent {
				t.Errorf("ContentType() = %q, want %q", got, tt.wantContent)
			}
		})
	}
}

func TestVideoID_WatchURL(t *testing.T) {
	id := VideoID("dQw4w9WgXcQ")
	want := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	if got := id.WatchURL(); got != want {
		t.Errorf("WatchURL() = %q, want %q", got, want)
	}
}

// =============================================================================
// TrimRequest Tests
// =============================================================================

func TestTrimRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		req       TrimRequest
		max       time.Duration
		wantField string
	}{
		{"valid", TrimRequest{VideoID: "abc", StartTime: 10, EndTime: 25}, 0, ""},
		{"valid from zero", TrimRequest{VideoID: "abc", EndTime: 1}, 0, ""},
		{"missing video id", TrimRequest{StartTime: 0, EndTime: 5}, 0, "videoId"},
		{"negative start", TrimRequest{VideoID: "abc", StartTime: -1, EndTime: 5}, 0, "startTime"},
		{"end equals start", TrimRequest{VideoID: "abc", StartTime: 5, EndTime: 5}, 0, "endTime"},
		{"end before start", TrimRequest{VideoID: "abc", StartTime: 25, EndTime: 10}, 0, "endTime"},
		{"too long", TrimRequest{VideoID: "abc", StartTime: 0, EndTime: 120}, time.Minute, "endTime"},
		{"at max", TrimRequest{VideoID: "abc", StartTime: 0, EndTime: 60}, time.Minute, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(tt.max)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error should be *ValidationError, got %T", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestTrimRequest_Duration(t *testing.T) {
	req := TrimRequest{StartTime: 10, EndTime: 25}
	if got := req.Duration(); got != 15 {
		t.Errorf("Duration() = %v, want 15", got)
	}
}

// =============================================================================
// Progress Tests
// =============================================================================

func TestTransferProgress(t *testing.T) {
	p := TransferProgress{Downloaded: 50, Total: 200, Elapsed: 5 * time.Second}

	if got := p.Speed(); got != 10 {
		t.Errorf("Speed() = %v, want 10", got)
	}
	if got := p.ETA(); got != 15 {
		t.Errorf("ETA() = %v, want 15", got)
	}
	if got := p.Percent(); got != 25 {
		t.Errorf("Percent() = %v, want 25", got)
	}
}

func TestTransferProgress_UnknownTotal(t *testing.T) {
	p := TransferProgress{Downloaded: 50, Elapsed: time.Second}

	if got := p.ETA(); got != 0 {
		t.Errorf("ETA() = %v, want 0", got)
	}
	if got := p.Percent(); got != 0 {
		t.Errorf("Percent() = %v, want 0", got)
	}
}

func TestProgressStatus_IsTerminal(t *testing.T) {
	terminal := map[ProgressStatus]bool{
		ProgressResolving:   false,
		ProgressDownloading: false,
		ProgressProcessing:  false,
		ProgressHeartbeat:   false,
		ProgressFinished:    true,
		ProgressError:       true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

// =============================================================================
// Error Tests
// =============================================================================

func TestStageError_Is(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		stage Stage
		kind  error
	}{
		{StageResolving, ErrResolution},
		{StageFetching, ErrFetch},
		{StageTrimming, ErrTrim},
		{StageCleaning, ErrCleanup},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", NewStageError(tt.stage, "vid", cause))
			if !errors.Is(err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.kind)
			}
			if !errors.Is(err, cause) {
				t.Error("stage error should unwrap to its cause")
			}
			for _, other := range []error{ErrResolution, ErrFetch, ErrTrim, ErrCleanup} {
				if other != tt.kind && errors.Is(err, other) {
					t.Errorf("stage %s should not match %v", tt.stage, other)
				}
			}
		})
	}
}

func TestStageError_Error(t *testing.T) {
	err := NewStageError(StageTrimming, "abc", errors.New("exit status 1"))
	want := "trimming [abc]: exit status 1"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	noID := NewStageError(StageFetching, "", errors.New("eof"))
	if got := noID.Error(); got != "fetching: eof" {
		t.Errorf("Error() = %q, want %q", got, "fetching: eof")
	}
}

func TestStage_KindForNonFailingStages(t *testing.T) {
	for _, s := range []Stage{StageDelivering, StageDone} {
		if s.Kind() != nil {
			t.Errorf("%s.Kind() = %v, want nil", s, s.Kind())
		}
	}
}
