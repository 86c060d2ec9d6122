package domain

import (
	"fmt"
	"time"
)

// Stage is a step of the clip pipeline.
type Stage string

const (
	StageValidating Stage = "validating"
	StageResolving  Stage = "resolving"
	StageFetching   Stage = "fetching"
	StageTrimming   Stage = "trimming"
	StageDelivering Stage = "delivering"
	StageCleaning   Stage = "cleaning"
	StageDone       Stage = "done"
)

// String returns the string representation of the Stage.
func (s Stage) String() string {
	return string(s)
}

// Kind returns the error kind reported when the stage fails.
func (s Stage) Kind() error {
	switch s {
	case StageValidating:
		return ErrValidation
	case StageResolving:
		return ErrResolution
	case StageFetching:
		return ErrFetch
	case StageTrimming:
		return ErrTrim
	case StageCleaning:
		return ErrCleanup
	}
	return nil
}

// TrimRequest asks for the [StartTime, EndTime) range of a video, in seconds.
type TrimRequest struct {
	VideoID   VideoID
	StartTime float64
	EndTime   float64
}

// Duration returns the clip length in seconds.
func (r TrimRequest) Duration() float64 {
	return r.EndTime - r.StartTime
}

// Validate checks the request. maxDuration of zero disables the length cap.
func (r TrimRequest) Validate(maxDuration time.Duration) error {
	if r.VideoID == "" {
		return &ValidationError{Field: "videoId", Reason: "missing video ID"}
	}
	if r.StartTime < 0 {
		return &ValidationError{Field: "startTime", Reason: "must not be negative"}
	}
	if r.EndTime <= r.StartTime {
		return &ValidationError{Field: "endTime", Reason: "must be greater than startTime"}
	}
	if maxDuration > 0 && r.Duration() > maxDuration.Seconds() {
		return &ValidationError{
			Field:  "endTime",
			Reason: fmt.Sprintf("clip longer than %s", maxDuration),
		}
	}
	return nil
}

// Artifacts are the temporary files owned by one in-flight request.
type Artifacts struct {
	RequestID string
	VideoID   VideoID
	RawPath   string
	ClipPath  string
}

// Paths returns both artifact paths, raw first.
func (a *Artifacts) Paths() []string {
	return []string{a.RawPath, a.ClipPath}
}

// ProgressStatus is the phase reported in a ProgressEvent.
type ProgressStatus string

const (
	ProgressResolving   ProgressStatus = "resolving"
	ProgressDownloading ProgressStatus = "downloading"
	ProgressProcessing  ProgressStatus = "processing"
	ProgressFinished    ProgressStatus = "finished"
	ProgressError       ProgressStatus = "error"
	ProgressHeartbeat   ProgressStatus = "heartbeat"
)

// IsTerminal reports whether no further events follow this status.
func (s ProgressStatus) IsTerminal() bool {
	return s == ProgressFinished || s == ProgressError
}

// ProgressEvent is a client-observable progress update for one video.
type ProgressEvent struct {
	VideoID    VideoID        `json:"videoId"`
	Status     ProgressStatus `json:"status"`
	Downloaded int64          `json:"downloaded,omitempty"`
	Total      int64          `json:"total,omitempty"`
	Speed      float64        `json:"speed,omitempty"` // bytes per second
	ETA        float64        `json:"eta,omitempty"`   // seconds
	Progress   float64        `json:"progress"`        // percent
	Message    string         `json:"message,omitempty"`
}

// TransferProgress is a snapshot of a byte transfer.
type TransferProgress struct {
	Downloaded int64
	Total      int64
	Elapsed    time.Duration
}

// Speed returns the average transfer rate in bytes per second.
func (p TransferProgress) Speed() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.Downloaded) / p.Elapsed.Seconds()
}

// ETA returns the estimated remaining seconds, or 0 when unknown.
func (p TransferProgress) ETA() float64 {
	speed := p.Speed()
	if p.Total <= 0 || speed <= 0 || p.Downloaded >= p.Total {
		return 0
	}
	return float64(p.Total-p.Downloaded) / speed
}

// Percent returns completion in percent, or 0 when the total is unknown.
func (p TransferProgress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Downloaded) / float64(p.Total) * 100
}
