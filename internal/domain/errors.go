package domain

import "errors"

// Error kinds. Every pipeline failure matches exactly one of these via errors.Is.
var (
	// ErrValidation is returned when request fields are missing or malformed.
	ErrValidation = errors.New("invalid request")

	// ErrResolution is returned when no usable format can be found for a video.
	ErrResolution = errors.New("format resolution failed")

	// ErrFetch is returned when the raw stream cannot be materialized on disk.
	ErrFetch = errors.New("stream fetch failed")

	// ErrTrim is returned when the clip cannot be produced.
	ErrTrim = errors.New("trim failed")

	// ErrCleanup is returned when a temporary file cannot be removed. Never surfaced to callers.
	ErrCleanup = errors.New("cleanup failed")
)

// Domain errors.
var (
	// ErrNoSuitableFormat is returned when no muxed audio+video format exists.
	ErrNoSuitableFormat = errors.New("no suitable format")

	// ErrURLExpired is returned when the stream URL is rejected by the origin.
	ErrURLExpired = errors.New("stream URL has expired")

	// ErrRateLimited is returned when rate limited by the upstream service.
	ErrRateLimited = errors.New("rate limited")

	// ErrEmptyArtifact is returned when a stage produced a zero-byte file.
	ErrEmptyArtifact = errors.New("artifact is empty")

	// ErrBusy is returned when the pipeline concurrency cap is reached.
	ErrBusy = errors.New("too many clips in progress")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StageError wraps a pipeline failure with the stage and video it belongs to.
type StageError struct {
	Stage   Stage
	VideoID VideoID
	Err     error
}

func (e *StageError) Error() string {
	if e.VideoID != "" {
		return string(e.Stage) + " [" + e.VideoID.String() + "]: " + e.Err.Error()
	}
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the error kind of the failed stage.
func (e *StageError) Is(target error) bool {
	kind := e.Stage.Kind()
	return kind != nil && target == kind
}

// NewStageError creates a new StageError.
func NewStageError(stage Stage, videoID VideoID, err error) *StageError {
	return &StageError{
		Stage:   stage,
		VideoID: videoID,
		Err:     err,
	}
}
