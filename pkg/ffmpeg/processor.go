package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// FFmpegInstallURL is where operators are pointed when a tool is missing.
	FFmpegInstallURL = "https://ffmpeg.org/download.html"

	// stderrTailSize bounds the diagnostic output kept from a failed run.
	stderrTailSize = 4096
)

// Config locates the ffmpeg tools.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// CopyCodecs stream-copies instead of re-encoding. Faster, but the cut
	// snaps to the nearest keyframe.
	CopyCodecs bool
}

// VideoProcessor trims and probes media files using ffmpeg.
type VideoProcessor struct {
	ffmpegPath  string
	ffprobePath string
	copyCodecs  bool
}

// NewVideoProcessor creates a new video processor. Empty paths are looked up in PATH
// when the tool is first needed.
func NewVideoProcessor(cfg Config) *VideoProcessor {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &VideoProcessor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		copyCodecs:  cfg.CopyCodecs,
	}
}

// DependencyError reports a media tool that cannot be executed.
type DependencyError struct {
	Name       string
	Path       string
	InstallURL string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s not found at %q. Install from: %s", e.Name, e.Path, e.InstallURL)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// ProcessError is returned when ffmpeg exits unsuccessfully.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg exited with code %d: %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, lastLine(e.Stderr))
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// CheckTools verifies both binaries are executable. It returns a *DependencyError
// for the first one that is not.
func (p *VideoProcessor) CheckTools() error {
	for _, tool := range []struct{ name, path string }{
		{"ffmpeg", p.ffmpegPath},
		{"ffprobe", p.ffprobePath},
	} {
		if _, err := exec.LookPath(tool.path); err != nil {
			return &DependencyError{
				Name:       tool.name,
				Path:       tool.path,
				InstallURL: FFmpegInstallURL,
				Err:        err,
			}
		}
	}
	return nil
}

// Version returns the first line of `ffmpeg -version`.
func (p *VideoProcessor) Version(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, p.ffmpegPath, "-version").Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(output), "\n")
	if line = strings.TrimSpace(line); line != "" {
		return line, nil
	}
	return "unknown", nil
}

// TrimProgress is a processing update parsed from ffmpeg's -progress output.
type TrimProgress struct {
	OutTime time.Duration // media time written so far
	Speed   float64       // processing speed relative to realtime
	Done    bool
}

// TrimOptions configures a trim.
type TrimOptions struct {
	Input      string
	Output     string
	Start      float64 // seconds
	Duration   float64 // seconds
	OnProgress func(TrimProgress)
}

// Trim cuts [Start, Start+Duration) from Input into Output. On failure the
// partial output is removed, so a failed trim never leaves a file behind.
func (p *VideoProcessor) Trim(ctx context.Context, opts TrimOptions) error {
	if opts.Duration <= 0 {
		return fmt.Errorf("trim duration must be positive, got %v", opts.Duration)
	}
	if opts.Start < 0 {
		return fmt.Errorf("trim start must not be negative, got %v", opts.Start)
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, p.trimArgs(opts)...)
	cmd.WaitDelay = 2 * time.Second

	// exec copies stdout on its own goroutine, so progress is observed
	// while the process runs.
	cmd.Stdout = &progressWriter{onProgress: opts.OnProgress}
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return &DependencyError{Name: "ffmpeg", Path: p.ffmpegPath, InstallURL: FFmpegInstallURL, Err: err}
		}
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		os.Remove(opts.Output)
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg canceled: %w", ctx.Err())
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &ProcessError{ExitCode: exitCode, Stderr: stderr.String(), Err: err}
	}

	stat, err := os.Stat(opts.Output)
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if stat.Size() == 0 {
		os.Remove(opts.Output)
		return fmt.Errorf("ffmpeg produced an empty file: %s", lastLine(stderr.String()))
	}

	return nil
}

func (p *VideoProcessor) trimArgs(opts TrimOptions) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(opts.Start),
		"-i", opts.Input,
		"-t", formatSeconds(opts.Duration),
	}

	if p.copyCodecs {
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
	} else {
		args = append(args, encoderArgs(filepath.Ext(opts.Output))...)
	}

	return append(args,
		"-progress", "pipe:1",
		"-nostats",
		opts.Output,
	)
}

// encoderArgs picks codecs the output container accepts.
func encoderArgs(ext string) []string {
	switch strings.ToLower(ext) {
	case ".webm":
		return []string{"-c:v", "libvpx-vp9", "-deadline", "realtime", "-cpu-used", "8", "-c:a", "libopus"}
	default:
		return []string{"-c:v", "libx264", "-preset", "fast", "-c:a", "aac", "-movflags", "+faststart"}
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// progressWriter parses key=value blocks from -progress output. Each block
// ends with a progress=continue or progress=end line.
type progressWriter struct {
	partial    []byte
	cur        TrimProgress
	onProgress func(TrimProgress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.line(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) line(text string) {
	key, value, ok := strings.Cut(strings.TrimSpace(text), "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// out_time_ms is microseconds as well, despite its name.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			w.cur.OutTime = time.Duration(us) * time.Microsecond
		}
	case "speed":
		if v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "x"), 64); err == nil {
			w.cur.Speed = v
		}
	case "progress":
		w.cur.Done = value == "end"
		if w.onProgress != nil {
			w.onProgress(w.cur)
		}
	}
}

// VideoInfo contains metadata about a video file.
type VideoInfo struct {
	Duration   float64 // Duration in seconds
	Width      int
	Height     int
	HasAudio   bool
	AudioCodec string
	VideoCodec string
	Bitrate    int64
	FrameRate  float64
	FileSize   int64
}

// GetVideoInfo extracts metadata from a video file.
func (p *VideoProcessor) GetVideoInfo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	stat, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	return parseProbeOutput(output, stat.Size())
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

func parseProbeOutput(output []byte, size int64) (*VideoInfo, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &VideoInfo{FileSize: size}

	if dur, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		info.Duration = dur
	}
	if br, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
			}
			if info.Width == 0 && s.Width > 0 {
				info.Width = s.Width
			}
			if info.Height == 0 && s.Height > 0 {
				info.Height = s.Height
			}
			if info.FrameRate == 0 && s.AvgFrameRate != "" && s.AvgFrameRate != "0/0" {
				num, den, ok := strings.Cut(s.AvgFrameRate, "/")
				if ok {
					n, err1 := strconv.ParseFloat(num, 64)
					d, err2 := strconv.ParseFloat(den, 64)
					if err1 == nil && err2 == nil && d != 0 {
						info.FrameRate = n / d
					}
				}
			}
		}
	}

	return info, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
