package domain

import (
	"strings"
	"time"
	"unicode"
)

// VideoID identifies a source video (the 11-character YouTube code).
type VideoID string

// String returns the string representation of the VideoID.
func (id VideoID) String() string {
	return string(id)
}

// WatchURL returns the canonical watch page URL for the video.
func (id VideoID) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + string(id)
}

// StreamFormat describes one downloadable encoding of a video.
type StreamFormat struct {
	Itag          int
	QualityLabel  string
	Container     string
	Codecs        string
	MimeType      string
	HasVideo      bool
	HasAudio      bool
	URL           string // direct resource URL, empty when the stream must be opened through the library
	ContentLength int64
}

// Quality returns the numeric value of the quality label ("720p60" -> 720).
// Non-numeric or missing labels yield 0.
func (f StreamFormat) Quality() int {
	n := 0
	for _, r := range strings.TrimSpace(f.QualityLabel) {
		if !unicode.IsDigit(r) {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Muxed reports whether the format carries both audio and video.
func (f StreamFormat) Muxed() bool {
	return f.HasVideo && f.HasAudio
}

// HasDirectURL reports whether the format can be fetched with a plain GET.
func (f StreamFormat) HasDirectURL() bool {
	return f.URL != ""
}

// containerExtensions maps MIME subtypes to the extension ffmpeg picks a muxer by.
var containerExtensions = map[string]string{
	"3gpp": "3gp",
}

// Extension returns the file extension for artifacts of this format.
func (f StreamFormat) Extension() string {
	if f.Container == "" {
		return "mp4"
	}
	if ext, ok := containerExtensions[f.Container]; ok {
		return ext
	}
	return f.Container
}

// ContentType returns the MIME type served for clips of this format.
func (f StreamFormat) ContentType() string {
	if f.Container == "" {
		return "video/mp4"
	}
	return "video/" + f.Container
}

// VideoInfo is the result of resolving a video: metadata plus available formats.
type VideoInfo struct {
	ID       VideoID
	Title    string
	Author   string
	Duration time.Duration
	Formats  []StreamFormat
	Source   string // name of the strategy that produced it
}
