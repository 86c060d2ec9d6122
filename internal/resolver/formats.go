package resolver

import (
	"mime"
	"strings"

	"github.com/iconidentify/ytclip/internal/domain"
)

// rawFormat is the subset of an upstream format entry both strategies share.
type rawFormat struct {
	Itag          int
	URL           string
	MimeType      string
	QualityLabel  string
	ContentLength int64
	AudioQuality  string
	AudioChannels int
}

// audioCodecs are codec prefixes that imply an audio track.
var audioCodecs = []string{"mp4a", "opus", "vorbis", "ac-3", "ec-3"}

func toStreamFormat(raw rawFormat) domain.StreamFormat {
	f := domain.StreamFormat{
		Itag:          raw.Itag,
		QualityLabel:  raw.QualityLabel,
		MimeType:      raw.MimeType,
		URL:           raw.URL,
		ContentLength: raw.ContentLength,
	}

	mediaType, params, err := mime.ParseMediaType(raw.MimeType)
	if err != nil {
		// Keep what we can from a malformed value such as "video/mp4; codecs=".
		mediaType = strings.TrimSpace(strings.SplitN(raw.MimeType, ";", 2)[0])
	}
	kind, container, _ := strings.Cut(mediaType, "/")
	f.Container = container
	f.Codecs = params["codecs"]

	f.HasVideo = kind == "video"
	f.HasAudio = kind == "audio" || raw.AudioChannels > 0 || raw.AudioQuality != "" || hasAudioCodec(f.Codecs)
	return f
}

func hasAudioCodec(codecs string) bool {
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(c)
		for _, prefix := range audioCodecs {
			if strings.HasPrefix(c, prefix) {
				return true
			}
		}
	}
	return false
}
