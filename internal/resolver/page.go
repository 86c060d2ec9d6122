package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/iconidentify/ytclip/internal/config"
	"github.com/iconidentify/ytclip/internal/domain"
)

// ErrPlayerResponseNotFound is returned when the watch page carries no
// parseable player response blob.
var ErrPlayerResponseNotFound = errors.New("player response not found in page")

// playerResponseMarkers precede the embedded player response JSON in page scripts.
var playerResponseMarkers = []string{
	`"playerResponse":`,
	`ytInitialPlayerResponse = `,
	`ytInitialPlayerResponse=`,
}

const defaultWatchURL = "https://www.youtube.com/watch"

// PageStrategy scrapes the player response embedded in the video's watch page.
type PageStrategy struct {
	client         *http.Client
	watchURL       string
	userAgent      string
	acceptLanguage string
	logger         *slog.Logger
}

// NewPageStrategy creates a page-scrape strategy.
func NewPageStrategy(client *http.Client, cfg config.DownloadConfig, logger *slog.Logger) *PageStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageStrategy{
		client:         client,
		watchURL:       defaultWatchURL,
		userAgent:      cfg.UserAgent,
		acceptLanguage: cfg.AcceptLanguage,
		logger:         logger,
	}
}

// SetWatchURL overrides the watch page endpoint. The video ID is sent as the v parameter.
func (s *PageStrategy) SetWatchURL(u string) {
	s.watchURL = u
}

// Name implements Strategy.
func (s *PageStrategy) Name() string {
	return "page"
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		LengthSeconds string `json:"lengthSeconds"`
	} `json:"videoDetails"`
	StreamingData struct {
		Formats []pageFormat `json:"formats"`
	} `json:"streamingData"`
}

type pageFormat struct {
	Itag          int    `json:"itag"`
	URL           string `json:"url"`
	MimeType      string `json:"mimeType"`
	QualityLabel  string `json:"qualityLabel"`
	ContentLength string `json:"contentLength"`
	AudioQuality  string `json:"audioQuality"`
	AudioChannels int    `json:"audioChannels"`
}

// Resolve implements Strategy.
func (s *PageStrategy) Resolve(ctx context.Context, id domain.VideoID) (*domain.VideoInfo, error) {
	doc, err := s.fetchDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	pr, err := extractPlayerResponse(doc)
	if err != nil {
		return nil, err
	}

	if status := pr.PlayabilityStatus.Status; status != "" && status != "OK" {
		return nil, fmt.Errorf("video not playable: %s: %s", status, pr.PlayabilityStatus.Reason)
	}

	info := &domain.VideoInfo{
		ID:      id,
		Title:   pr.VideoDetails.Title,
		Author:  pr.VideoDetails.Author,
		Formats: make([]domain.StreamFormat, 0, len(pr.StreamingData.Formats)),
		Source:  s.Name(),
	}
	if secs, err := strconv.Atoi(pr.VideoDetails.LengthSeconds); err == nil {
		info.Duration = time.Duration(secs) * time.Second
	}
	for _, f := range pr.StreamingData.Formats {
		size, _ := strconv.ParseInt(f.ContentLength, 10, 64)
		info.Formats = append(info.Formats, toStreamFormat(rawFormat{
			Itag:          f.Itag,
			URL:           f.URL,
			MimeType:      f.MimeType,
			QualityLabel:  f.QualityLabel,
			ContentLength: size,
			AudioQuality:  f.AudioQuality,
			AudioChannels: f.AudioChannels,
		}))
	}

	s.logger.Debug("page resolved video",
		"video_id", id,
		"title", info.Title,
		"formats", len(info.Formats),
	)
	return info, nil
}

func (s *PageStrategy) fetchDocument(ctx context.Context, id domain.VideoID) (*goquery.Document, error) {
	u, err := url.Parse(s.watchURL)
	if err != nil {
		return nil, fmt.Errorf("parse watch URL: %w", err)
	}
	q := u.Query()
	q.Set("v", id.String())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if s.acceptLanguage != "" {
		req.Header.Set("Accept-Language", s.acceptLanguage)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch watch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("watch page status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse watch page: %w", err)
	}
	return doc, nil
}

// extractPlayerResponse finds the first script carrying a decodable player
// response. The JSON value is decoded in place so a trailing ";" or more
// script text after it does not matter.
func extractPlayerResponse(doc *goquery.Document) (*playerResponse, error) {
	var found *playerResponse

	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		for _, marker := range playerResponseMarkers {
			rest := text
			for {
				idx := strings.Index(rest, marker)
				if idx < 0 {
					break
				}
				rest = rest[idx+len(marker):]

				var pr playerResponse
				if err := json.NewDecoder(strings.NewReader(rest)).Decode(&pr); err != nil {
					continue
				}
				if pr.VideoDetails.VideoID == "" && len(pr.StreamingData.Formats) == 0 && pr.PlayabilityStatus.Status == "" {
					continue
				}
				found = &pr
				return false
			}
		}
		return true
	})

	if found == nil {
		return nil, ErrPlayerResponseNotFound
	}
	return found, nil
}
