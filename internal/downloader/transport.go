package downloader

import (
	"net/http"
	"time"

	"github.com/iconidentify/ytclip/internal/config"
)

// BrowserTransport fills in browser-like headers on outgoing requests.
// Headers already set by the caller are left untouched.
type BrowserTransport struct {
	Base           http.RoundTripper
	UserAgent      string
	AcceptLanguage string
}

// RoundTrip implements http.RoundTripper.
func (t *BrowserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" && t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	if req.Header.Get("Accept-Language") == "" && t.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", t.AcceptLanguage)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewHTTPClient returns a client for upstream calls. It has no overall
// timeout; callers bound requests through their context.
func NewHTTPClient(cfg config.DownloadConfig) *http.Client {
	return &http.Client{
		Transport: &BrowserTransport{
			Base: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   4,
			},
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.AcceptLanguage,
		},
	}
}
