package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iconidentify/ytclip/pkg/ui"
)

// UIHandler serves the web UI.
type UIHandler struct {
	page   []byte
	logger *slog.Logger
}

// NewUIHandler renders the form once for the given server settings.
func NewUIHandler(settings ui.Page, logger *slog.Logger) *UIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	var buf bytes.Buffer
	if err := ui.Render(&buf, settings); err != nil {
		logger.Error("failed to render web UI", "error", err)
	}
	return &UIHandler{page: buf.Bytes(), logger: logger}
}

// Index serves the clip request form.
func (h *UIHandler) Index(w http.ResponseWriter, r *http.Request) {
	if len(h.page) == 0 {
		writeError(w, http.StatusInternalServerError, "web UI unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(h.page)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(h.page)
}
