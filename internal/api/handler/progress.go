package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/ytclip/internal/domain"
)

// ProgressSubscriber delivers progress events for one video.
type ProgressSubscriber interface {
	Subscribe(videoID domain.VideoID) (uint64, <-chan domain.ProgressEvent)
	Unsubscribe(id uint64)
}

// ProgressHandler streams pipeline progress over Server-Sent Events.
type ProgressHandler struct {
	progress  ProgressSubscriber
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(progress ProgressSubscriber, logger *slog.Logger) *ProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressHandler{
		progress:  progress,
		heartbeat: 30 * time.Second,
		logger:    logger,
	}
}

// Stream handles GET /api/progress/{videoID}.
// Each event is a `data:` line holding a ProgressEvent. A heartbeat event is
// sent when nothing else happens for 30 seconds. The stream ends after a
// finished or error event.
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	videoID := domain.VideoID(chi.URLParam(r, "videoID"))
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "videoID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	subID, events := h.progress.Subscribe(videoID)
	defer h.progress.Unsubscribe(subID)

	h.logger.Debug("progress client connected", "subscriber_id", subID, "video_id", videoID, "remote_addr", r.RemoteAddr)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("progress client disconnected", "subscriber_id", subID)
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("progress write failed", "subscriber_id", subID, "error", err)
				return
			}
			flusher.Flush()
			heartbeat.Reset(h.heartbeat)

			if ev.Status.IsTerminal() {
				return
			}

		case <-heartbeat.C:
			if err := writeEvent(w, domain.ProgressEvent{VideoID: videoID, Status: domain.ProgressHeartbeat}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
