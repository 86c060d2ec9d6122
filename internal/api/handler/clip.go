package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/iconidentify/ytclip/internal/domain"
	"github.com/iconidentify/ytclip/internal/service"
	"github.com/iconidentify/ytclip/pkg/ffmpeg"
)

// maxRequestBody bounds the JSON body of a download request.
const maxRequestBody = 64 << 10

// ClipCreator runs the clip pipeline.
type ClipCreator interface {
	Create(ctx context.Context, req domain.TrimRequest) (*service.Clip, error)
}

// ClipHandler handles clip download requests.
type ClipHandler struct {
	clips         ClipCreator
	exposeDetails bool
	logger        *slog.Logger
}

// NewClipHandler creates a new clip handler. exposeDetails adds internal
// error detail to 500 responses.
func NewClipHandler(clips ClipCreator, exposeDetails bool, logger *slog.Logger) *ClipHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClipHandler{
		clips:         clips,
		exposeDetails: exposeDetails,
		logger:        logger,
	}
}

// DownloadRequest is the JSON body for POST /api/download.
type DownloadRequest struct {
	VideoID   string   `json:"videoId"`
	URL       string   `json:"url,omitempty"`
	StartTime *float64 `json:"startTime"`
	EndTime   *float64 `json:"endTime"`
}

// ErrorResponse is the JSON body of a failed pipeline run.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Message   string   `json:"message,omitempty"`
	Details   string   `json:"details,omitempty"`
	Stage     string   `json:"stage,omitempty"`
	VideoID   string   `json:"videoId,omitempty"`
	StartTime *float64 `json:"startTime,omitempty"`
	EndTime   *float64 `json:"endTime,omitempty"`
}

// Download handles POST /api/download. It responds with the clip bytes, or a
// JSON error when any stage fails.
func (h *ClipHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	trim, err := req.toTrimRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	clip, err := h.clips.Create(r.Context(), trim)
	if err != nil {
		h.writePipelineError(w, req, trim.VideoID, err)
		return
	}
	defer clip.Release()

	h.deliver(w, clip)
}

func (req DownloadRequest) toTrimRequest() (domain.TrimRequest, error) {
	id, err := normalizeVideoID(req.VideoID, req.URL)
	if err != nil {
		return domain.TrimRequest{}, err
	}
	if id == "" {
		return domain.TrimRequest{}, errors.New("videoId is required")
	}
	if req.EndTime == nil {
		return domain.TrimRequest{}, errors.New("endTime is required")
	}

	trim := domain.TrimRequest{VideoID: domain.VideoID(id), EndTime: *req.EndTime}
	if req.StartTime != nil {
		trim.StartTime = *req.StartTime
	}
	return trim, nil
}

// normalizeVideoID accepts a bare ID or any watch, short or embed URL.
func normalizeVideoID(videoID, rawURL string) (string, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		videoID = strings.TrimSpace(rawURL)
	}
	if videoID == "" {
		return "", nil
	}
	if !strings.Contains(videoID, "youtu") && !strings.ContainsAny(videoID, "\"?&/<%=") {
		return videoID, nil
	}
	id, err := youtube.ExtractVideoID(videoID)
	if err != nil {
		return "", errors.New("could not extract a video ID from the given URL")
	}
	return id, nil
}

func (h *ClipHandler) deliver(w http.ResponseWriter, clip *service.Clip) {
	log := h.logger.With("video_id", clip.Artifacts.VideoID, "request_id", clip.Artifacts.RequestID)

	f, err := os.Open(clip.Path)
	if err != nil {
		log.Error("open clip for delivery", "error", err)
		writeError(w, http.StatusInternalServerError, "clip is no longer available")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(clip.Size, 10))
	w.Header().Set("Content-Disposition", contentDisposition(clip.Filename))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	if err != nil {
		// Headers are gone; all that is left is to log and let Release clean up.
		log.Warn("clip delivery interrupted", "stage", domain.StageDelivering, "sent", n, "size", clip.Size, "error", err)
		return
	}
	log.Debug("clip sent", "bytes", n)
}

// contentDisposition builds an attachment header. Non-ASCII names are sent in
// the RFC 2231 filename* form.
func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return `attachment; filename="clip"`
}

func (h *ClipHandler) writePipelineError(w http.ResponseWriter, req DownloadRequest, id domain.VideoID, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	case errors.Is(err, domain.ErrBusy):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp := ErrorResponse{
		Error:     summarize(err),
		Message:   err.Error(),
		VideoID:   id.String(),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		resp.Stage = stageErr.Stage.String()
	}
	if h.exposeDetails {
		resp.Details = errorDetails(err)
	}

	writeJSON(w, http.StatusInternalServerError, resp)
}

func validationMessage(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return err.Error()
}

// summarize describes err by kind in one user-facing sentence.
func summarize(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request canceled or timed out"
	case errors.Is(err, domain.ErrNoSuitableFormat):
		return "no downloadable format with both audio and video"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate limited by YouTube, try again later"
	case errors.Is(err, domain.ErrURLExpired):
		return "stream URL expired before the download finished"
	case errors.Is(err, domain.ErrResolution):
		return "could not resolve a format for this video"
	case errors.Is(err, domain.ErrFetch):
		return "could not download the video stream"
	case errors.Is(err, domain.ErrTrim):
		var dep *ffmpeg.DependencyError
		if errors.As(err, &dep) {
			return dep.Name + " is not installed on the server"
		}
		return "could not trim the video"
	}
	return "failed to download or process video"
}

func errorDetails(err error) string {
	var procErr *ffmpeg.ProcessError
	if errors.As(err, &procErr) && procErr.Stderr != "" {
		return err.Error() + "\n" + procErr.Stderr
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
