package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/iconidentify/ytclip/internal/repository"
)

var startTime = time.Now()

// ToolChecker reports whether the media tools can be executed.
type ToolChecker interface {
	CheckTools() error
}

// PipelineStats reports pipeline load.
type PipelineStats interface {
	InFlight() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	tools    ToolChecker
	storage  repository.ArtifactRepository
	pipeline PipelineStats
	cpu      *cpuSampler
}

// NewHealthHandler creates a new health handler. pipeline may be nil.
func NewHealthHandler(tools ToolChecker, storage repository.ArtifactRepository, pipeline PipelineStats) *HealthHandler {
	return &HealthHandler{
		tools:    tools,
		storage:  storage,
		pipeline: pipeline,
		cpu:      &cpuSampler{},
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Test handles GET /api/test - plain liveness message.
func (h *HealthHandler) Test(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API server is running"})
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe. The service is ready when
// ffmpeg and ffprobe can run and the temp directory is readable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if err := h.tools.CheckTools(); err != nil {
		checks["ffmpeg"] = err.Error()
		ready = false
	} else {
		checks["ffmpeg"] = "ok"
	}

	if _, err := h.storage.Stats(ctx); err != nil {
		checks["storage"] = err.Error()
		ready = false
	} else {
		checks["storage"] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !ready {
		status, code = "error", http.StatusServiceUnavailable
	}

	writeJSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// SystemStats contains system resource statistics.
type SystemStats struct {
	Uptime         int64   `json:"uptime_seconds"`
	UptimeHuman    string  `json:"uptime_human"`
	MemAllocMB     int64   `json:"mem_alloc_mb"`
	MemSysMB       int64   `json:"mem_sys_mb"`
	MemHeapMB      int64   `json:"mem_heap_mb"`
	NumGoroutines  int     `json:"num_goroutines"`
	NumCPU         int     `json:"num_cpu"`
	CPUPct         float64 `json:"cpu_pct"`
	DiskUsedBytes  int64   `json:"disk_used_bytes"`
	DiskFreeBytes  int64   `json:"disk_free_bytes"`
	DiskTotalBytes int64   `json:"disk_total_bytes"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
	TempPath       string  `json:"temp_path"`
	TempFiles      int     `json:"temp_files"`
	TempBytes      int64   `json:"temp_bytes"`
	ClipsInFlight  int     `json:"clips_in_flight"`
}

// Stats handles GET /api/stats - system statistics.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		MemHeapMB:     int64(m.HeapAlloc / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		CPUPct:        h.cpu.sample(),
	}

	if storage, err := h.storage.Stats(r.Context()); err == nil {
		stats.TempPath = storage.Path
		stats.TempFiles = storage.Files
		stats.TempBytes = storage.Bytes
		stats.DiskTotalBytes = storage.Disk.Total
		stats.DiskFreeBytes = storage.Disk.Free
		stats.DiskUsedBytes = storage.Disk.Used
		stats.DiskUsedPct = storage.Disk.UsedPct()
	}
	if h.pipeline != nil {
		stats.ClipsInFlight = h.pipeline.InFlight()
	}

	writeJSON(w, http.StatusOK, stats)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
