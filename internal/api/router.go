package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/ytclip/internal/api/handler"
	mw "github.com/iconidentify/ytclip/internal/api/middleware"
)

// RouterConfig holds the cross-cutting HTTP settings.
type RouterConfig struct {
	CORS   mw.CORSConfig
	APIKey string // empty disables auth on the download route
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	clipHandler *handler.ClipHandler,
	progressHandler *handler.ProgressHandler,
	healthHandler *handler.HealthHandler,
	uiHandler *handler.UIHandler,
	cfg RouterConfig,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.CORS(cfg.CORS))

	// Health endpoints
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	// Web UI
	r.Get("/", uiHandler.Index)

	r.Route("/api", func(r chi.Router) {
		r.Get("/test", healthHandler.Test)
		r.Get("/stats", healthHandler.Stats)
		r.Get("/progress/{videoID}", progressHandler.Stream)

		r.With(mw.APIKeyAuth(cfg.APIKey)).Post("/download", clipHandler.Download)
	})

	return r
}
