// Package api assembles the HTTP surface of the service.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/splitledger/internal/api/handlers"
	"github.com/dvloznov/splitledger/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RouterConfig tunes the middleware stack.
type RouterConfig struct {
	AllowedOrigins []string
	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// NewRouter returns the API handler. blobs may be nil when uploads go to cloud storage.
func NewRouter(cfg RouterConfig, csv *handlers.CSVHandler, blobs *handlers.BlobsHandler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst, log))
		}

		r.Route("/csv", func(r chi.Router) {
			r.Get("/", csv.ListJobs)
			r.Post("/upload", csv.InitiateUpload)
			r.Get("/{jobId}", csv.GetJobStatus)
			r.Post("/{jobId}/uploadCompleted", csv.UploadCompleted)
		})

		if blobs != nil {
			r.Put("/blobs/{bucket}/*", blobs.Upload)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
