// ABOUTME: HTTP router assembly with correlation ids, request logging, and CORS
// ABOUTME: Wraps the API mux for the daemon's HTTP server

package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"

	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// AllowedOrigins lists browser origins allowed to call the API.
	// Empty allows any origin.
	AllowedOrigins []string

	Logger *slog.Logger
}

// NewRouter registers the handler's routes and wraps them in middleware.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = LoggingMiddleware(cfg.Logger)(handler)
	handler = observability.CorrelationMiddleware(handler)
	handler = cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", observability.CorrelationIDHeader},
		ExposedHeaders: []string{observability.CorrelationIDHeader},
		MaxAge:         300,
	})(handler)
	return handler
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs each request with its status and duration.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Skip logging for health checks.
			if strings.HasSuffix(r.URL.Path, "/health") {
				return
			}
			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
