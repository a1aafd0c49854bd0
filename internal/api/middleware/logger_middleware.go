package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"norelock.dev/listenify/providerhost/internal/utils"
)

// RequestObserver receives per-request measurements.
type RequestObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
	IncHTTPRequestsInProgress(method string)
	DecHTTPRequestsInProgress(method string)
}

// LoggerMiddleware handles request logging and metrics for the API.
type LoggerMiddleware struct {
	logger   *utils.Logger
	observer RequestObserver
}

// NewLoggerMiddleware creates a new logger middleware. observer may be nil.
func NewLoggerMiddleware(logger *utils.Logger, observer RequestObserver) *LoggerMiddleware {
	return &LoggerMiddleware{
		logger:   logger.Named("http"),
		observer: observer,
	}
}

// Logger is a middleware that logs HTTP requests.
func (m *LoggerMiddleware) Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		if m.observer != nil {
			m.observer.IncHTTPRequestsInProgress(r.Method)
			defer m.observer.DecHTTPRequestsInProgress(r.Method)
		}

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		if m.observer != nil {
			m.observer.ObserveHTTPRequest(r.Method, routePattern(r), status, duration)
		}

		m.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
			"ip", utils.GetRequestIP(r),
			"requestId", chimw.GetReqID(r.Context()),
		)
	})
}

// routePattern keeps metric labels bounded by using the matched route.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
