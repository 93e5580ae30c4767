package core

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"vitrine/internal/types"
)

// requestIDHeader is the inbound/outbound header carrying the request ID.
const requestIDHeader = "X-Request-Id"

// RequestIDMiddleware assigns each request a unique ID, honoring an inbound
// X-Request-Id header when present, and stores it in the request context for
// log correlation and response envelopes.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
	})
}

// Recoverer converts panics in downstream handlers into 500 responses instead
// of tearing down the process, logging the panic value and stack context.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.Logger.ErrorContext(r.Context(), "panic recovered",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
				)
				Error(w, r, types.NewAppError(
					types.ErrCodeInternalUnexpected,
					"an unexpected error occurred",
					nil,
				))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusCapture wraps a ResponseWriter to record the status code for logging.
type statusCapture struct {
	http.ResponseWriter
	status int
}

func (sc *statusCapture) WriteHeader(code int) {
	if sc.status == 0 {
		sc.status = code
	}
	sc.ResponseWriter.WriteHeader(code)
}

func (sc *statusCapture) Write(b []byte) (int, error) {
	if sc.status == 0 {
		sc.status = http.StatusOK
	}
	return sc.ResponseWriter.Write(b)
}

// RequestLogger emits one structured log line per request with method, path,
// status, duration, and request ID. Header values are never logged; webhook
// signature headers stay out of the logs.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sc := &statusCapture{ResponseWriter: w}

			next.ServeHTTP(sc, r)

			status := sc.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", types.GetRequestID(r.Context()),
			)
		})
	}
}

// SecurityHeadersMiddleware sets baseline security response headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// scannerPathPrefixes is a static blocklist of paths probed by vulnerability
// scanners. Requests matching these never reach the handlers.
var scannerPathPrefixes = []string{
	"/wp-admin",
	"/wp-login",
	"/wp-content",
	"/xmlrpc.php",
	"/.env",
	"/.git",
	"/phpmyadmin",
	"/admin/config.php",
	"/cgi-bin",
	"/vendor/phpunit",
	"/actuator",
	"/config.json",
}

// ScannerBlockerMiddleware short-circuits requests to well-known scanner
// probe paths with a plain 404 before any routing or logging of interest.
func ScannerBlockerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := strings.ToLower(r.URL.Path)
			for _, prefix := range scannerPathPrefixes {
				if strings.HasPrefix(path, prefix) {
					logger.WarnContext(r.Context(), "blocked scanner probe",
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
					)
					http.NotFound(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
