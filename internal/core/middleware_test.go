package core

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitrine/internal/config"
	"vitrine/internal/types"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(&config.Config{}, slog.Default())
	require.NoError(t, err)
	return srv
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var captured string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = types.GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rr.Header().Get("X-Request-Id"))
}

func TestRequestIDMiddleware_HonorsInboundHeader(t *testing.T) {
	var captured string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-from-gateway")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "req-from-gateway", captured)
	assert.Equal(t, "req-from-gateway", rr.Header().Get("X-Request-Id"))
}

func TestRecoverer_ConvertsPanicTo500(t *testing.T) {
	srv := testServer(t)

	h := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), string(types.ErrCodeInternalUnexpected))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
}

func TestScannerBlockerMiddleware_BlocksProbePaths(t *testing.T) {
	var reached bool
	h := ScannerBlockerMiddleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	for _, path := range []string{"/wp-admin/setup.php", "/.env", "/.git/config", "/phpmyadmin/index.php"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, "path %s", path)
	}
	assert.False(t, reached)
}

func TestScannerBlockerMiddleware_PassesNormalPaths(t *testing.T) {
	var reached bool
	h := ScannerBlockerMiddleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/pagbank", nil))
	assert.True(t, reached)
}

func TestHandleLiveness(t *testing.T) {
	srv := testServer(t)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}

type staticProbe struct {
	name string
	err  error
}

func (p staticProbe) Name() string                  { return p.name }
func (p staticProbe) Check(_ context.Context) error { return p.err }

func TestHandleReadiness_AllHealthy(t *testing.T) {
	srv := testServer(t)
	srv.HealthProbes = []HealthProbe{staticProbe{name: "database"}}

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"database"`)
}

func TestHandleReadiness_UnhealthyProbeIs503(t *testing.T) {
	srv := testServer(t)
	srv.HealthProbes = []HealthProbe{
		staticProbe{name: "database", err: assert.AnError},
	}

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "unhealthy")
}

func TestError_AppErrorMapping(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))

	rr := httptest.NewRecorder()
	Error(rr, req, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "webhook signature verification failed", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), string(types.ErrCodeAuthSignatureInvalid))
	assert.Contains(t, rr.Body.String(), `"request_id":"req-1"`)
}

func TestError_UnknownErrorIs500(t *testing.T) {
	rr := httptest.NewRecorder()
	Error(rr, httptest.NewRequest(http.MethodGet, "/", nil), assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), string(types.ErrCodeInternalUnexpected))
}
