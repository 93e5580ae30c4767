package core

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the total time spent probing dependencies for the
// readiness endpoint.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is a health check against a critical dependency (the database).
type HealthProbe interface {
	// Name returns a human-readable identifier for the probe.
	Name() string

	// Check performs the health check. It should respect the context deadline
	// and return an error if the subsystem is unhealthy or unreachable.
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleLiveness reports process liveness. It performs no dependency checks.
func (s *Server) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
}

// HandleReadiness executes all registered health probes sequentially under a
// shared deadline. Returns 200 if every probe reports healthy, 503 otherwise.
// This endpoint is public and mounted at GET /health/ready.
func (s *Server) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	components := make(map[string]componentStatus, len(s.HealthProbes))
	healthy := true
	for _, probe := range s.HealthProbes {
		if err := probe.Check(ctx); err != nil {
			healthy = false
			components[probe.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
			continue
		}
		components[probe.Name()] = componentStatus{Status: "healthy"}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	JSON(w, r, status, healthResponse{Status: overall, Components: components})
}
