package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Status of one health check or of the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the outcome of one checker.
type Check struct {
	Name       string   `json:"name"`
	Status     Status   `json:"status"`
	Message    string   `json:"message,omitempty"`
	Details    []string `json:"details,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// CheckFunc returns the problems it found; none means healthy.
type CheckFunc func(ctx context.Context) []error

// HealthHandler serves /healthz by running every registered check.
type HealthHandler struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	version   string
	startTime time.Time
}

// NewHealthHandler creates a handler with no checks.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		checks:    make(map[string]CheckFunc),
		version:   version,
		startTime: time.Now(),
	}
}

// Register adds a named check.
func (h *HealthHandler) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	response := HealthResponse{
		Status:        StatusHealthy,
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]Check, len(checks)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	for name, run := range checks {
		start := time.Now()
		problems := run(r.Context())
		check := Check{
			Name:       name,
			Status:     StatusHealthy,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if len(problems) > 0 {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("%d problem(s) found", len(problems))
			for _, p := range problems {
				check.Details = append(check.Details, p.Error())
			}
			response.Status = StatusUnhealthy
		}
		response.Checks[name] = check
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = jsoniter.ConfigFastest.NewEncoder(w).Encode(response)
}

// LivenessHandler always answers 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
