package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse represents a comprehensive health check response
type HealthCheckResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit,omitempty"`
	BuildTime string                 `json:"build_time,omitempty"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
	System    SystemInfo             `json:"system"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked string       `json:"last_checked"`
	Duration    string       `json:"duration,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
	MemorySys     uint64 `json:"memory_sys_bytes"`
	GCCycles      uint32 `json:"gc_cycles"`
}

// handleHealthCheck reports verifier, database and ledger health.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]HealthCheck{
		"verifier": s.checkVerifier(),
		"database": s.checkDatabase(r.Context()),
		"ledger":   s.checkLedger(),
	}

	overall := HealthStatusHealthy
	for _, c := range checks {
		switch {
		case c.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}

	statusCode := http.StatusOK
	if overall == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, HealthCheckResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		Uptime:    time.Since(s.startTime).String(),
		Checks:    checks,
		System:    getSystemInfo(),
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// handleLiveness responds while the process is serving.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"alive":      true,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"version":    Version,
		"uptime":     time.Since(s.startTime).String(),
		"request_id": middleware.GetReqID(r.Context()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

func (s *Server) checkVerifier() HealthCheck {
	if s.opts.Verifier == nil {
		return newCheck(time.Now(), HealthStatusUnhealthy, "Verifying key not loaded")
	}
	return newCheck(time.Now(), HealthStatusHealthy, "Verifying key loaded")
}

func (s *Server) checkDatabase(ctx context.Context) HealthCheck {
	start := time.Now()
	if s.opts.Store == nil {
		return newCheck(start, HealthStatusUnhealthy, "Database not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.opts.Store.Ping(ctx); err != nil {
		return newCheck(start, HealthStatusUnhealthy, err.Error())
	}
	return newCheck(start, HealthStatusHealthy, "Database connection healthy")
}

func (s *Server) checkLedger() HealthCheck {
	if s.opts.Ledger == nil {
		return newCheck(time.Now(), HealthStatusDegraded, "Ledger gateway not configured")
	}
	return newCheck(time.Now(), HealthStatusHealthy, "Ledger gateway configured for "+s.opts.Ledger.Address())
}

func newCheck(start time.Time, status HealthStatus, message string) HealthCheck {
	return HealthCheck{
		Status:      status,
		Message:     message,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Duration:    time.Since(start).String(),
	}
}

// getSystemInfo collects system information
func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		MemoryAlloc:   m.Alloc,
		MemorySys:     m.Sys,
		GCCycles:      m.NumGC,
	}
}
