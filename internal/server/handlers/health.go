package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/keygate/keygate/internal/metrics"
)

// Check results reported per checker.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

type registeredChecker struct {
	checker HealthChecker
	// readinessOnly checkers are skipped by the liveness and startup probes,
	// so an unreachable upstream never gets the gateway restarted.
	readinessOnly bool
}

// HealthManager manages health checks and probe states
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]registeredChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]registeredChecker),
		version:  version,
	}
}

// RegisterChecker registers a checker consulted by every probe.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, checker, false)
}

// RegisterReadinessChecker registers a checker consulted only by /health and /health/ready.
func (hm *HealthManager) RegisterReadinessChecker(name string, checker HealthChecker) {
	hm.register(name, checker, true)
}

func (hm *HealthManager) register(name string, checker HealthChecker, readinessOnly bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = registeredChecker{checker: checker, readinessOnly: readinessOnly}
}

// runHealthChecks executes the registered checks in name order.
func (hm *HealthManager) runHealthChecks(ctx context.Context, includeReadiness bool) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	selected := make(map[string]HealthChecker, len(hm.checkers))
	for name, rc := range hm.checkers {
		if rc.readinessOnly && !includeReadiness {
			continue
		}
		names = append(names, name)
		selected[name] = rc.checker
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = StatusTimeout
			metrics.RecordHealthCheck(name, false, 0)
			continue
		}

		start := time.Now()
		err := selected[name].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(start))

		if err != nil {
			checks[name] = StatusUnhealthy
		} else {
			checks[name] = StatusHealthy
		}
	}

	return checks
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if status == StatusDegraded || status == StatusTimeout {
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

type probeSpec struct {
	name             string
	timeout          time.Duration
	includeReadiness bool
	failure          string
}

var (
	aggregateProbe = probeSpec{name: "", timeout: 5 * time.Second, includeReadiness: true, failure: "aggregate health check failed"}
	liveProbe      = probeSpec{name: "live", timeout: 2 * time.Second, failure: "liveness probe failed"}
	readyProbe     = probeSpec{name: "ready", timeout: 5 * time.Second, includeReadiness: true, failure: "readiness probe failed"}
	startupProbe   = probeSpec{name: "startup", timeout: 3 * time.Second, failure: "startup probe failed"}
)

// evaluate runs the checks for spec and writes an error envelope when the
// result is unhealthy. ok is false once a response has been written.
func (hm *HealthManager) evaluate(w http.ResponseWriter, r *http.Request, spec probeSpec) (string, map[string]string, bool) {
	checkCtx, cancel := context.WithTimeout(r.Context(), spec.timeout)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx, spec.includeReadiness)
	status := hm.determineOverallStatus(checks)

	if status == StatusUnhealthy {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", spec.failure)
		respondWithError(w, r, enrichHealthEnvelope(envelope, spec.name, status, checks))
		return status, checks, false
	}
	return status, checks, true
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checks, ok := hm.evaluate(w, r, aggregateProbe)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports whether the process is running.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, liveProbe)
}

// ReadinessHandler reports whether the gateway can serve traffic, including upstream reachability.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, readyProbe)
}

// StartupHandler reports whether initialization has completed.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, startupProbe)
}

func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, spec probeSpec) {
	status, _, ok := hm.evaluate(w, r, spec)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	contextData := map[string]interface{}{
		"status": status,
	}
	if probe != "" {
		contextData["probe"] = probe
	}

	var unhealthy []string
	for name, result := range checks {
		if result != StatusHealthy {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func notInitialized(w http.ResponseWriter, r *http.Request, probe string) {
	envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
	respondWithError(w, r, enrichHealthEnvelope(envelope, probe, "unknown", nil))
}

// HealthHandler serves /health from the global manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r, "aggregate")
		return
	}
	globalHealthManager.HealthHandler(w, r)
}

// LivenessHandler serves /health/live from the global manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r, "live")
		return
	}
	globalHealthManager.LivenessHandler(w, r)
}

// ReadinessHandler serves /health/ready from the global manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r, "ready")
		return
	}
	globalHealthManager.ReadinessHandler(w, r)
}

// StartupHandler serves /health/startup from the global manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r, "startup")
		return
	}
	globalHealthManager.StartupHandler(w, r)
}
