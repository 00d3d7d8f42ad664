package metrics

import (
	"strconv"
	"time"

	"github.com/keygate/keygate/internal/observability"
)

// Gateway metrics following Prometheus conventions
var (
	// Credential rotation metrics
	CredentialGrantsTotal = "keygate_credential_grants_total"
	PoolExhaustedTotal    = "keygate_pool_exhausted_total"
	PoolWaitDuration      = "keygate_pool_wait_ms"

	// Upstream forwarding metrics
	UpstreamRequestsTotal = "keygate_upstream_requests_total"
	UpstreamErrorsTotal   = "keygate_upstream_errors_total"
	UpstreamDuration      = "keygate_upstream_duration_ms"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	PoolSize        = "keygate_pool_size"
)

// RecordCredentialGrant records a credential handed out by the rotator.
// credentialID must be the hashed ID, never the secret.
func RecordCredentialGrant(credentialID string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CredentialGrantsTotal,
			1,
			map[string]string{
				"credential": credentialID,
			},
		)
	}
}

// RecordPoolExhausted records a full pass that found no spare quota and the wait it imposed.
func RecordPoolExhausted(wait time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PoolExhaustedTotal, 1, nil)
		_ = observability.TelemetrySystem.Histogram(PoolWaitDuration, wait, nil)
	}
}

// RecordUpstreamRequest records a completed upstream call.
func RecordUpstreamRequest(method string, status int, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamRequestsTotal,
			1,
			map[string]string{
				"method": method,
				"status": strconv.Itoa(status),
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			UpstreamDuration,
			duration,
			map[string]string{
				"method": method,
			},
		)
	}
}

// RecordUpstreamError records an upstream call that failed before a response arrived.
func RecordUpstreamError(errorType string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamErrorsTotal,
			1,
			map[string]string{
				"error_type": errorType,
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetPoolSize records the number of configured credentials.
func SetPoolSize(size int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			PoolSize,
			float64(size),
			nil,
		)
	}
}
