package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})

	return collector
}

func TestRotationMetricsEmitted(t *testing.T) {
	collector := setupTelemetry(t)

	RecordCredentialGrant("0a1b2c3d")
	RecordPoolExhausted(1500 * time.Millisecond)

	assert.Greater(t, collector.CountMetricsByName(CredentialGrantsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(PoolExhaustedTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(PoolWaitDuration), 0)
}

func TestUpstreamMetricsEmitted(t *testing.T) {
	collector := setupTelemetry(t)

	RecordUpstreamRequest("POST", 200, 20*time.Millisecond)
	RecordUpstreamError("transport")

	assert.Greater(t, collector.CountMetricsByName(UpstreamRequestsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(UpstreamDuration), 0)
	assert.Greater(t, collector.CountMetricsByName(UpstreamErrorsTotal), 0)
}

func TestMetricsNoopWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})

	assert.NotPanics(t, func() {
		RecordCredentialGrant("0a1b2c3d")
		RecordPoolExhausted(time.Second)
		RecordUpstreamRequest("GET", 502, time.Millisecond)
		RecordUpstreamError("timeout")
		SetPoolSize(3)
		SetServerStartTime(time.Now().Unix())
		RecordHealthCheck("pool", true, time.Millisecond)
	})
}
