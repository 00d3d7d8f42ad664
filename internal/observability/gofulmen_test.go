package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/observability"
)

func TestLoggers(t *testing.T) {
	t.Run("CLI logger", func(t *testing.T) {
		observability.InitCLILogger("keygate-test", true)

		if observability.CLILogger == nil {
			t.Fatal("CLI logger should not be nil after initialization")
		}
		observability.CLILogger.Debug("verbose cli message", zap.String("test", "value"))
	})

	t.Run("Structured server logger", func(t *testing.T) {
		observability.InitServerLogger("keygate-test", "debug", observability.ProfileStructured, "keygate")

		if observability.ServerLogger == nil {
			t.Fatal("Server logger should not be nil after initialization")
		}
		observability.ServerLogger.Info("credential granted",
			zap.String("credential", "0a1b2c3d"),
			zap.Int("cursor", 1))
	})

	t.Run("Simple server logger", func(t *testing.T) {
		observability.InitServerLogger("keygate-test", "warn", observability.ProfileSimple)

		if observability.ServerLogger == nil {
			t.Fatal("Server logger should not be nil after initialization")
		}
		observability.ServerLogger.Warn("pool exhausted", zap.Duration("wait", 0))
	})
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" info ":  "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"verbose": "INFO",
		"":        "INFO",
	}
	for in, want := range cases {
		if got := observability.ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInitMetricsRandomPort(t *testing.T) {
	original := observability.TelemetrySystem
	t.Cleanup(func() { observability.TelemetrySystem = original })

	if err := observability.InitMetrics("keygate-test", 0, "keygate"); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	t.Cleanup(func() { _ = observability.PrometheusExporter.Stop() })

	if observability.TelemetrySystem == nil {
		t.Fatal("TelemetrySystem should be set")
	}
	if observability.GetMetricsPort() <= 0 {
		t.Fatalf("expected a bound metrics port, got %d", observability.GetMetricsPort())
	}
}

func TestEmbeddedCrucibleVersion(t *testing.T) {
	version := crucible.GetVersion()
	if version.Gofulmen == "" {
		t.Error("Gofulmen version should not be empty")
	}
	if version.Crucible == "" {
		t.Error("Crucible version should not be empty")
	}
}
