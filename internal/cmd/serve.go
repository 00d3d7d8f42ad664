package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/core/engine"
	errwrap "github.com/keygate/keygate/internal/errors"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/observability"
	"github.com/keygate/keygate/internal/proxy"
	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

// serveOverrides turns explicitly set --host/--port flags into runtime overrides.
func serveOverrides(cmd *cobra.Command) map[string]any {
	serverOverrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		serverOverrides["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		serverOverrides["port"] = serverPort
	}
	if len(serverOverrides) == 0 {
		return nil
	}
	return map[string]any{"server": serverOverrides}
}

// gateway is the assembled serving stack.
type gateway struct {
	rotator   *engine.Rotator
	forwarder *proxy.Forwarder
	server    *server.Server
}

// buildGateway wires the rotator, forwarder and HTTP server from cfg.
func buildGateway(cfg *config.Config) (*gateway, error) {
	rotator, err := engine.NewRotator(cfg.Credentials.Keys, cfg.Credentials.RateLimit, cfg.Credentials.Window)
	if err != nil {
		return nil, errwrap.WrapConfigInvalid(context.Background(), err, "credential pool invalid")
	}

	forwarder, err := proxy.New(rotator, proxy.Options{
		BaseURL:    cfg.Upstream.BaseURL,
		Timeout:    cfg.Upstream.Timeout,
		AuthHeader: cfg.Upstream.AuthHeader,
		AuthScheme: cfg.Upstream.AuthScheme,

		BodyReadTimeout: cfg.Server.ReadTimeout,
	})
	if err != nil {
		return nil, errwrap.WrapConfigInvalid(context.Background(), err, "upstream invalid")
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithForwarder(forwarder),
		server.WithPool(rotator),
		server.WithTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		}),
	)

	return &gateway{rotator: rotator, forwarder: forwarder, server: srv}, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the forwarding gateway. Requests to /proxy/<path> are sent to the
configured upstream with a credential from the pool.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate configuration (pool changes need a restart)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig(ctx, serveOverrides(cmd))
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "failed to load configuration")
		}
		if err := cfg.Validate(); err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration",
				errwrap.WrapConfigInvalid(ctx, err, "invalid configuration"))
			return nil
		}

		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		logLevel := cfg.Logging.Level
		if verbose {
			logLevel = "debug"
		}
		observability.InitServerLogger(identity.BinaryName, logLevel, cfg.Logging.Profile, namespace)
		for _, warning := range cfg.Warnings() {
			observability.ServerLogger.Warn(warning)
		}

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		gw, err := buildGateway(cfg)
		if err != nil {
			return err
		}
		metrics.SetPoolSize(gw.rotator.Size())
		metrics.SetServerStartTime(time.Now().Unix())

		observability.ServerLogger.Info("Initializing gateway",
			zap.String("service", identity.BinaryName),
			zap.String("version", versionInfo.Version),
			zap.String("upstream", cfg.Upstream.BaseURL),
			zap.Int("credentials", gw.rotator.Size()),
			zap.Int("rate_limit", cfg.Credentials.RateLimit),
			zap.Duration("window", cfg.Credentials.Window),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
			zap.Int("metrics_port", cfg.Metrics.Port))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("pool", handlers.PoolChecker(gw.rotator))
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterReadinessChecker("upstream", handlers.UpstreamChecker(cfg.Upstream.BaseURL))
		handlers.SetAppIdentity(identity)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: server first, then logger flush.
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down gateway...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if observability.PrometheusExporter != nil {
				_ = observability.PrometheusExporter.Stop()
			}
			if err := gw.server.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("Gateway stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: re-validating configuration")
			return reloadConfig(ctx, cfg)
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			observability.ServerLogger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := gw.server.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
				return
			}
			errChan <- nil
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}
		return nil
	},
}

// reloadConfig re-reads configuration and reports what changed. The pool
// and upstream are fixed for the life of the process.
func reloadConfig(ctx context.Context, running *config.Config) error {
	next, err := loadConfig(ctx, nil)
	if err != nil {
		observability.ServerLogger.Error("Failed to reload configuration", zap.Error(err))
		return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
	}
	if err := next.Validate(); err != nil {
		observability.ServerLogger.Error("Reloaded configuration is invalid", zap.Error(err))
		return errwrap.WrapConfigInvalid(ctx, err, "config reload invalid")
	}

	for _, change := range restartRequired(running, next) {
		observability.ServerLogger.Warn("Configuration change requires restart", zap.String("setting", change))
	}
	observability.ServerLogger.Info("Configuration re-validated")
	return nil
}

// restartRequired lists settings that differ but only apply at startup.
func restartRequired(running, next *config.Config) []string {
	var changes []string
	if !equalKeys(running.Credentials.Keys, next.Credentials.Keys) {
		changes = append(changes, "credentials.keys")
	}
	if running.Credentials.RateLimit != next.Credentials.RateLimit {
		changes = append(changes, "credentials.rate_limit")
	}
	if running.Credentials.Window != next.Credentials.Window {
		changes = append(changes, "credentials.window")
	}
	if running.Upstream != next.Upstream {
		changes = append(changes, "upstream")
	}
	if running.Server.Host != next.Server.Host || running.Server.Port != next.Server.Port {
		changes = append(changes, "server.address")
	}
	return changes
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "server host (overrides config)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8000, "server port (overrides config)")
}
