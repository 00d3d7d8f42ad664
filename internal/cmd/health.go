package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/core/engine"
	errwrap "github.com/keygate/keygate/internal/errors"
	"github.com/keygate/keygate/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the gateway could start: version info, logger and a valid configuration.",
	Run: func(cmd *cobra.Command, args []string) {
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		logger.Info("✅ Version information available")
		logger.Info("✅ Logger initialized")

		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration could not be loaded", errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed"))
			return
		}
		if err := cfg.Validate(); err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "config invalid"))
			return
		}
		for _, warning := range cfg.Warnings() {
			logger.Warn(warning)
		}
		logger.Info("✅ Configuration valid",
			zap.Int("credentials", len(cfg.Credentials.Keys)),
			zap.String("upstream", cfg.Upstream.BaseURL))

		if _, err := engine.NewRotator(cfg.Credentials.Keys, cfg.Credentials.RateLimit, cfg.Credentials.Window); err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Credential pool invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "pool invalid"))
			return
		}
		logger.Info("✅ Credential pool ready")

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
