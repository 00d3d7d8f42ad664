package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/observability"
	"github.com/keygate/keygate/internal/output"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information. Credentials are masked.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()
		identity := GetAppIdentity()

		log.Info("=== Keygate Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("  Env Prefix: " + identity.EnvPrefix)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Configuration:")
		log.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		log.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		log.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		log.Info("")

		log.Info("Upstream:")
		log.Info("  Base URL:       "+cfg.Upstream.BaseURL, zap.String("base_url", cfg.Upstream.BaseURL))
		log.Info("  Timeout:        " + cfg.Upstream.Timeout.String())
		log.Info(fmt.Sprintf("  Auth:           %s: %s <credential>", cfg.Upstream.AuthHeader, cfg.Upstream.AuthScheme))
		log.Info("")

		listing := output.NewPoolListing(cfg.Credentials.Keys, cfg.Credentials.RateLimit, cfg.Credentials.Window)
		log.Info("Credential Pool:")
		log.Info(fmt.Sprintf("  Size:           %d", listing.Size), zap.Int("pool_size", listing.Size))
		log.Info(fmt.Sprintf("  Quota:          %d per %s", listing.Limit, listing.Window))
		for _, entry := range listing.Credentials {
			log.Info(fmt.Sprintf("  [%d] %s (%s)", entry.Index, entry.Masked, entry.ID))
		}
		for _, warning := range cfg.Warnings() {
			log.Warn("  " + warning)
		}
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
