package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/appid"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// App identity loaded from the embedded app.yaml or .fulmen/app.yaml
	appIdentity *appidentity.Identity

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the loaded app identity (only valid after initConfig)
func GetAppIdentity() *appidentity.Identity {
	return appIdentity
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	// NOTE: initConfig() overwrites these from app identity.
	Use:   filepath.Base(os.Args[0]),
	Short: "Credential-rotating forwarding gateway",
	Long: `Forward HTTP requests to a rate-limited API, spreading them across a pool
of credentials so no credential exceeds its quota.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so config loading does not emit metrics
	// to stdout. serve initializes the real system later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	// Load app identity early for help text (before cobra processes --help)
	if identity, err := appid.Get(context.Background()); err == nil && identity != nil {
		appIdentity = identity
		applyIdentityToHelp(identity)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; defaults to app identity config path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

func applyIdentityToHelp(identity *appidentity.Identity) {
	if identity.BinaryName != "" {
		rootCmd.Use = identity.BinaryName
	}
	if identity.Description != "" {
		rootCmd.Short = identity.Description
		rootCmd.Long = fmt.Sprintf("%s - %s\n\nUse the subcommands to perform specific operations.", identity.BinaryName, identity.Description)
	}
}

// initConfig resolves identity, a local .env file and the CLI logger.
// Gateway settings themselves are loaded per command through loadConfig.
func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitFileNotFound, "Failed to load app identity", err)
	}
	appIdentity = identity
	applyIdentityToHelp(identity)

	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}

	observability.InitCLILogger(identity.BinaryName, verbose)

	// A missing .env is normal; real environment variables still win.
	if err := godotenv.Load(); err == nil && verbose {
		observability.CLILogger.Debug("Loaded environment from .env")
	}
}

// loadConfig loads gateway configuration honoring --config plus any
// command-level overrides.
func loadConfig(ctx context.Context, overrides map[string]any) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if len(overrides) > 0 {
		cfg, err = config.Load(ctx, cfgFile, overrides)
	} else {
		cfg, err = config.Load(ctx, cfgFile)
	}
	if err != nil {
		return nil, err
	}

	if observability.CLILogger != nil {
		observability.CLILogger.Debug("Configuration loaded",
			zap.String("config_file", cfgFile),
			zap.Int("credentials", len(cfg.Credentials.Keys)))
	}
	return cfg, nil
}
