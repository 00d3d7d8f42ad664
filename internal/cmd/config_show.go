package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/core"
	errwrap "github.com/keygate/keygate/internal/errors"
	"github.com/keygate/keygate/internal/output"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect gateway configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with credentials masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(configFormat, output.FormatYAML)
		if err != nil {
			return errwrap.NewInvalidInputError(err.Error())
		}
		if format != output.FormatJSON && format != output.FormatYAML {
			return errwrap.NewInvalidInputError(fmt.Sprintf("config show supports json or yaml, got %s", format))
		}

		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "failed to load configuration")
		}

		rendered, err := output.FormatDocument(format, redactConfig(cfg))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

// redactConfig returns a copy of cfg whose credential keys are masked.
func redactConfig(cfg *config.Config) config.Config {
	redacted := *cfg
	redacted.Credentials.Keys = make([]string, len(cfg.Credentials.Keys))
	for i, key := range cfg.Credentials.Keys {
		redacted.Credentials.Keys[i] = core.Credential(key).Masked()
	}
	return redacted
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configShowCmd.Flags().StringVarP(&configFormat, "output-format", "o", "yaml", "output format: yaml or json")
}
