package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	errwrap "github.com/keygate/keygate/internal/errors"
	"github.com/keygate/keygate/internal/output"
)

var poolFormat string

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect the configured credential pool",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured credentials (masked)",
	Long: `List the credentials the gateway would rotate through, with their quota.
Secrets are masked; the ID column matches the credential label used in logs
and metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(poolFormat, output.FormatTable)
		if err != nil {
			return errwrap.NewInvalidInputError(err.Error())
		}

		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "failed to load configuration")
		}

		listing := output.NewPoolListing(cfg.Credentials.Keys, cfg.Credentials.RateLimit, cfg.Credentials.Window)
		rendered, err := output.FormatPool(format, listing)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolListCmd)
	poolListCmd.Flags().StringVarP(&poolFormat, "output-format", "o", "table", "output format: table, markdown, json, yaml")
}
