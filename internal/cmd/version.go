package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/output"
	"github.com/keygate/keygate/internal/server/handlers"
)

var (
	extended      bool
	versionFormat string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		identity := GetAppIdentity()

		if versionFormat == string(output.FormatJSON) {
			rendered, err := output.FormatDocument(output.FormatJSON, handlers.CurrentVersion())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rendered)
			return nil
		}

		fmt.Fprintf(out, "%s %s\n", identity.BinaryName, versionInfo.Version)
		if !extended {
			return nil
		}

		fmt.Fprintf(out, "Commit: %s\n", versionInfo.Commit)
		fmt.Fprintf(out, "Built: %s\n", versionInfo.BuildDate)
		fmt.Fprintf(out, "Go: %s\n", runtime.Version())
		fmt.Fprintln(out)

		version := crucible.GetVersion()
		fmt.Fprintf(out, "Gofulmen: %s\n", version.Gofulmen)
		fmt.Fprintf(out, "Crucible: %s\n", version.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
	versionCmd.Flags().StringVar(&versionFormat, "output-format", "text", "output format: text or json")
}
