package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "dev" // set at build time using -ldflags

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of relay-cli",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "relay-cli v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
