package cmd

import (
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/relay/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "relay-cli",
	Short: "Relay CLI tool",
	Long: `relay-cli is a command-line companion for a relay server.

Available commands:
  token    Issue a bearer token for a user
  seed     Create users and a chat directly in the store
  tail     Connect to a server and print the live event stream
  version  Print the version number

Commands that need server configuration read the same environment
(and .env file) as the server itself.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the server configuration.
var loadConfig = func() (*config.Config, error) {
	return config.Load(afero.NewOsFs())
}
