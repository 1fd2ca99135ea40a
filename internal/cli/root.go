package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "esprelay",
	Short: "Command relay between an operator console and polling devices",
	Long: `esprelay brokers commands from an authenticated operator to devices
that poll over HTTP, and relays each device's latest status and liveness
back to the console.

Configuration comes from an optional esprelay.yaml or esprelay.toml, an
optional .env file and the environment, in increasing order of precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("esprelay version {{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
