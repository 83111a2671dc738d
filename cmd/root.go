package cmd

import (
	"github.com/halcyon-fuzz/halcyon/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cmdLogger is the logger used by the command line layer before a project configuration is
// loaded and the global logger is configured from it.
var cmdLogger = logging.NewLogger(zerolog.InfoLevel, true)

var rootCmd = &cobra.Command{
	Use:   "halcyon",
	Short: "A stateful property-based fuzzing harness for smart contract scenarios",
	Long:  "halcyon is a stateful property-based fuzzing harness for smart contract scenarios",
}

func Execute() error {
	return rootCmd.Execute()
}
