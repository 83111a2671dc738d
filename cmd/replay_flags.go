package cmd

import (
	"fmt"

	"github.com/halcyon-fuzz/halcyon/fuzzing/config"
	"github.com/spf13/cobra"
)

// addReplayFlags adds the various flags for the replay command
func addReplayFlags() {
	// Get the default project config for flag descriptions
	defaultConfig := config.GetDefaultProjectConfig()

	// Prevent alphabetical sorting of usage message
	replayCmd.Flags().SortFlags = false

	// Config file
	replayCmd.Flags().String("config", "", "path to config file")

	// Scenario selection
	replayCmd.Flags().String("scenario", "",
		"name of the registered scenario the record was persisted for (optional when exactly one scenario is registered)")

	// Archive directory
	replayCmd.Flags().String("archive-dir", "",
		fmt.Sprintf("directory path for the failure record archive (unless a config file is provided, default is %q)", defaultConfig.Fuzzing.ArchiveDirectory))
}

// updateProjectConfigWithReplayFlags will update the given projectConfig with any CLI arguments
// that were provided to the replay command
func updateProjectConfigWithReplayFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error

	// Update archive directory
	if cmd.Flags().Changed("archive-dir") {
		projectConfig.Fuzzing.ArchiveDirectory, err = cmd.Flags().GetString("archive-dir")
		if err != nil {
			return err
		}
	}
	return nil
}
