package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/halcyon-fuzz/halcyon/fuzzing/config"
	"github.com/halcyon-fuzz/halcyon/logging"
	"github.com/halcyon-fuzz/halcyon/logging/colors"
	"github.com/halcyon-fuzz/halcyon/scenario"
	"github.com/halcyon-fuzz/halcyon/utils"
	"github.com/spf13/cobra"
)

// loadProjectConfig resolves and reads a project configuration for a command:
// #1: We will search for either a custom config file (via --config) or the default
// (halcyon.json). If we find it, read it. If we can't read it, throw an error.
// #2: If a custom file was provided (--config was used), and we can't find the file, throw an
// error.
// #3: If halcyon.json can't be found, use the default project configuration.
func loadProjectConfig(cmd *cobra.Command) (*config.ProjectConfig, error) {
	var projectConfig *config.ProjectConfig

	// Check to see if --config flag was used and store the value of --config flag
	configFlagUsed := cmd.Flags().Changed("config")
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// If --config was not used, look for `halcyon.json` in the current work directory
	if !configFlagUsed {
		workingDirectory, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(workingDirectory, DefaultProjectConfigFilename)
	}

	// Check to see if the file exists at configPath
	_, existenceError := os.Stat(configPath)

	// Possibility #1: File was found
	if existenceError == nil {
		// Try to read the configuration file and throw an error if something goes wrong
		cmdLogger.Info("Reading the configuration file at: ", colors.Bold, configPath, colors.Reset)
		projectConfig, err = config.ReadProjectConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
	}

	// Possibility #2: If the --config flag was used, and we couldn't find the file, we'll throw
	// an error
	if configFlagUsed && existenceError != nil {
		return nil, existenceError
	}

	// Possibility #3: --config flag was not used and halcyon.json was not found, so use the
	// default project config
	if !configFlagUsed && existenceError != nil {
		cmdLogger.Warn(fmt.Sprintf("Unable to find the config file at %v, will use the default project configuration instead", configPath))
		projectConfig = config.GetDefaultProjectConfig()
	}

	return projectConfig, nil
}

// setupGlobalLogger configures the global logger from the project configuration's logging
// section, attaching a structured file writer when a log directory is configured.
func setupGlobalLogger(projectConfig *config.ProjectConfig) error {
	logging.GlobalLogger = logging.NewLogger(projectConfig.Fuzzing.Logging.Level, projectConfig.Fuzzing.Logging.EnableConsoleLogging)
	if projectConfig.Fuzzing.Logging.LogDirectory != "" {
		file, err := utils.CreateFile(projectConfig.Fuzzing.Logging.LogDirectory, "halcyon.log")
		if err != nil {
			return err
		}
		logging.GlobalLogger.AddWriter(file, logging.STRUCTURED)
	}
	return nil
}

// resolveScenario resolves the scenario a command should operate on. When the --scenario flag
// was provided, the named registered scenario is used. Otherwise, a sole registered scenario is
// used implicitly, and anything else is an error listing the registered names.
func resolveScenario(cmd *cobra.Command) (*scenario.Scenario, error) {
	if cmd.Flags().Changed("scenario") {
		scenarioName, err := cmd.Flags().GetString("scenario")
		if err != nil {
			return nil, err
		}
		return scenario.Lookup(scenarioName)
	}

	registeredNames := scenario.RegisteredNames()
	if len(registeredNames) == 1 {
		return scenario.Lookup(registeredNames[0])
	}
	if len(registeredNames) == 0 {
		return nil, fmt.Errorf("no scenarios are registered; register scenarios with scenario.Register before invoking commands")
	}
	return nil, fmt.Errorf("multiple scenarios are registered, select one with --scenario (registered: %v)", registeredNames)
}
