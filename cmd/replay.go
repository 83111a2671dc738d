package cmd

import (
	"context"
	"fmt"

	"github.com/halcyon-fuzz/halcyon/chain"
	"github.com/halcyon-fuzz/halcyon/cmd/exitcodes"
	"github.com/halcyon-fuzz/halcyon/fuzzing/archive"
	"github.com/halcyon-fuzz/halcyon/logging/colors"
	"github.com/halcyon-fuzz/halcyon/scenario"
	"github.com/spf13/cobra"
)

// replayCmd represents the command provider for replaying persisted failure records
var replayCmd = &cobra.Command{
	Use:               "replay [record key]",
	Short:             "Replays a persisted failure record",
	Long:              `Replays a persisted failure record from the archive and reports whether the failure reproduces. Without a record key, lists the archived records.`,
	Args:              cmdValidateReplayArgs,
	ValidArgsFunction: cmdValidFuzzArgs,
	RunE:              cmdRunReplay,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the replay command
	addReplayFlags()

	// Add the replay command and its associated flags to the root command
	rootCmd.AddCommand(replayCmd)
}

// cmdValidateReplayArgs makes sure at most one record key is provided to the replay command
func cmdValidateReplayArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.RangeArgs(0, 1)(cmd, args); err != nil {
		err = fmt.Errorf("replay accepts at most one record key argument")
		cmdLogger.Error("Failed to validate args to the replay command", err)
		return err
	}
	return nil
}

// cmdRunReplay executes the CLI replay command. With no record key it lists the archived failure
// records. With a record key it re-executes the persisted trace through a fresh backend and
// reports whether the recorded failure reproduces.
func cmdRunReplay(cmd *cobra.Command, args []string) error {
	// Load the project configuration
	projectConfig, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}

	// Update the project configuration given whatever flags were set using the CLI
	err = updateProjectConfigWithReplayFlags(cmd, projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}

	// Configure the global logger from the project configuration
	err = setupGlobalLogger(projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}

	// Open the archive the records are persisted in
	if projectConfig.Fuzzing.ArchiveDirectory == "" {
		err = fmt.Errorf("no archive directory is configured")
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}
	failureArchive, err := archive.Open(projectConfig.Fuzzing.ArchiveDirectory)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}
	defer failureArchive.Close()

	// Without a record key, list the archived records.
	if len(args) == 0 {
		keys, err := failureArchive.Keys()
		if err != nil {
			cmdLogger.Error("Failed to run the replay command", err)
			return err
		}
		if len(keys) == 0 {
			cmdLogger.Info("The archive holds no failure records")
			return nil
		}
		cmdLogger.Info("Archived failure records:")
		for _, key := range keys {
			cmdLogger.Info(colors.Bold, key, colors.Reset)
		}
		return nil
	}

	// Load the record to replay
	record, err := failureArchive.Load(args[0])
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}

	// Resolve the scenario the record was persisted for and verify it matches.
	replayScenario, err := resolveScenario(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}
	if replayScenario.Name != record.ScenarioName {
		err = fmt.Errorf("the record was persisted for scenario '%s', not '%s'", record.ScenarioName, replayScenario.Name)
		cmdLogger.Error("Failed to run the replay command", err)
		return err
	}

	// Re-execute the recorded trace through a fresh backend. The backend is seeded by the
	// record's campaign seed so account derivation matches the recording run.
	runner := scenario.NewSequenceRunner(replayScenario, chain.NewTestChain(record.CampaignSeed), scenario.SequenceConfig{
		FlowsPerSequence: projectConfig.Fuzzing.FlowsPerSequence,
		CheckEveryN:      projectConfig.Fuzzing.CheckEveryN,
		AccountCount:     projectConfig.Fuzzing.AccountCount,
	}, nil)
	cmdLogger.Info("Replaying record ", colors.Bold, args[0], colors.Reset, " (", len(record.Trace), " recorded invocations)")
	result := runner.Replay(context.Background(), record.SequenceIndex, record.SequenceSeed, record.Trace)

	// Report the outcome of the replay.
	if result.BackendError != nil {
		cmdLogger.Error("Replay aborted on a backend error", result.BackendError)
		return exitcodes.NewErrorWithExitCode(result.BackendError, exitcodes.ExitCodeFuzzerError)
	}
	if result.Failure == nil {
		cmdLogger.Warn("The recorded failure did not reproduce")
		return nil
	}
	if record.Failure != nil && !record.Failure.SameKind(result.Failure) {
		cmdLogger.Warn("A different failure occurred during replay: ", result.Failure.Error())
		return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeTestFailed)
	}
	cmdLogger.Info("The recorded failure reproduced: ", result.Failure.Error())
	return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeTestFailed)
}
