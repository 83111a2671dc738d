package cmd

import (
	"fmt"

	"github.com/halcyon-fuzz/halcyon/fuzzing/config"
	"github.com/spf13/cobra"
)

// addFuzzFlags adds the various flags for the fuzz command
func addFuzzFlags() {
	// Get the default project config for flag descriptions
	defaultConfig := config.GetDefaultProjectConfig()

	// Prevent alphabetical sorting of usage message
	fuzzCmd.Flags().SortFlags = false

	// Config file
	fuzzCmd.Flags().String("config", "", "path to config file")

	// Scenario selection
	fuzzCmd.Flags().String("scenario", "",
		"name of the registered scenario to fuzz (optional when exactly one scenario is registered)")

	// Number of workers
	fuzzCmd.Flags().Int("workers", 0,
		fmt.Sprintf("number of fuzzer workers (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.Workers))

	// Timeout
	fuzzCmd.Flags().Int("timeout", 0,
		fmt.Sprintf("number of seconds to run the fuzzer campaign for (unless a config file is provided, default is %d). 0 means that timeout is not enforced", defaultConfig.Fuzzing.Timeout))

	// Campaign seed
	fuzzCmd.Flags().Uint64("seed", 0,
		"campaign seed to derive every per-sequence seed from (unless a config file provides one, a time-based seed is used and logged)")

	// Sequence count
	fuzzCmd.Flags().Int("sequences", 0,
		fmt.Sprintf("number of sequences to run before exiting (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.SequenceCount))

	// Sequence length
	fuzzCmd.Flags().Int("seq-len", 0,
		fmt.Sprintf("number of flow invocations to run in each sequence (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.FlowsPerSequence))

	// Invariant checkpoint granularity
	fuzzCmd.Flags().Int("check-every", 0,
		fmt.Sprintf("number of flow invocations between invariant checkpoints, 0 checks at sequence end only (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.CheckEveryN))

	// Archive directory
	fuzzCmd.Flags().String("archive-dir", "",
		fmt.Sprintf("directory path for the failure record archive (unless a config file is provided, default is %q)", defaultConfig.Fuzzing.ArchiveDirectory))

	// Shrinking enablement
	fuzzCmd.Flags().Bool("shrinking", true,
		fmt.Sprintf("enable shrinking of failing sequences (unless a config file is provided, default is %t)", defaultConfig.Fuzzing.Testing.ShrinkingEnabled))

	// Stop on failed test
	fuzzCmd.Flags().Bool("stop-on-failure", true,
		fmt.Sprintf("stop the campaign once the first sequence fails (unless a config file is provided, default is %t)", defaultConfig.Fuzzing.Testing.StopOnFailedTest))

	// Backend error policy
	fuzzCmd.Flags().String("backend-error-policy", "",
		fmt.Sprintf("what a backend error aborts, %q or %q (unless a config file is provided, default is %q)", config.BackendErrorPolicySequence, config.BackendErrorPolicyCampaign, defaultConfig.Fuzzing.BackendErrorPolicy))
}

// updateProjectConfigWithFuzzFlags will update the given projectConfig with any CLI arguments
// that were provided to the fuzz command
func updateProjectConfigWithFuzzFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error

	// Update number of workers
	if cmd.Flags().Changed("workers") {
		projectConfig.Fuzzing.Workers, err = cmd.Flags().GetInt("workers")
		if err != nil {
			return err
		}
	}

	// Update timeout
	if cmd.Flags().Changed("timeout") {
		projectConfig.Fuzzing.Timeout, err = cmd.Flags().GetInt("timeout")
		if err != nil {
			return err
		}
	}

	// Update campaign seed
	if cmd.Flags().Changed("seed") {
		seed, err := cmd.Flags().GetUint64("seed")
		if err != nil {
			return err
		}
		projectConfig.Fuzzing.Seed = &seed
	}

	// Update sequence count
	if cmd.Flags().Changed("sequences") {
		projectConfig.Fuzzing.SequenceCount, err = cmd.Flags().GetInt("sequences")
		if err != nil {
			return err
		}
	}

	// Update sequence length
	if cmd.Flags().Changed("seq-len") {
		projectConfig.Fuzzing.FlowsPerSequence, err = cmd.Flags().GetInt("seq-len")
		if err != nil {
			return err
		}
	}

	// Update invariant checkpoint granularity
	if cmd.Flags().Changed("check-every") {
		projectConfig.Fuzzing.CheckEveryN, err = cmd.Flags().GetInt("check-every")
		if err != nil {
			return err
		}
	}

	// Update archive directory
	if cmd.Flags().Changed("archive-dir") {
		projectConfig.Fuzzing.ArchiveDirectory, err = cmd.Flags().GetString("archive-dir")
		if err != nil {
			return err
		}
	}

	// Update shrinking enablement
	if cmd.Flags().Changed("shrinking") {
		projectConfig.Fuzzing.Testing.ShrinkingEnabled, err = cmd.Flags().GetBool("shrinking")
		if err != nil {
			return err
		}
	}

	// Update stop on failed test enablement
	if cmd.Flags().Changed("stop-on-failure") {
		projectConfig.Fuzzing.Testing.StopOnFailedTest, err = cmd.Flags().GetBool("stop-on-failure")
		if err != nil {
			return err
		}
	}

	// Update backend error policy
	if cmd.Flags().Changed("backend-error-policy") {
		projectConfig.Fuzzing.BackendErrorPolicy, err = cmd.Flags().GetString("backend-error-policy")
		if err != nil {
			return err
		}
	}
	return nil
}
