package config

import (
	"encoding/json"
	"os"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Backend error policies selectable via FuzzingConfig.BackendErrorPolicy.
const (
	// BackendErrorPolicySequence aborts only the sequence which observed the backend error; the
	// rest of the campaign continues.
	BackendErrorPolicySequence = "sequence"

	// BackendErrorPolicyCampaign aborts the whole campaign on the first backend error, surfacing
	// partial results.
	BackendErrorPolicyCampaign = "campaign"
)

// ProjectConfig describes the configuration of one fuzzing project.
type ProjectConfig struct {
	// Version describes the engine version the configuration was written for. Configurations
	// from a different major version are rejected.
	Version string `json:"version"`

	// Fuzzing describes the configuration used in fuzzing campaigns.
	Fuzzing FuzzingConfig `json:"fuzzing"`
}

// FuzzingConfig describes the configuration options used by the fuzzing.Fuzzer.
type FuzzingConfig struct {
	// Workers describes the amount of worker goroutines to use in fuzzing campaigns.
	Workers int `json:"workers"`

	// WorkerResetLimit describes how many sequences a worker should test before it is destroyed
	// and recreated so that memory from its backend clone is freed.
	WorkerResetLimit int `json:"workerResetLimit"`

	// Timeout describes a time in seconds for which the fuzzing operation should run. Providing
	// a negative or zero value will result in no timeout.
	Timeout int `json:"timeout"`

	// Seed describes the top-level campaign seed all per-sequence seeds are derived from. If
	// nil, a seed is taken from the current time; the chosen seed is always logged so failing
	// campaigns stay reproducible.
	Seed *uint64 `json:"seed,omitempty"`

	// SequenceCount describes how many sequences one campaign executes.
	SequenceCount int `json:"sequenceCount"`

	// FlowsPerSequence describes how many flow invocations one sequence executes.
	FlowsPerSequence int `json:"flowsPerSequence"`

	// CheckEveryN describes the invariant checkpoint granularity: 1 checks invariants after
	// every flow, N checks after every N-th flow, 0 checks only at sequence end.
	CheckEveryN int `json:"checkEveryN"`

	// AccountCount describes the size of the deterministic account pool scenarios draw random
	// accounts from.
	AccountCount int `json:"accountCount"`

	// BackendErrorPolicy describes how backend failures are handled: "sequence" aborts the
	// affected sequence only, "campaign" aborts the whole campaign.
	BackendErrorPolicy string `json:"backendErrorPolicy"`

	// ArchiveDirectory describes the directory where failure records are persisted for later
	// replay. If empty, failures are reported but not persisted.
	ArchiveDirectory string `json:"archiveDirectory"`

	// Testing describes the configuration used to interpret and act on test failures.
	Testing TestingConfig `json:"testing"`

	// Logging describes the configuration used for logging.
	Logging LoggingConfig `json:"logging"`
}

// TestingConfig describes the configuration options used to interpret test failures.
type TestingConfig struct {
	// StopOnFailedTest describes whether the fuzzing.Fuzzer should stop after detecting the
	// first failed test. Outstanding workers are cancelled cooperatively.
	StopOnFailedTest bool `json:"stopOnFailedTest"`

	// ShrinkingEnabled describes whether failing sequences are minimized before reporting.
	ShrinkingEnabled bool `json:"shrinkingEnabled"`

	// MaxShrinkAttempts describes the maximum number of candidate replays shrinking may spend
	// per failure, bounding its cost against combinatorial explosion.
	MaxShrinkAttempts int `json:"maxShrinkAttempts"`
}

// LoggingConfig describes the configuration options used for logging.
type LoggingConfig struct {
	// Level describes whether logs of certain severity levels (eg info, warning, etc.) will be
	// emitted or discarded. Increasing level values represent more severe logs.
	Level zerolog.Level `json:"level"`

	// EnableConsoleLogging describes whether console logging is enabled.
	EnableConsoleLogging bool `json:"enableConsoleLogging"`

	// LogDirectory describes the directory where structured log files will be written. If the
	// string is empty, then no log files are kept.
	LogDirectory string `json:"logDirectory"`
}

// ReadProjectConfigFromFile reads a JSON-serialized ProjectConfig from a provided file path.
// Returns the ProjectConfig if it succeeds, or an error if one occurs.
func ReadProjectConfigFromFile(path string) (*ProjectConfig, error) {
	// Read our project configuration file data
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Parse the project configuration on top of the defaults
	projectConfig := GetDefaultProjectConfig()
	err = json.Unmarshal(b, projectConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return projectConfig, nil
}

// WriteToFile writes the ProjectConfig to a provided file path in a JSON-serialized format.
// Returns an error if one occurs.
func (p *ProjectConfig) WriteToFile(path string) error {
	// Serialize the configuration
	b, err := json.MarshalIndent(p, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}

	// Save it to the provided output path and return the result
	err = os.WriteFile(path, b, 0644)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// Validate validates that the ProjectConfig meets certain requirements and was written for an
// engine version compatible with the provided one. Returns an error if one occurs.
func (p *ProjectConfig) Validate(engineVersion string) error {
	// Verify the configuration was written for a compatible engine version.
	if p.Version != "" {
		configVersion, err := semver.NewVersion(p.Version)
		if err != nil {
			return errors.Errorf("config version '%s' is not a valid semantic version", p.Version)
		}
		constraint, err := semver.NewConstraint("^" + engineVersion)
		if err != nil {
			return errors.WithStack(err)
		}
		if !constraint.Check(configVersion) {
			return errors.Errorf("config version '%s' is not compatible with engine version '%s'", p.Version, engineVersion)
		}
	}

	// Verify the worker count is a positive number.
	if p.Fuzzing.Workers <= 0 {
		return errors.Errorf("fuzzer worker count must be a positive number")
	}

	// Verify the worker reset limit is a positive number
	if p.Fuzzing.WorkerResetLimit <= 0 {
		return errors.Errorf("worker reset limit must be a positive number")
	}

	// Verify the campaign dimensions are positive numbers
	if p.Fuzzing.SequenceCount <= 0 {
		return errors.Errorf("sequence count must be a positive number")
	}
	if p.Fuzzing.FlowsPerSequence <= 0 {
		return errors.Errorf("flows per sequence must be a positive number")
	}
	if p.Fuzzing.CheckEveryN < 0 {
		return errors.Errorf("invariant checkpoint granularity cannot be negative")
	}
	if p.Fuzzing.AccountCount <= 0 {
		return errors.Errorf("account count must be a positive number")
	}

	// Verify the backend error policy names a known policy
	if p.Fuzzing.BackendErrorPolicy != BackendErrorPolicySequence && p.Fuzzing.BackendErrorPolicy != BackendErrorPolicyCampaign {
		return errors.Errorf("backend error policy must be '%s' or '%s'", BackendErrorPolicySequence, BackendErrorPolicyCampaign)
	}

	// Verify shrinking bounds
	if p.Fuzzing.Testing.MaxShrinkAttempts < 0 {
		return errors.Errorf("max shrink attempts cannot be negative")
	}
	return nil
}
