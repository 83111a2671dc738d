package config

import (
	"github.com/halcyon-fuzz/halcyon/version"
	"github.com/rs/zerolog"
)

// GetDefaultProjectConfig obtains a default configuration for a project.
func GetDefaultProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		Version: version.Version,
		Fuzzing: FuzzingConfig{
			Workers:            10,
			WorkerResetLimit:   50,
			Timeout:            0,
			SequenceCount:      100,
			FlowsPerSequence:   100,
			CheckEveryN:        1,
			AccountCount:       10,
			BackendErrorPolicy: BackendErrorPolicySequence,
			ArchiveDirectory:   "failures",
			Testing: TestingConfig{
				StopOnFailedTest:  true,
				ShrinkingEnabled:  true,
				MaxShrinkAttempts: 1000,
			},
			Logging: LoggingConfig{
				Level:                zerolog.InfoLevel,
				EnableConsoleLogging: true,
				LogDirectory:         "",
			},
		},
	}
}
