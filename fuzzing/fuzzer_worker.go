package fuzzing

import (
	"strconv"

	"github.com/halcyon-fuzz/halcyon/chain"
	"github.com/halcyon-fuzz/halcyon/fuzzing/config"
	"github.com/halcyon-fuzz/halcyon/scenario"
	"github.com/halcyon-fuzz/halcyon/utils"
	"github.com/halcyon-fuzz/halcyon/utils/randomutils"
)

// FuzzerWorker describes a single worker executing sequences against its own execution backend.
// Workers claim sequence indexes from the parent Fuzzer's dispenser, derive per-sequence seeds
// from the campaign seed, and report outcomes into the shared CampaignResult.
type FuzzerWorker struct {
	// workerIndex describes the index of the worker spun up by the fuzzer.
	workerIndex int

	// fuzzer describes the Fuzzer instance which this worker belongs to.
	fuzzer *Fuzzer

	// backend describes the execution backend owned exclusively by this worker.
	backend chain.Backend

	// runner describes the sequence runner driving this worker's backend.
	runner *scenario.SequenceRunner

	// Events describes the event system for the FuzzerWorker.
	Events FuzzerWorkerEvents
}

// newFuzzerWorker creates a new FuzzerWorker with its own backend, assigning it the provided
// worker index and associating it to the Fuzzer instance supplied.
// Returns the new FuzzerWorker, or an error if backend creation failed.
func newFuzzerWorker(fuzzer *Fuzzer, workerIndex int) (*FuzzerWorker, error) {
	backend, err := fuzzer.Hooks.NewBackendFunc(fuzzer)
	if err != nil {
		return nil, err
	}
	worker := &FuzzerWorker{
		workerIndex: workerIndex,
		fuzzer:      fuzzer,
		backend:     backend,
		runner: scenario.NewSequenceRunner(fuzzer.scenario, backend, scenario.SequenceConfig{
			FlowsPerSequence: fuzzer.config.Fuzzing.FlowsPerSequence,
			CheckEveryN:      fuzzer.config.Fuzzing.CheckEveryN,
			AccountCount:     fuzzer.config.Fuzzing.AccountCount,
		}, fuzzer.logger.NewSubLogger("worker", strconv.Itoa(workerIndex))),
	}
	return worker, nil
}

// WorkerIndex returns the index of this worker within the Fuzzer's worker slots.
func (fw *FuzzerWorker) WorkerIndex() int {
	return fw.workerIndex
}

// Fuzzer returns the parent Fuzzer which this worker executes operations for.
func (fw *FuzzerWorker) Fuzzer() *Fuzzer {
	return fw.fuzzer
}

// workerMetrics returns the fuzzerWorkerMetrics for this specific worker.
func (fw *FuzzerWorker) workerMetrics() *fuzzerWorkerMetrics {
	return &fw.fuzzer.metrics.workerMetrics[fw.workerIndex]
}

// run claims and executes sequences until the campaign is cancelled, the schedule is exhausted,
// or the worker reaches its reset limit. Returns a boolean indicating whether the campaign loop
// should stop spawning replacement workers, and an error if a campaign-fatal one occurred.
func (fw *FuzzerWorker) run() (bool, error) {
	fw.workerMetrics().workerStartupCount++

	for sequencesTested := 0; sequencesTested < fw.fuzzer.config.Fuzzing.WorkerResetLimit; sequencesTested++ {
		// Cancellation is checked between sequences; an in-flight sequence finishes its call
		// before its own per-step check observes it.
		if utils.CheckContextDone(fw.fuzzer.ctx) {
			return true, nil
		}

		// Claim the next scheduled sequence index. If none remain, the campaign is complete.
		sequenceIndex, ok := fw.fuzzer.claimSequenceIndex()
		if !ok {
			return true, nil
		}

		err := fw.Events.SequenceTesting.Publish(FuzzerWorkerSequenceTestingEvent{Worker: fw, SequenceIndex: sequenceIndex})
		if err != nil {
			return true, err
		}

		// Per-sequence seeds derive from the campaign seed and sequence index, so re-running a
		// campaign with the same top-level seed reproduces every sequence.
		seed := randomutils.DeriveSeed(fw.fuzzer.CampaignSeed(), uint64(sequenceIndex))
		result := fw.runner.Run(fw.fuzzer.ctx, sequenceIndex, seed)
		fw.workerMetrics().sequencesTested++
		fw.workerMetrics().flowsTested += uint64(len(result.Trace))

		campaignFatal, err := fw.reportSequenceResult(result, seed)
		if err != nil {
			return true, err
		}

		err = fw.Events.SequenceTested.Publish(FuzzerWorkerSequenceTestedEvent{Worker: fw, Result: result})
		if err != nil {
			return true, err
		}
		if campaignFatal {
			return true, nil
		}
	}

	// The reset limit was reached; the worker is destroyed and recreated at the same index so
	// resources held by its backend are freed.
	return false, nil
}

// reportSequenceResult interprets one sequence result, shrinking and persisting failures and
// recording the outcome into the campaign result. Returns whether a campaign-fatal condition was
// hit, and an error if one occurred.
func (fw *FuzzerWorker) reportSequenceResult(result *scenario.SequenceResult, seed uint64) (bool, error) {
	// Backend errors are environment failures, handled per the configured policy and never
	// silently ignored. Cooperative cancellation surfaces here too and is not an outcome.
	if result.BackendError != nil {
		if utils.CheckContextDone(fw.fuzzer.ctx) {
			return true, nil
		}
		outcome := &SequenceOutcome{
			SequenceIndex: result.SequenceIndex,
			Seed:          seed,
			Status:        SequenceStatusAborted,
			Err:           result.BackendError,
		}
		fw.fuzzer.result.recordOutcome(outcome)
		if fw.fuzzer.config.Fuzzing.BackendErrorPolicy == config.BackendErrorPolicyCampaign {
			return true, result.BackendError
		}
		fw.fuzzer.logger.Error("Sequence aborted on a backend error", result.BackendError)
		return false, nil
	}

	if result.Failure == nil {
		fw.fuzzer.result.recordOutcome(&SequenceOutcome{
			SequenceIndex: result.SequenceIndex,
			Seed:          seed,
			Status:        SequenceStatusPassed,
		})
		return false, nil
	}

	// Minimize the failing trace before reporting, when enabled.
	trace, failure := result.Trace, result.Failure
	if fw.fuzzer.config.Fuzzing.Testing.ShrinkingEnabled {
		trace, failure = fw.shrinkSequence(result, seed)
	}

	outcome := &SequenceOutcome{
		SequenceIndex: result.SequenceIndex,
		Seed:          seed,
		Status:        SequenceStatusFailed,
		Failure:       failure,
		Record: &scenario.ReplayRecord{
			ScenarioName:  fw.fuzzer.scenario.Name,
			CampaignSeed:  fw.fuzzer.CampaignSeed(),
			SequenceIndex: result.SequenceIndex,
			SequenceSeed:  seed,
			Trace:         trace,
			Failure:       failure,
		},
	}

	// Persist the minimized record, if an archive is configured.
	if fw.fuzzer.archive != nil {
		key, err := fw.fuzzer.archive.Save(fw.fuzzer.result.RunID, outcome.Record)
		if err != nil {
			return true, err
		}
		outcome.ArchiveKey = key
	}

	fw.fuzzer.result.recordOutcome(outcome)
	if err := fw.fuzzer.Events.TestFailed.Publish(TestFailedEvent{Fuzzer: fw.fuzzer, Outcome: outcome}); err != nil {
		return true, err
	}

	// If the config specifies, we stop after the first failed test reported. Outstanding workers
	// are cancelled cooperatively.
	if fw.fuzzer.config.Fuzzing.Testing.StopOnFailedTest {
		fw.fuzzer.Stop()
		return true, nil
	}
	return false, nil
}
