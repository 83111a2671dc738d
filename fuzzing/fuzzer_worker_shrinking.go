package fuzzing

import (
	"github.com/halcyon-fuzz/halcyon/scenario"
	"github.com/halcyon-fuzz/halcyon/utils"
	"golang.org/x/exp/slices"
)

// shrinkSequence searches for a smaller trace which still reproduces the failure of the provided
// sequence result, using greedy delete-and-replay: first removing all invocations of one flow at
// a time (most frequent first), then removing single invocations until no further single removal
// preserves the failure. Candidates replay from a fresh snapshot through the same sequence
// runner; a reduction is kept only when the same failure identity reproduces, so shrinking never
// reports a different bug as the original. The search is bounded by the configured maximum
// number of attempts. Returns the minimized trace and its failure.
func (fw *FuzzerWorker) shrinkSequence(original *scenario.SequenceResult, seed uint64) (scenario.Trace, *scenario.Failure) {
	bestTrace := original.Trace
	bestFailure := original.Failure
	attempts := 0
	maxAttempts := fw.fuzzer.config.Fuzzing.Testing.MaxShrinkAttempts

	// exhausted indicates whether the attempt budget or the campaign context ran out.
	exhausted := func() bool {
		return (maxAttempts > 0 && attempts >= maxAttempts) || utils.CheckContextDone(fw.fuzzer.ctx)
	}

	// tryCandidate replays a reduced candidate and keeps it as the new best if the same failure
	// identity reproduces. The kept trace is the replay's executed trace, which already excludes
	// skipped entries and anything past the failing step.
	tryCandidate := func(candidate scenario.Trace) bool {
		attempts++
		fw.workerMetrics().shrinkReplays++
		result := fw.runner.Replay(fw.fuzzer.ctx, original.SequenceIndex, seed, candidate)
		if result.BackendError != nil || result.Failure == nil {
			return false
		}
		if !bestFailure.SameKind(result.Failure) || len(result.Trace) >= len(bestTrace) {
			return false
		}
		bestTrace = result.Trace
		bestFailure = result.Failure
		return true
	}

	// Phase one: attempt to remove every invocation of one flow at a time, most frequent first,
	// sparing the flow which raised the failure itself.
	invocationCounts := make(map[string]int)
	for _, element := range bestTrace {
		invocationCounts[element.FlowName]++
	}
	flowNames := bestTrace.FlowNames()
	slices.SortFunc(flowNames, func(a string, b string) int {
		return invocationCounts[b] - invocationCounts[a]
	})
	for _, flowName := range flowNames {
		if exhausted() {
			return bestTrace, bestFailure
		}
		if flowName == bestFailure.FlowName {
			continue
		}
		candidate := scenario.Trace(utils.SliceWhere(bestTrace, func(element *scenario.TraceElement) bool {
			return element.FlowName != flowName
		}))
		if len(candidate) < len(bestTrace) {
			tryCandidate(candidate)
		}
	}

	// Phase two: brute-force removal of single invocations, restarting the scan after every
	// successful reduction, until no single removal preserves the failure.
	improved := true
	for improved {
		improved = false
		for i := 0; i < len(bestTrace); i++ {
			if exhausted() {
				return bestTrace, bestFailure
			}
			candidate := make(scenario.Trace, 0, len(bestTrace)-1)
			candidate = append(candidate, bestTrace[:i]...)
			candidate = append(candidate, bestTrace[i+1:]...)
			if tryCandidate(candidate) {
				improved = true
				break
			}
		}
	}
	return bestTrace, bestFailure
}
