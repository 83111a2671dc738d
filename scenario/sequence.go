package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/halcyon-fuzz/halcyon/chain"
	"github.com/halcyon-fuzz/halcyon/logging"
	"github.com/halcyon-fuzz/halcyon/utils"
	"github.com/halcyon-fuzz/halcyon/utils/randomutils"
)

// SequenceConfig describes the execution parameters of one sequence.
type SequenceConfig struct {
	// FlowsPerSequence describes how many flow invocations one sequence executes.
	FlowsPerSequence int

	// CheckEveryN describes the invariant checkpoint granularity: one checks invariants after
	// every step, a larger value checks after every N-th step, and zero checks only once at
	// sequence end. Per-invariant periods compose on top of this.
	CheckEveryN int

	// AccountCount describes the size of the account pool Runtime.RandomAccount draws from.
	AccountCount int
}

// SequenceResult describes the outcome of one executed sequence.
type SequenceResult struct {
	// SequenceIndex describes the index of the sequence within its campaign.
	SequenceIndex int

	// Seed describes the seed the sequence's random stream was created from.
	Seed uint64

	// Trace describes the flow invocations the sequence executed.
	Trace Trace

	// Failure describes the test failure the sequence surfaced, or nil if it passed.
	Failure *Failure

	// BackendError describes an environment failure which aborted the sequence, distinct from a
	// test failure. A sequence which aborted neither passed nor failed.
	BackendError error
}

// SequenceRunner executes bounded explorations of one Scenario against an execution backend.
// Each run takes its own backend snapshot, drives weighted flow selection and invariant
// checkpoints off a deterministic stream, and restores the snapshot on completion, so runs never
// observe each other's state. A SequenceRunner is bound to one backend and must not be shared
// across goroutines; parallel campaign workers each own their own.
type SequenceRunner struct {
	// scenario describes the Scenario the runner executes.
	scenario *Scenario

	// backend describes the execution environment sequences run against.
	backend chain.Backend

	// config describes the execution parameters applied to every run.
	config SequenceConfig

	// logger describes the Logger used to log sequence execution events.
	logger *logging.Logger
}

// NewSequenceRunner creates a SequenceRunner for the provided scenario and backend.
func NewSequenceRunner(s *Scenario, backend chain.Backend, config SequenceConfig, logger *logging.Logger) *SequenceRunner {
	if logger == nil {
		logger = logging.GlobalLogger.NewSubLogger("module", "sequence")
	}
	return &SequenceRunner{
		scenario: s,
		backend:  backend,
		config:   config,
		logger:   logger,
	}
}

// Run executes one sequence with the provided seed: snapshot, pre-sequence hook, repeated
// weighted flow selection with invariant checkpoints, post-sequence hook, restore. Returns the
// sequence result; execution errors of the backend itself are reported through it, not returned.
func (r *SequenceRunner) Run(ctx context.Context, sequenceIndex int, seed uint64) *SequenceResult {
	return r.run(ctx, sequenceIndex, seed, nil)
}

// Replay re-executes a recorded trace against a fresh snapshot instead of selecting flows
// randomly. Each entry restores its recorded stream position before its flow is invoked, so the
// flow regenerates its original random decisions. Entries whose guard or invocation cap refuse
// the replayed state are skipped rather than forced. This is the code path shrinking candidates
// and persisted failure records are replayed through.
func (r *SequenceRunner) Replay(ctx context.Context, sequenceIndex int, seed uint64, trace Trace) *SequenceResult {
	return r.run(ctx, sequenceIndex, seed, trace)
}

// run drives one sequence in either random selection mode (replay == nil) or trace replay mode.
func (r *SequenceRunner) run(ctx context.Context, sequenceIndex int, seed uint64, replay Trace) *SequenceResult {
	result := &SequenceResult{SequenceIndex: sequenceIndex, Seed: seed}

	// Snapshot the backend so this run's mutations never leak into the next one.
	snapshotID, err := r.backend.Snapshot()
	if err != nil {
		result.BackendError = err
		return result
	}
	defer func() {
		if restoreErr := r.backend.Restore(snapshotID); restoreErr != nil && result.BackendError == nil {
			result.BackendError = restoreErr
		}
	}()

	// Each sequence gets its own scenario instance state and its own stream.
	var state any
	if r.scenario.NewState != nil {
		state = r.scenario.NewState()
	}
	runtime := &Runtime{
		State:         state,
		ctx:           ctx,
		backend:       r.backend,
		stream:        randomutils.NewStream(seed),
		logger:        r.logger,
		accountCount:  r.config.AccountCount,
		sequenceIndex: sequenceIndex,
	}

	if r.scenario.PreSequence != nil {
		if err = r.scenario.PreSequence(runtime); err != nil {
			if isBackendError(err) {
				result.BackendError = err
				return result
			}
			result.Failure = newFailure("pre_sequence", "", 0, err)
			r.runPostSequence(runtime, result)
			return result
		}
	}

	if replay == nil {
		r.runRandom(ctx, runtime, result)
	} else {
		r.runReplay(ctx, runtime, result, replay)
	}

	r.runPostSequence(runtime, result)
	return result
}

// runRandom executes the configured number of steps using weighted random flow selection.
func (r *SequenceRunner) runRandom(ctx context.Context, runtime *Runtime, result *SequenceResult) {
	invocationCounts := make(map[string]int)
	executedSteps := 0
	lastStepCheckpointed := false

	for step := 0; step < r.config.FlowsPerSequence; step++ {
		// Cancellation is cooperative, checked between steps only; an in-progress call is never
		// forcibly aborted.
		if utils.CheckContextDone(ctx) {
			result.BackendError = ctx.Err()
			return
		}

		runtime.stepIndex = step
		flow, err := r.selectFlow(runtime, invocationCounts)
		if err != nil {
			result.Failure = newFailure("", "", step, err)
			return
		}

		// The stream position is captured after selection so a replay can invoke the flow
		// directly and still regenerate its exact random decisions.
		element := &TraceElement{
			StepIndex:   step,
			FlowName:    flow.Name,
			StreamState: runtime.stream.State(),
			Outcome:     StepOutcomePassed,
		}

		if r.scenario.PreFlow != nil {
			if err = r.scenario.PreFlow(runtime, flow); err != nil {
				if isBackendError(err) {
					result.BackendError = err
					return
				}
				result.Failure = newFailure("pre_flow", "", step, err)
				return
			}
		}
		invocationCounts[flow.Name]++

		if err = flow.Action(runtime); err != nil {
			if isBackendError(err) {
				result.BackendError = err
				return
			}
			element.Outcome = StepOutcomeFailed
			result.Failure = newFailure(flow.Name, "", step, err)
		} else if r.scenario.PostFlow != nil {
			if err = r.scenario.PostFlow(runtime, flow); err != nil {
				if isBackendError(err) {
					result.BackendError = err
					return
				}
				result.Failure = newFailure("post_flow", "", step, err)
			}
		}
		result.Trace = append(result.Trace, element)
		executedSteps++

		// A failing step still runs the invariants scheduled for its checkpoint, to surface
		// multiple simultaneous violations, before flow selection stops.
		lastStepCheckpointed = false
		if r.isCheckpointStep(executedSteps) {
			lastStepCheckpointed = true
			r.checkInvariants(runtime, executedSteps/r.config.CheckEveryN, step, result, false)
		}
		if result.Failure != nil || result.BackendError != nil {
			return
		}
	}

	// End-of-sequence checkpoint when the granularity is end-only, or when the last step fell
	// between scheduled checkpoints. The final state is always checked in full, so per-invariant
	// periods do not apply here.
	if executedSteps > 0 && !lastStepCheckpointed {
		r.checkInvariants(runtime, 0, executedSteps-1, result, true)
	}
}

// runReplay re-executes the provided trace entries in order.
func (r *SequenceRunner) runReplay(ctx context.Context, runtime *Runtime, result *SequenceResult, replay Trace) {
	invocationCounts := make(map[string]int)
	executedSteps := 0
	lastStepCheckpointed := false

	for _, recorded := range replay {
		if utils.CheckContextDone(ctx) {
			result.BackendError = ctx.Err()
			return
		}

		flow := r.scenario.flow(recorded.FlowName)
		if flow == nil {
			result.Failure = newFailure("", "", executedSteps, fmt.Errorf("trace references unknown flow '%s'", recorded.FlowName))
			return
		}

		// The candidate state may differ from the recording; skip entries the flow's guard or
		// invocation cap refuses rather than forcing them.
		runtime.stepIndex = executedSteps
		if flow.MaxTimes > 0 && invocationCounts[flow.Name] >= flow.MaxTimes {
			continue
		}
		if flow.Guard != nil && !flow.Guard(runtime) {
			continue
		}

		// Restore the recorded stream position so the flow replays its original decisions.
		runtime.stream = randomutils.NewStreamFromState(recorded.StreamState)
		element := &TraceElement{
			StepIndex:   executedSteps,
			FlowName:    flow.Name,
			StreamState: recorded.StreamState,
			Outcome:     StepOutcomePassed,
		}

		if r.scenario.PreFlow != nil {
			if err := r.scenario.PreFlow(runtime, flow); err != nil {
				if isBackendError(err) {
					result.BackendError = err
					return
				}
				result.Failure = newFailure("pre_flow", "", executedSteps, err)
				return
			}
		}
		invocationCounts[flow.Name]++

		if err := flow.Action(runtime); err != nil {
			if isBackendError(err) {
				result.BackendError = err
				return
			}
			element.Outcome = StepOutcomeFailed
			result.Failure = newFailure(flow.Name, "", executedSteps, err)
		} else if r.scenario.PostFlow != nil {
			if err := r.scenario.PostFlow(runtime, flow); err != nil {
				if isBackendError(err) {
					result.BackendError = err
					return
				}
				result.Failure = newFailure("post_flow", "", executedSteps, err)
			}
		}
		result.Trace = append(result.Trace, element)
		executedSteps++

		lastStepCheckpointed = false
		if r.isCheckpointStep(executedSteps) {
			lastStepCheckpointed = true
			r.checkInvariants(runtime, executedSteps/r.config.CheckEveryN, executedSteps-1, result, false)
		}
		if result.Failure != nil || result.BackendError != nil {
			return
		}
	}

	if executedSteps > 0 && !lastStepCheckpointed {
		r.checkInvariants(runtime, 0, executedSteps-1, result, true)
	}
}

// runPostSequence runs the post-sequence hook. It runs even when the sequence failed, for
// cleanup and result collection; its own failure is fatal for the sequence only if the sequence
// had not already failed.
func (r *SequenceRunner) runPostSequence(runtime *Runtime, result *SequenceResult) {
	if r.scenario.PostSequence == nil || result.BackendError != nil {
		return
	}
	if err := r.scenario.PostSequence(runtime); err != nil {
		if isBackendError(err) {
			result.BackendError = err
			return
		}
		if result.Failure == nil {
			result.Failure = newFailure("post_sequence", "", runtime.stepIndex, err)
		} else {
			r.logger.Error("Post-sequence hook failed after a sequence failure", err)
		}
	}
}

// selectFlow performs one weighted flow selection against the current runtime state. Guards,
// invocation caps and weights are re-evaluated fresh on every call.
func (r *SequenceRunner) selectFlow(runtime *Runtime, invocationCounts map[string]int) (*Flow, error) {
	var choices []*randomutils.WeightedChoice[*Flow]
	noEligible := &NoEligibleFlowError{}
	for _, flow := range r.scenario.Flows {
		if flow.MaxTimes > 0 && invocationCounts[flow.Name] >= flow.MaxTimes {
			noEligible.CappedFlows = append(noEligible.CappedFlows, flow.Name)
			continue
		}
		if flow.Guard != nil && !flow.Guard(runtime) {
			noEligible.GuardedFlows = append(noEligible.GuardedFlows, flow.Name)
			continue
		}
		weight := flow.weight(runtime)
		if weight == nil || weight.Sign() <= 0 {
			noEligible.NonPositiveWeightFlows = append(noEligible.NonPositiveWeightFlows, flow.Name)
			continue
		}
		choices = append(choices, randomutils.NewWeightedChoice(flow, weight))
	}
	if len(choices) == 0 {
		return nil, noEligible
	}
	choice, err := randomutils.WeightedChoose(choices, runtime.stream)
	if err != nil {
		return nil, err
	}
	return choice.Data, nil
}

// checkInvariants runs the invariants due at the provided checkpoint, wrapped in the scenario's
// invariant hooks. A periodic invariant first runs at the first checkpoint and every Period-th
// checkpoint after that; a final checkpoint runs every invariant regardless of period. All due
// invariants run even after one fails, so simultaneous violations all surface; the first failure
// is kept as the sequence failure, the rest are logged.
func (r *SequenceRunner) checkInvariants(runtime *Runtime, checkpoint int, stepIndex int, result *SequenceResult, final bool) {
	due := make([]*Invariant, 0, len(r.scenario.Invariants))
	for _, invariant := range r.scenario.Invariants {
		if !final && invariant.Period > 1 && (checkpoint-1)%invariant.Period != 0 {
			continue
		}
		due = append(due, invariant)
	}
	if len(due) == 0 {
		return
	}

	if r.scenario.PreInvariants != nil {
		if err := r.scenario.PreInvariants(runtime); err != nil {
			r.recordCheckpointError(result, "pre_invariants", stepIndex, err)
			return
		}
	}
	for _, invariant := range due {
		if r.scenario.PreInvariant != nil {
			if err := r.scenario.PreInvariant(runtime, invariant); err != nil {
				r.recordCheckpointError(result, "pre_invariant", stepIndex, err)
				return
			}
		}
		if err := invariant.Check(runtime); err != nil {
			if r.recordCheckpointError(result, invariant.Name, stepIndex, err) {
				return
			}
		}
		if r.scenario.PostInvariant != nil {
			if err := r.scenario.PostInvariant(runtime, invariant); err != nil {
				r.recordCheckpointError(result, "post_invariant", stepIndex, err)
				return
			}
		}
	}
	if r.scenario.PostInvariants != nil {
		if err := r.scenario.PostInvariants(runtime); err != nil {
			r.recordCheckpointError(result, "post_invariants", stepIndex, err)
		}
	}
}

// recordCheckpointError classifies an error raised at an invariant checkpoint, keeping the first
// failure as the sequence failure and logging subsequent ones. Returns true when the error aborts
// the sequence as a backend error.
func (r *SequenceRunner) recordCheckpointError(result *SequenceResult, name string, stepIndex int, err error) bool {
	if isBackendError(err) {
		result.BackendError = err
		return true
	}
	if result.Failure == nil {
		result.Failure = newFailure("", name, stepIndex, err)
	} else {
		r.logger.Error(fmt.Sprintf("'%s' also failed at step %d", name, stepIndex), err)
	}
	return false
}

// isCheckpointStep determines whether invariants are due after the provided number of executed
// steps, per the configured granularity.
func (r *SequenceRunner) isCheckpointStep(executedSteps int) bool {
	if r.config.CheckEveryN <= 0 {
		return false
	}
	return executedSteps%r.config.CheckEveryN == 0
}

// isBackendError determines whether an error represents an environment failure or cooperative
// cancellation, as opposed to a test failure.
func isBackendError(err error) bool {
	var backendErr *chain.BackendError
	return errors.As(err, &backendErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
