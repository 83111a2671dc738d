package scenario

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/halcyon-fuzz/halcyon/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vaultState models a simple deposit/withdraw vault used across sequence runner tests.
type vaultState struct {
	balance int64
}

// newVaultScenario creates the canonical two-flow scenario: deposit (weight 3) and withdraw
// (weight 1, guarded on a positive balance), with a non-negative balance invariant.
func newVaultScenario() *Scenario {
	return &Scenario{
		Name:     "vault",
		NewState: func() any { return &vaultState{} },
		Flows: []*Flow{
			{
				Name:   "deposit",
				Weight: big.NewInt(3),
				Action: func(runtime *Runtime) error {
					amount, err := runtime.RandomInt(1, 100)
					if err != nil {
						return err
					}
					runtime.State.(*vaultState).balance += amount
					return nil
				},
			},
			{
				Name:   "withdraw",
				Weight: big.NewInt(1),
				Guard:  func(runtime *Runtime) bool { return runtime.State.(*vaultState).balance > 0 },
				Action: func(runtime *Runtime) error {
					state := runtime.State.(*vaultState)
					amount, err := runtime.RandomInt(1, state.balance)
					if err != nil {
						return err
					}
					state.balance -= amount
					return nil
				},
			},
		},
		Invariants: []*Invariant{
			{
				Name: "balance_non_negative",
				Check: func(runtime *Runtime) error {
					if balance := runtime.State.(*vaultState).balance; balance < 0 {
						return fmt.Errorf("balance went negative: %d", balance)
					}
					return nil
				},
			},
		},
	}
}

// TestSequenceDeterminism runs the same scenario with the same seed twice and verifies both runs
// produce identical traces, that the guarded flow never runs before its guard can hold, and that
// the invariant never fires.
func TestSequenceDeterminism(t *testing.T) {
	s := newVaultScenario()
	require.NoError(t, s.Validate())
	config := SequenceConfig{FlowsPerSequence: 50, CheckEveryN: 1, AccountCount: 5}

	runner1 := NewSequenceRunner(s, chain.NewTestChain(1), config, nil)
	runner2 := NewSequenceRunner(s, chain.NewTestChain(1), config, nil)
	result1 := runner1.Run(context.Background(), 0, 42)
	result2 := runner2.Run(context.Background(), 0, 42)

	require.Nil(t, result1.BackendError)
	require.Nil(t, result1.Failure)
	require.Len(t, result1.Trace, 50)

	// Both runs must have made the exact same decisions, independent of the backend instance.
	require.Len(t, result2.Trace, len(result1.Trace))
	for i := range result1.Trace {
		assert.Equal(t, result1.Trace[i].FlowName, result2.Trace[i].FlowName)
		assert.Equal(t, result1.Trace[i].StreamState, result2.Trace[i].StreamState)
		assert.Equal(t, result1.Trace[i].Outcome, result2.Trace[i].Outcome)
	}

	// The withdraw guard requires a positive balance, so no withdraw may precede a deposit.
	for i, element := range result1.Trace {
		if element.FlowName == "withdraw" {
			require.Greater(t, i, 0)
			break
		}
	}
	assert.Equal(t, "deposit", result1.Trace[0].FlowName)
}

// TestSequenceReplayReproducesFailure executes a scenario which violates its invariant after a
// number of steps, then replays the recorded trace and verifies the identical failure
// reproduces.
func TestSequenceReplayReproducesFailure(t *testing.T) {
	s := &Scenario{
		Name:     "counter",
		NewState: func() any { return &vaultState{} },
		Flows: []*Flow{
			{
				Name: "increment",
				Action: func(runtime *Runtime) error {
					runtime.State.(*vaultState).balance++
					return nil
				},
			},
		},
		Invariants: []*Invariant{
			{
				Name: "counter_below_limit",
				Check: func(runtime *Runtime) error {
					if runtime.State.(*vaultState).balance > 7 {
						return fmt.Errorf("counter exceeded limit")
					}
					return nil
				},
			},
		},
	}
	config := SequenceConfig{FlowsPerSequence: 20, CheckEveryN: 1, AccountCount: 5}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), config, nil)

	result := runner.Run(context.Background(), 0, 7)
	require.NotNil(t, result.Failure)
	assert.Equal(t, "counter_below_limit", result.Failure.InvariantName)
	assert.Equal(t, 7, result.Failure.StepIndex)
	require.Len(t, result.Trace, 8)

	replayed := runner.Replay(context.Background(), 0, 7, result.Trace)
	require.NotNil(t, replayed.Failure)
	assert.True(t, result.Failure.SameKind(replayed.Failure))
	assert.Equal(t, result.Failure.StepIndex, replayed.Failure.StepIndex)
}

// TestSequenceReplaySkipsGuardedEntries verifies replaying a trace against state where a flow's
// guard no longer holds skips the entry instead of forcing it.
func TestSequenceReplaySkipsGuardedEntries(t *testing.T) {
	s := newVaultScenario()
	config := SequenceConfig{FlowsPerSequence: 10, CheckEveryN: 1, AccountCount: 5}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), config, nil)

	result := runner.Run(context.Background(), 0, 42)
	require.Nil(t, result.Failure)
	require.NotEmpty(t, result.Trace)

	// Keep only the withdraw entries. With no deposits the guard never holds, so every entry
	// must be skipped and the replay must pass with an empty executed trace.
	var withdrawals Trace
	for _, element := range result.Trace {
		if element.FlowName == "withdraw" {
			withdrawals = append(withdrawals, element)
		}
	}
	replayed := runner.Replay(context.Background(), 0, 42, withdrawals)
	assert.Nil(t, replayed.Failure)
	assert.Nil(t, replayed.BackendError)
	assert.Empty(t, replayed.Trace)
}

// TestNoEligibleFlow verifies an empty eligible set fails the sequence with a diagnostic listing
// why each flow was excluded.
func TestNoEligibleFlow(t *testing.T) {
	s := &Scenario{
		Name: "stuck",
		Flows: []*Flow{
			{
				Name:   "guarded",
				Guard:  func(runtime *Runtime) bool { return false },
				Action: func(runtime *Runtime) error { return nil },
			},
			{
				Name:   "weightless",
				Weight: big.NewInt(0),
				Action: func(runtime *Runtime) error { return nil },
			},
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 5, CheckEveryN: 1, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 1)
	require.NotNil(t, result.Failure)

	var noEligibleErr *NoEligibleFlowError
	require.ErrorAs(t, result.Failure.Err, &noEligibleErr)
	assert.Equal(t, []string{"guarded"}, noEligibleErr.GuardedFlows)
	assert.Equal(t, []string{"weightless"}, noEligibleErr.NonPositiveWeightFlows)
	assert.Empty(t, result.Trace)
}

// TestFlowInvocationCap verifies a flow becomes ineligible after reaching its invocation cap.
func TestFlowInvocationCap(t *testing.T) {
	cappedRuns := 0
	s := &Scenario{
		Name: "capped",
		Flows: []*Flow{
			{
				Name:     "limited",
				Weight:   big.NewInt(100),
				MaxTimes: 3,
				Action: func(runtime *Runtime) error {
					cappedRuns++
					return nil
				},
			},
			{
				Name:   "filler",
				Weight: big.NewInt(1),
				Action: func(runtime *Runtime) error { return nil },
			},
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 25, CheckEveryN: 1, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 3)
	require.Nil(t, result.Failure)
	require.Len(t, result.Trace, 25)
	assert.Equal(t, 3, cappedRuns)
}

// TestDynamicWeightReevaluation verifies dynamic weights are re-evaluated against current state
// on every selection rather than cached.
func TestDynamicWeightReevaluation(t *testing.T) {
	evaluations := 0
	s := &Scenario{
		Name:     "dynamic",
		NewState: func() any { return &vaultState{} },
		Flows: []*Flow{
			{
				Name: "warming",
				WeightFunc: func(runtime *Runtime) *big.Int {
					evaluations++
					// Ineligible until enough steps have run, then dominant.
					if runtime.State.(*vaultState).balance < 3 {
						return big.NewInt(0)
					}
					return big.NewInt(1000)
				},
				Action: func(runtime *Runtime) error { return nil },
			},
			{
				Name:   "warmup",
				Weight: big.NewInt(1),
				Action: func(runtime *Runtime) error {
					runtime.State.(*vaultState).balance++
					return nil
				},
			},
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 10, CheckEveryN: 1, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 11)
	require.Nil(t, result.Failure)
	assert.Equal(t, 10, evaluations)
	assert.Equal(t, "warmup", result.Trace[0].FlowName)
	assert.Equal(t, "warmup", result.Trace[1].FlowName)
	assert.Equal(t, "warmup", result.Trace[2].FlowName)
}

// TestInvariantPeriod verifies a periodic invariant runs at the first checkpoint and every N-th
// checkpoint after that.
func TestInvariantPeriod(t *testing.T) {
	checks := 0
	s := &Scenario{
		Name:  "periodic",
		Flows: []*Flow{{Name: "noop", Action: func(runtime *Runtime) error { return nil }}},
		Invariants: []*Invariant{
			{
				Name:   "every_fifth",
				Period: 5,
				Check: func(runtime *Runtime) error {
					checks++
					return nil
				},
			},
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 10, CheckEveryN: 1, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 1)
	require.Nil(t, result.Failure)
	assert.Equal(t, 2, checks)
}

// TestInvariantPeriodStartsAtFirstCheckpoint verifies a periodic invariant is not deferred past
// the first checkpoint: with a period of three it must run at steps 0 and 3, not first at step 2.
func TestInvariantPeriodStartsAtFirstCheckpoint(t *testing.T) {
	var checkedSteps []int
	s := &Scenario{
		Name:  "periodic_start",
		Flows: []*Flow{{Name: "noop", Action: func(runtime *Runtime) error { return nil }}},
		Invariants: []*Invariant{
			{
				Name:   "every_third",
				Period: 3,
				Check: func(runtime *Runtime) error {
					checkedSteps = append(checkedSteps, runtime.StepIndex())
					return nil
				},
			},
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 4, CheckEveryN: 1, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 1)
	require.Nil(t, result.Failure)
	assert.Equal(t, []int{0, 3}, checkedSteps)
}

// TestFinalCheckpointIgnoresPeriod verifies the end-of-sequence checkpoint runs every invariant
// regardless of its period, so the final state is always checked.
func TestFinalCheckpointIgnoresPeriod(t *testing.T) {
	checks := 0
	s := &Scenario{
		Name:  "periodic_final",
		Flows: []*Flow{{Name: "noop", Action: func(runtime *Runtime) error { return nil }}},
		Invariants: []*Invariant{
			{
				Name:   "every_fifth",
				Period: 5,
				Check: func(runtime *Runtime) error {
					checks++
					return nil
				},
			},
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 3, CheckEveryN: 0, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 1)
	require.Nil(t, result.Failure)
	assert.Equal(t, 1, checks)
}

// TestCheckpointAtSequenceEndOnly verifies a checkpoint granularity of zero checks invariants
// exactly once, after the final step.
func TestCheckpointAtSequenceEndOnly(t *testing.T) {
	checks := 0
	stepsRun := 0
	s := &Scenario{
		Name: "end_only",
		Flows: []*Flow{{Name: "noop", Action: func(runtime *Runtime) error {
			stepsRun++
			return nil
		}}},
		Invariants: []*Invariant{
			{
				Name: "final",
				Check: func(runtime *Runtime) error {
					checks++
					assert.Equal(t, 10, stepsRun)
					return nil
				},
			},
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 10, CheckEveryN: 0, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 1)
	require.Nil(t, result.Failure)
	assert.Equal(t, 1, checks)
}

// TestPostSequenceRunsOnFailure verifies the post-sequence hook still runs when a flow failed.
func TestPostSequenceRunsOnFailure(t *testing.T) {
	postRan := false
	s := &Scenario{
		Name: "cleanup",
		Flows: []*Flow{{Name: "boom", Action: func(runtime *Runtime) error {
			return fmt.Errorf("flow exploded")
		}}},
		PostSequence: func(runtime *Runtime) error {
			postRan = true
			return nil
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 5, CheckEveryN: 1, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 1)
	require.NotNil(t, result.Failure)
	assert.Equal(t, "boom", result.Failure.FlowName)
	assert.Equal(t, 0, result.Failure.StepIndex)
	assert.True(t, postRan)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, StepOutcomeFailed, result.Trace[0].Outcome)
}

// newHookTracingScenario creates a one-flow, one-invariant scenario whose six flow and invariant
// hooks all append to the provided log, recording the flow or invariant they were invoked with.
func newHookTracingScenario(log *[]string) *Scenario {
	return &Scenario{
		Name:  "hooked",
		Flows: []*Flow{{Name: "tick", Action: func(runtime *Runtime) error { return nil }}},
		Invariants: []*Invariant{
			{
				Name: "always_ok",
				Check: func(runtime *Runtime) error {
					*log = append(*log, "check:always_ok")
					return nil
				},
			},
		},
		PreFlow: func(runtime *Runtime, flow *Flow) error {
			*log = append(*log, "pre_flow:"+flow.Name)
			return nil
		},
		PostFlow: func(runtime *Runtime, flow *Flow) error {
			*log = append(*log, "post_flow:"+flow.Name)
			return nil
		},
		PreInvariants: func(runtime *Runtime) error {
			*log = append(*log, "pre_invariants")
			return nil
		},
		PostInvariants: func(runtime *Runtime) error {
			*log = append(*log, "post_invariants")
			return nil
		},
		PreInvariant: func(runtime *Runtime, invariant *Invariant) error {
			*log = append(*log, "pre_invariant:"+invariant.Name)
			return nil
		},
		PostInvariant: func(runtime *Runtime, invariant *Invariant) error {
			*log = append(*log, "post_invariant:"+invariant.Name)
			return nil
		},
	}
}

// TestFlowAndInvariantHooks verifies the per-flow and per-checkpoint hooks run in order around
// every flow and invariant, in both random execution and trace replay.
func TestFlowAndInvariantHooks(t *testing.T) {
	var log []string
	s := newHookTracingScenario(&log)
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 2, CheckEveryN: 2, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 1)
	require.Nil(t, result.Failure)
	require.Nil(t, result.BackendError)
	expected := []string{
		"pre_flow:tick", "post_flow:tick",
		"pre_flow:tick", "post_flow:tick",
		"pre_invariants", "pre_invariant:always_ok", "check:always_ok", "post_invariant:always_ok", "post_invariants",
	}
	assert.Equal(t, expected, log)

	// The replay path must drive the same hooks around the recorded entries.
	log = nil
	replayed := runner.Replay(context.Background(), 0, 1, result.Trace)
	require.Nil(t, replayed.Failure)
	assert.Equal(t, expected, log)
}

// TestPreFlowFailureFailsSequence verifies a pre-flow hook error fails the sequence at the step it
// occurred, without recording the unexecuted flow in the trace.
func TestPreFlowFailureFailsSequence(t *testing.T) {
	step := 0
	s := &Scenario{
		Name:  "pre_flow_fail",
		Flows: []*Flow{{Name: "tick", Action: func(runtime *Runtime) error { return nil }}},
		PreFlow: func(runtime *Runtime, flow *Flow) error {
			step++
			if step == 2 {
				return fmt.Errorf("setup broke before %s", flow.Name)
			}
			return nil
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 5, CheckEveryN: 1, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 1)
	require.NotNil(t, result.Failure)
	assert.Equal(t, "pre_flow", result.Failure.FlowName)
	assert.Equal(t, 1, result.Failure.StepIndex)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, StepOutcomePassed, result.Trace[0].Outcome)
}

// TestPreInvariantsFailureFailsSequence verifies a pre-invariants hook error fails the sequence
// and skips the checkpoint's invariant checks.
func TestPreInvariantsFailureFailsSequence(t *testing.T) {
	checks := 0
	s := &Scenario{
		Name:  "pre_invariants_fail",
		Flows: []*Flow{{Name: "tick", Action: func(runtime *Runtime) error { return nil }}},
		Invariants: []*Invariant{
			{
				Name: "unreached",
				Check: func(runtime *Runtime) error {
					checks++
					return nil
				},
			},
		},
		PreInvariants: func(runtime *Runtime) error {
			return fmt.Errorf("checkpoint setup broke")
		},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 5, CheckEveryN: 1, AccountCount: 5}, nil)

	result := runner.Run(context.Background(), 0, 1)
	require.NotNil(t, result.Failure)
	assert.Equal(t, "pre_invariants", result.Failure.InvariantName)
	assert.Equal(t, 0, result.Failure.StepIndex)
	assert.Equal(t, 0, checks)
	require.Len(t, result.Trace, 1)
}

// TestSequenceSnapshotIsolation verifies each run restores the backend, so consecutive runs never
// observe each other's mutations.
func TestSequenceSnapshotIsolation(t *testing.T) {
	testChain := chain.NewTestChain(1)
	s := &Scenario{
		Name: "isolated",
		Flows: []*Flow{{Name: "store", Action: func(runtime *Runtime) error {
			backend := runtime.Backend().(*chain.TestChain)
			if backend.GetStorage("vault", "touched") != nil {
				return fmt.Errorf("observed a prior sequence's state")
			}
			backend.SetStorage("vault", "touched", []byte{1})
			return nil
		}}},
	}
	runner := NewSequenceRunner(s, testChain, SequenceConfig{FlowsPerSequence: 1, CheckEveryN: 1, AccountCount: 5}, nil)

	for i := 0; i < 3; i++ {
		result := runner.Run(context.Background(), i, uint64(i))
		require.Nil(t, result.Failure)
		require.Nil(t, result.BackendError)
	}
	assert.Nil(t, testChain.GetStorage("vault", "touched"))
}

// TestSequenceCancellation verifies cancellation is honored between steps and reported as an
// abort rather than a test failure.
func TestSequenceCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	steps := 0
	s := &Scenario{
		Name: "cancelled",
		Flows: []*Flow{{Name: "step", Action: func(runtime *Runtime) error {
			steps++
			if steps == 3 {
				cancel()
			}
			return nil
		}}},
	}
	runner := NewSequenceRunner(s, chain.NewTestChain(1), SequenceConfig{FlowsPerSequence: 100, CheckEveryN: 1, AccountCount: 5}, nil)

	result := runner.Run(ctx, 0, 1)
	assert.Nil(t, result.Failure)
	require.NotNil(t, result.BackendError)
	assert.ErrorIs(t, result.BackendError, context.Canceled)
	assert.Equal(t, 3, steps)
}
