package scenario

import (
	"context"

	"github.com/halcyon-fuzz/halcyon/chain"
	"github.com/halcyon-fuzz/halcyon/logging"
	"github.com/halcyon-fuzz/halcyon/utils/randomutils"
)

// Runtime describes the per-sequence execution context handed to flows, invariants and lifecycle
// hooks. It binds the scenario instance state, the sequence's deterministic random stream and the
// execution backend together. A Runtime is owned by exactly one sequence and is not safe for
// concurrent use; flows and invariant checks within a sequence run strictly sequentially.
type Runtime struct {
	// State holds the scenario instance state created by Scenario.NewState for this sequence.
	// It is never shared with another sequence.
	State any

	// ctx describes the context the sequence runs under, checked between flow steps for
	// cooperative cancellation.
	ctx context.Context

	// backend describes the execution environment the sequence's calls are submitted to.
	backend chain.Backend

	// stream describes the deterministic random stream all of this sequence's decisions draw
	// from.
	stream *randomutils.Stream

	// logger describes the Logger scenario code may emit messages through.
	logger *logging.Logger

	// accountCount describes the size of the account pool RandomAccount draws from.
	accountCount int

	// sequenceIndex describes the index of the sequence this runtime belongs to within its
	// campaign.
	sequenceIndex int

	// stepIndex describes the index of the flow step currently executing.
	stepIndex int

	// scope describes the currently open revert expectation scope, or nil when no call is under
	// expectation tracking.
	scope *revertScope
}

// Context returns the context the sequence runs under.
func (rt *Runtime) Context() context.Context {
	return rt.ctx
}

// Backend returns the execution backend this sequence's calls are submitted to.
func (rt *Runtime) Backend() chain.Backend {
	return rt.backend
}

// Logger returns the Logger scenario code may emit messages through.
func (rt *Runtime) Logger() *logging.Logger {
	return rt.logger
}

// SequenceIndex returns the index of this sequence within its campaign.
func (rt *Runtime) SequenceIndex() int {
	return rt.sequenceIndex
}

// StepIndex returns the index of the flow step currently executing.
func (rt *Runtime) StepIndex() int {
	return rt.stepIndex
}

// Timestamp returns the backend's current logical clock value.
func (rt *Runtime) Timestamp() uint64 {
	return rt.backend.Timestamp()
}

// AdvanceTime advances the backend's logical clock by the provided delta.
func (rt *Runtime) AdvanceTime(delta uint64) error {
	return rt.backend.AdvanceTime(delta)
}

// RandomInt returns a uniformly distributed integer in the inclusive range [min, max], drawn from
// this sequence's deterministic stream.
func (rt *Runtime) RandomInt(min int64, max int64) (int64, error) {
	return rt.stream.Int64InRange(min, max)
}

// RandomUint returns a uniformly distributed unsigned integer in the inclusive range [min, max],
// drawn from this sequence's deterministic stream.
func (rt *Runtime) RandomUint(min uint64, max uint64) (uint64, error) {
	return rt.stream.Uint64InRange(min, max)
}

// RandomBool returns a boolean which is true with the provided probability, drawn from this
// sequence's deterministic stream.
func (rt *Runtime) RandomBool(trueProbability float64) (bool, error) {
	return rt.stream.Bool(trueProbability)
}

// RandomIndex returns an integer in [0, n), drawn from this sequence's deterministic stream.
func (rt *Runtime) RandomIndex(n int) (int, error) {
	return rt.stream.Index(n)
}

// RandomAccount selects one account out of the configured account pool. The account index is a
// single draw from the sequence stream, so random account selection is itself reproducible.
func (rt *Runtime) RandomAccount() (chain.Account, error) {
	index, err := rt.stream.Index(rt.accountCount)
	if err != nil {
		return chain.Account{}, err
	}
	return rt.backend.Account(index)
}

// Submit executes one call against the backend. When a revert expectation scope is open, the
// call's outcome is captured by the scope for policy evaluation instead of being propagated.
// Outside a scope, a reverted call is returned as a flow failure alongside its result. A non-nil
// error with a nil result indicates a backend failure rather than a revert.
func (rt *Runtime) Submit(call *chain.Call) (*chain.CallResult, error) {
	result, err := rt.backend.Submit(rt.ctx, call)
	if err != nil {
		return nil, err
	}
	if rt.scope != nil {
		if err = rt.scope.capture(result); err != nil {
			return result, err
		}
		return result, nil
	}
	if result.Reverted {
		if result.RevertReason != nil {
			return result, result.RevertReason
		}
		return result, chain.NewRevertError("revert", "call reverted without revert data")
	}
	return result, nil
}

// revertScope tracks one call submitted under a revert expectation. Only one scope may be open
// at a time and it may capture exactly one call outcome.
type revertScope struct {
	// captured indicates whether a call outcome has been captured by this scope.
	captured bool

	// result describes the captured call outcome.
	result *chain.CallResult
}

// capture records a call outcome into the scope. Returns ErrScopeConflict if the scope already
// captured one.
func (s *revertScope) capture(result *chain.CallResult) error {
	if s.captured {
		return ErrScopeConflict
	}
	s.captured = true
	s.result = result
	return nil
}

// enterScope opens a revert expectation scope for the duration of one wrapped call. Returns
// ErrScopeConflict if a scope is already open.
func (rt *Runtime) enterScope() (*revertScope, error) {
	if rt.scope != nil {
		return nil, ErrScopeConflict
	}
	scope := &revertScope{}
	rt.scope = scope
	return scope, nil
}

// MustRevert runs fn with a revert expectation scope open, asserting the single call it submits
// reverts. If expected is non-nil, the captured revert must additionally match its identity.
// Returns a *RevertExpectationError when the call did not revert or reverted with a different
// identity, and propagates any other error fn returned.
func (rt *Runtime) MustRevert(expected *chain.RevertError, fn func() error) error {
	scope, err := rt.enterScope()
	if err != nil {
		return err
	}
	callErr := fn()
	rt.scope = nil
	if callErr != nil {
		return callErr
	}
	if !scope.captured || !scope.result.Reverted {
		return &RevertExpectationError{Cause: ExpectedRevertDidNotOccur, Expected: expected}
	}
	if expected != nil && !expected.Matches(scope.result.RevertReason) {
		return &RevertExpectationError{Cause: UnexpectedRevertKind, Expected: expected, Actual: scope.result.RevertReason}
	}
	return nil
}

// MayRevert runs fn with a revert expectation scope open, tolerating a revert of the single call
// it submits. It returns the captured revert, or nil if the call succeeded, so the caller can
// branch its own bookkeeping. If expected is non-nil and the call reverted with a different
// identity, that is still a failure: an unexpected revert reason is always an error.
func (rt *Runtime) MayRevert(expected *chain.RevertError, fn func() error) (*chain.RevertError, error) {
	scope, err := rt.enterScope()
	if err != nil {
		return nil, err
	}
	callErr := fn()
	rt.scope = nil
	if callErr != nil {
		return nil, callErr
	}
	if !scope.captured || !scope.result.Reverted {
		return nil, nil
	}
	reason := scope.result.RevertReason
	if reason == nil {
		// A revert carrying no decoded reason is still a revert; never report it as success.
		reason = chain.NewRevertError("revert", "")
	}
	if expected != nil && !expected.Matches(reason) {
		return reason, &RevertExpectationError{Cause: UnexpectedRevertKind, Expected: expected, Actual: reason}
	}
	return reason, nil
}
