package scenario

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor"
	"github.com/halcyon-fuzz/halcyon/chain"
	"github.com/halcyon-fuzz/halcyon/utils/randomutils"
)

// Step outcomes recorded in sequence traces.
const (
	// StepOutcomePassed indicates the flow invocation completed without error.
	StepOutcomePassed = "passed"

	// StepOutcomeFailed indicates the flow invocation returned a sequence failure.
	StepOutcomeFailed = "failed"
)

// TraceElement describes one flow invocation within a sequence trace: the flow which ran, the
// exact random stream position it ran from, and its outcome. The stream state is captured after
// flow selection, so restoring it and invoking the named flow directly regenerates the same
// random decisions the flow originally made.
type TraceElement struct {
	// StepIndex describes the position of this invocation within its sequence.
	StepIndex int `json:"stepIndex"`

	// FlowName describes the name of the flow which was invoked.
	FlowName string `json:"flowName"`

	// StreamState describes the random stream position the flow executed from.
	StreamState randomutils.StreamState `json:"streamState"`

	// Outcome describes the result of the invocation.
	Outcome string `json:"outcome"`
}

// Trace describes the ordered list of flow invocations a sequence executed. It is the unit
// replayed by the shrinker and reported to the user on failure.
type Trace []*TraceElement

// Clone creates a copy of the trace whose elements can be removed independently of the original,
// for use when deriving shrinking candidates.
func (t Trace) Clone() Trace {
	cloned := make(Trace, len(t))
	copy(cloned, t)
	return cloned
}

// FlowNames returns the distinct flow names appearing in the trace, in first-appearance order.
func (t Trace) FlowNames() []string {
	var names []string
	seen := make(map[string]struct{})
	for _, element := range t {
		if _, exists := seen[element.FlowName]; !exists {
			seen[element.FlowName] = struct{}{}
			names = append(names, element.FlowName)
		}
	}
	return names
}

// Failure describes one sequence failure: which flow or invariant raised, at which step, and the
// error identity needed to recognize the same failure again on replay. Exactly one of FlowName
// and InvariantName is set, except for selection-level authoring errors where both are empty.
type Failure struct {
	// FlowName describes the flow (or lifecycle hook) which raised, if any.
	FlowName string `json:"flowName,omitempty"`

	// InvariantName describes the invariant which was violated, if any.
	InvariantName string `json:"invariantName,omitempty"`

	// StepIndex describes the step at which the failure surfaced.
	StepIndex int `json:"stepIndex"`

	// Cause describes the revert expectation policy which was violated, if the failure came out
	// of an expectation scope.
	Cause RevertExpectationCause `json:"cause,omitempty"`

	// Revert describes the revert identity associated with the failure, if the underlying error
	// carried one.
	Revert *chain.RevertError `json:"revert,omitempty"`

	// Message describes the underlying error's message, retained for reporting and persistence.
	Message string `json:"message"`

	// Err describes the underlying error. It does not survive persistence; identity comparison
	// of persisted failures relies on the fields above.
	Err error `json:"-" cbor:"-"`
}

// newFailure builds a Failure from an error raised by the named flow or invariant, extracting a
// revert identity or expectation cause when the error carries one.
func newFailure(flowName string, invariantName string, stepIndex int, err error) *Failure {
	failure := &Failure{
		FlowName:      flowName,
		InvariantName: invariantName,
		StepIndex:     stepIndex,
		Message:       err.Error(),
		Err:           err,
	}
	var revertErr *chain.RevertError
	var expectationErr *RevertExpectationError
	if errors.As(err, &revertErr) {
		failure.Revert = revertErr
	} else if errors.As(err, &expectationErr) {
		failure.Cause = expectationErr.Cause
		failure.Revert = expectationErr.Actual
	}
	return failure
}

// Error returns the error message string, implementing the `error` interface.
func (f *Failure) Error() string {
	switch {
	case f.InvariantName != "":
		return fmt.Sprintf("invariant '%s' violated at step %d: %s", f.InvariantName, f.StepIndex, f.Message)
	case f.FlowName != "":
		return fmt.Sprintf("flow '%s' failed at step %d: %s", f.FlowName, f.StepIndex, f.Message)
	default:
		return fmt.Sprintf("sequence failed at step %d: %s", f.StepIndex, f.Message)
	}
}

// SameKind determines whether two failures represent the same underlying bug, matched by
// identity rather than exact message: the same flow/invariant raising, with matching revert
// identity or expectation cause where one exists. This comparison decides whether a shrinking
// candidate or a replay reproduced the original failure.
func (f *Failure) SameKind(other *Failure) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.FlowName != other.FlowName || f.InvariantName != other.InvariantName {
		return false
	}
	if f.Cause != other.Cause {
		return false
	}
	if (f.Revert != nil) != (other.Revert != nil) {
		return false
	}
	if f.Revert != nil {
		return f.Revert.Matches(other.Revert)
	}
	if f.Err != nil && other.Err != nil {
		if errors.Is(f.Err, other.Err) || errors.Is(other.Err, f.Err) {
			return true
		}
		var noEligibleA, noEligibleB *NoEligibleFlowError
		if errors.As(f.Err, &noEligibleA) && errors.As(other.Err, &noEligibleB) {
			return true
		}
	}
	return f.Message == other.Message
}

// ReplayRecord describes everything needed to deterministically re-execute one failing sequence
// without re-running the campaign which produced it. Records are what the engine persists on
// failure and what the replay command consumes.
type ReplayRecord struct {
	// ScenarioName describes the scenario the sequence ran against.
	ScenarioName string `json:"scenarioName"`

	// CampaignSeed describes the top-level seed of the campaign which produced the failure.
	CampaignSeed uint64 `json:"campaignSeed"`

	// SequenceIndex describes the index of the failing sequence within its campaign.
	SequenceIndex int `json:"sequenceIndex"`

	// SequenceSeed describes the per-sequence seed derived from the campaign seed and index.
	SequenceSeed uint64 `json:"sequenceSeed"`

	// Trace describes the (possibly shrunk) flow invocation trace reproducing the failure.
	Trace Trace `json:"trace"`

	// Failure describes the failure the trace reproduces.
	Failure *Failure `json:"failure"`
}

// Encode serializes the record into its binary form for persistence.
func (r *ReplayRecord) Encode() ([]byte, error) {
	return cbor.Marshal(r, cbor.EncOptions{})
}

// DecodeReplayRecord deserializes a persisted record from its binary form.
func DecodeReplayRecord(data []byte) (*ReplayRecord, error) {
	record := &ReplayRecord{}
	if err := cbor.Unmarshal(data, record); err != nil {
		return nil, err
	}
	return record, nil
}
