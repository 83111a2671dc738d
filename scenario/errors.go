package scenario

import (
	"errors"
	"fmt"
	"strings"

	"github.com/halcyon-fuzz/halcyon/chain"
)

// ErrScopeConflict indicates an attempt to open a revert expectation scope while another one was
// already active, or to submit more than one call under a single scope. Only one call may be in
// flight under expectation tracking at a time; this is a scenario authoring error, fatal to the
// enclosing sequence.
var ErrScopeConflict = errors.New("a revert expectation scope is already tracking a call; nested scopes are not supported")

// NoEligibleFlowError indicates flow selection found no flow to run: every declared flow was
// excluded by its guard, its invocation cap, or a non-positive weight. This is a scenario
// authoring error, fatal to the enclosing sequence and never retried.
type NoEligibleFlowError struct {
	// GuardedFlows lists the flows whose guard returned false this step.
	GuardedFlows []string

	// CappedFlows lists the flows which reached their invocation cap.
	CappedFlows []string

	// NonPositiveWeightFlows lists the flows whose weight evaluated to a non-positive value.
	NonPositiveWeightFlows []string
}

// Error returns the error message string, implementing the `error` interface.
func (e *NoEligibleFlowError) Error() string {
	var details []string
	if len(e.GuardedFlows) > 0 {
		details = append(details, fmt.Sprintf("guard not satisfied: %s", strings.Join(e.GuardedFlows, ", ")))
	}
	if len(e.CappedFlows) > 0 {
		details = append(details, fmt.Sprintf("invocation cap reached: %s", strings.Join(e.CappedFlows, ", ")))
	}
	if len(e.NonPositiveWeightFlows) > 0 {
		details = append(details, fmt.Sprintf("non-positive weight: %s", strings.Join(e.NonPositiveWeightFlows, ", ")))
	}
	if len(details) == 0 {
		return "no flow was eligible for selection"
	}
	return fmt.Sprintf("no flow was eligible for selection (%s)", strings.Join(details, "; "))
}

// RevertExpectationCause identifies which policy a revert expectation scope detected a violation
// of when it closed.
type RevertExpectationCause string

const (
	// ExpectedRevertDidNotOccur indicates a must-revert scope closed without the wrapped call
	// having reverted.
	ExpectedRevertDidNotOccur RevertExpectationCause = "expected revert did not occur"

	// UnexpectedRevertKind indicates the wrapped call reverted with a different error identity
	// than the one the scope pinned.
	UnexpectedRevertKind RevertExpectationCause = "unexpected revert kind"
)

// RevertExpectationError indicates a revert expectation scope closed with an outcome violating
// its policy. It is an assertion failure, captured with the sequence trace rather than crashing
// the campaign.
type RevertExpectationError struct {
	// Cause describes which policy was violated.
	Cause RevertExpectationCause

	// Expected describes the revert identity the scope pinned, if any.
	Expected *chain.RevertError

	// Actual describes the revert the wrapped call produced, if it reverted.
	Actual *chain.RevertError
}

// Error returns the error message string, implementing the `error` interface.
func (e *RevertExpectationError) Error() string {
	msg := string(e.Cause)
	if e.Expected != nil {
		msg += fmt.Sprintf(", expected %s", e.Expected.Kind)
	}
	if e.Actual != nil {
		msg += fmt.Sprintf(", got %s", e.Actual.Kind)
	}
	return msg
}
