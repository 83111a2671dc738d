package scenario

import (
	"errors"
	"fmt"
	"testing"

	"github.com/halcyon-fuzz/halcyon/chain"
	"github.com/halcyon-fuzz/halcyon/utils/randomutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioValidate verifies malformed scenario declarations are rejected with a descriptive
// error.
func TestScenarioValidate(t *testing.T) {
	noop := func(runtime *Runtime) error { return nil }

	valid := &Scenario{
		Name:       "valid",
		Flows:      []*Flow{{Name: "a", Action: noop}},
		Invariants: []*Invariant{{Name: "i", Check: noop}},
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&Scenario{Flows: []*Flow{{Name: "a", Action: noop}}}).Validate())
	assert.Error(t, (&Scenario{Name: "empty"}).Validate())
	assert.Error(t, (&Scenario{
		Name:  "dup",
		Flows: []*Flow{{Name: "a", Action: noop}, {Name: "a", Action: noop}},
	}).Validate())
	assert.Error(t, (&Scenario{
		Name:  "no_action",
		Flows: []*Flow{{Name: "a"}},
	}).Validate())
	assert.Error(t, (&Scenario{
		Name:       "no_check",
		Flows:      []*Flow{{Name: "a", Action: noop}},
		Invariants: []*Invariant{{Name: "i"}},
	}).Validate())
	assert.Error(t, (&Scenario{
		Name:  "negative_cap",
		Flows: []*Flow{{Name: "a", Action: noop, MaxTimes: -1}},
	}).Validate())
}

// TestFailureSameKind verifies failure identity matching: same origin and revert identity match,
// while differing origins, causes or revert kinds do not. Message differences alone do not
// separate revert-shaped failures.
func TestFailureSameKind(t *testing.T) {
	lockedA := newFailure("deposit", "", 3, chain.NewRevertError("VaultLocked", "locked"))
	lockedB := newFailure("deposit", "", 9, chain.NewRevertError("VaultLocked", "reworded message"))
	empty := newFailure("deposit", "", 3, chain.NewRevertError("VaultEmpty", "empty"))
	otherFlow := newFailure("withdraw", "", 3, chain.NewRevertError("VaultLocked", "locked"))

	assert.True(t, lockedA.SameKind(lockedB))
	assert.False(t, lockedA.SameKind(empty))
	assert.False(t, lockedA.SameKind(otherFlow))

	mustA := newFailure("deposit", "", 1, &RevertExpectationError{Cause: ExpectedRevertDidNotOccur})
	mustB := newFailure("deposit", "", 5, &RevertExpectationError{Cause: ExpectedRevertDidNotOccur})
	wrongKind := newFailure("deposit", "", 1, &RevertExpectationError{
		Cause:  UnexpectedRevertKind,
		Actual: chain.NewRevertError("VaultEmpty", ""),
	})
	assert.True(t, mustA.SameKind(mustB))
	assert.False(t, mustA.SameKind(wrongKind))

	invariant := newFailure("", "balance_non_negative", 4, fmt.Errorf("balance went negative: -3"))
	sameInvariant := newFailure("", "balance_non_negative", 8, fmt.Errorf("balance went negative: -3"))
	assert.True(t, invariant.SameKind(sameInvariant))
	assert.False(t, invariant.SameKind(lockedA))

	sentinel := errors.New("authoring bug")
	assert.True(t, newFailure("a", "", 0, sentinel).SameKind(newFailure("a", "", 2, sentinel)))
}

// TestReplayRecordRoundTrip verifies a persisted failure record decodes back with the identity
// fields needed to reproduce and recognize the failure.
func TestReplayRecordRoundTrip(t *testing.T) {
	record := &ReplayRecord{
		ScenarioName:  "vault",
		CampaignSeed:  42,
		SequenceIndex: 3,
		SequenceSeed:  randomutils.DeriveSeed(42, 3),
		Trace: Trace{
			{StepIndex: 0, FlowName: "deposit", StreamState: randomutils.StreamState{Seed: 7, Count: 1}, Outcome: StepOutcomePassed},
			{StepIndex: 1, FlowName: "withdraw", StreamState: randomutils.StreamState{Seed: 7, Count: 3}, Outcome: StepOutcomeFailed},
		},
		Failure: newFailure("withdraw", "", 1, chain.NewRevertError("VaultEmpty", "vault is empty")),
	}

	encoded, err := record.Encode()
	require.NoError(t, err)
	decoded, err := DecodeReplayRecord(encoded)
	require.NoError(t, err)

	assert.Equal(t, record.ScenarioName, decoded.ScenarioName)
	assert.Equal(t, record.CampaignSeed, decoded.CampaignSeed)
	assert.Equal(t, record.SequenceIndex, decoded.SequenceIndex)
	assert.Equal(t, record.SequenceSeed, decoded.SequenceSeed)
	require.Len(t, decoded.Trace, 2)
	assert.Equal(t, record.Trace[0].StreamState, decoded.Trace[0].StreamState)
	assert.Equal(t, "withdraw", decoded.Trace[1].FlowName)
	require.NotNil(t, decoded.Failure)
	assert.True(t, record.Failure.SameKind(decoded.Failure))
}
