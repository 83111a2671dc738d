package fuzzing

import (
	"sync"

	"github.com/halcyon-fuzz/halcyon/scenario"
	"github.com/halcyon-fuzz/halcyon/utils"
	"golang.org/x/exp/slices"
)

// SequenceStatus describes the final status of one sequence within a campaign.
type SequenceStatus string

const (
	// SequenceStatusPassed describes a sequence which completed with no failure.
	SequenceStatusPassed SequenceStatus = "passed"

	// SequenceStatusFailed describes a sequence which surfaced a test failure or a scenario
	// authoring error.
	SequenceStatusFailed SequenceStatus = "failed"

	// SequenceStatusAborted describes a sequence which was cut short by a backend failure,
	// neither passing nor failing.
	SequenceStatusAborted SequenceStatus = "aborted"
)

// SequenceOutcome describes the outcome of one sequence within a campaign.
type SequenceOutcome struct {
	// SequenceIndex describes the index of the sequence within the campaign.
	SequenceIndex int

	// Seed describes the per-sequence seed the sequence ran with.
	Seed uint64

	// Status describes the final status of the sequence.
	Status SequenceStatus

	// Failure describes the failure a failed sequence surfaced (post-shrinking).
	Failure *scenario.Failure

	// Record describes the minimized replay record of a failed sequence.
	Record *scenario.ReplayRecord

	// ArchiveKey describes the key the record was persisted under, if an archive is configured.
	ArchiveKey string

	// Err describes the backend error which aborted the sequence, for aborted outcomes.
	Err error
}

// CampaignResult describes the outcome of one fuzzing campaign: a mapping from sequence index to
// outcome, stamped with the campaign's run identifier and top-level seed. It is populated as
// workers finish sequences and is never mutated after the campaign completes.
type CampaignResult struct {
	// RunID uniquely identifies the campaign run, and keys persisted failure records.
	RunID string

	// CampaignSeed describes the top-level seed all per-sequence seeds were derived from.
	CampaignSeed uint64

	// outcomesLock provides thread-synchronization for concurrently reporting workers.
	outcomesLock sync.Mutex

	// outcomes maps sequence index to the sequence's outcome.
	outcomes map[int]*SequenceOutcome

	// firstFailure describes the failed outcome with the lowest sequence index observed so far.
	firstFailure *SequenceOutcome
}

// newCampaignResult creates an empty CampaignResult for the provided run.
func newCampaignResult(runID string, campaignSeed uint64) *CampaignResult {
	return &CampaignResult{
		RunID:        runID,
		CampaignSeed: campaignSeed,
		outcomes:     make(map[int]*SequenceOutcome),
	}
}

// recordOutcome stores one sequence outcome into the result.
func (r *CampaignResult) recordOutcome(outcome *SequenceOutcome) {
	r.outcomesLock.Lock()
	defer r.outcomesLock.Unlock()
	r.outcomes[outcome.SequenceIndex] = outcome
	if outcome.Status == SequenceStatusFailed {
		if r.firstFailure == nil || outcome.SequenceIndex < r.firstFailure.SequenceIndex {
			r.firstFailure = outcome
		}
	}
}

// Outcomes returns all recorded sequence outcomes ordered by sequence index.
func (r *CampaignResult) Outcomes() []*SequenceOutcome {
	r.outcomesLock.Lock()
	defer r.outcomesLock.Unlock()
	outcomes := make([]*SequenceOutcome, 0, len(r.outcomes))
	for _, outcome := range r.outcomes {
		outcomes = append(outcomes, outcome)
	}
	slices.SortFunc(outcomes, func(a *SequenceOutcome, b *SequenceOutcome) int {
		return a.SequenceIndex - b.SequenceIndex
	})
	return outcomes
}

// OutcomesWithStatus returns all recorded sequence outcomes with the provided status, ordered by
// sequence index.
func (r *CampaignResult) OutcomesWithStatus(status SequenceStatus) []*SequenceOutcome {
	return utils.SliceWhere(r.Outcomes(), func(outcome *SequenceOutcome) bool {
		return outcome.Status == status
	})
}

// FirstFailure returns the failed outcome with the lowest sequence index, or nil if no sequence
// failed.
func (r *CampaignResult) FirstFailure() *SequenceOutcome {
	r.outcomesLock.Lock()
	defer r.outcomesLock.Unlock()
	return r.firstFailure
}
