package fuzzing

import (
	"github.com/halcyon-fuzz/halcyon/events"
	"github.com/halcyon-fuzz/halcyon/scenario"
)

// FuzzerWorkerEvents defines event emitters for a FuzzerWorker.
type FuzzerWorkerEvents struct {
	// SequenceTesting emits events when the FuzzerWorker is about to execute a new sequence.
	SequenceTesting events.EventEmitter[FuzzerWorkerSequenceTestingEvent]

	// SequenceTested emits events when the FuzzerWorker has finished executing a sequence.
	SequenceTested events.EventEmitter[FuzzerWorkerSequenceTestedEvent]
}

// FuzzerWorkerSequenceTestingEvent describes an event where a fuzzing.FuzzerWorker is about to
// execute a new sequence.
type FuzzerWorkerSequenceTestingEvent struct {
	// Worker represents the instance of the fuzzing.FuzzerWorker for which the event occurred.
	Worker *FuzzerWorker

	// SequenceIndex describes the index of the sequence about to be executed.
	SequenceIndex int
}

// FuzzerWorkerSequenceTestedEvent describes an event where a fuzzing.FuzzerWorker has finished
// executing a sequence.
type FuzzerWorkerSequenceTestedEvent struct {
	// Worker represents the instance of the fuzzing.FuzzerWorker for which the event occurred.
	Worker *FuzzerWorker

	// Result describes the executed sequence's result.
	Result *scenario.SequenceResult
}
