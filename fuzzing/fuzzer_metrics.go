package fuzzing

// FuzzerMetrics represents a struct tracking metrics for a Fuzzer run.
type FuzzerMetrics struct {
	// workerMetrics describes the metrics for each individual worker. Some slots may be zeroed
	// while workers are initializing, as it corresponds to the indexes in Fuzzer.workers.
	workerMetrics []fuzzerWorkerMetrics
}

// newFuzzerMetrics obtains a new FuzzerMetrics struct for a given number of workers specified by
// workerCount. Returns the new FuzzerMetrics object.
func newFuzzerMetrics(workerCount int) *FuzzerMetrics {
	return &FuzzerMetrics{
		workerMetrics: make([]fuzzerWorkerMetrics, workerCount),
	}
}

// SequencesTested returns the amount of sequences executed across all workers.
func (m *FuzzerMetrics) SequencesTested() uint64 {
	sequencesTested := uint64(0)
	for _, workerMetrics := range m.workerMetrics {
		sequencesTested += workerMetrics.sequencesTested
	}
	return sequencesTested
}

// FlowsTested returns the amount of flow invocations executed across all workers.
func (m *FuzzerMetrics) FlowsTested() uint64 {
	flowsTested := uint64(0)
	for _, workerMetrics := range m.workerMetrics {
		flowsTested += workerMetrics.flowsTested
	}
	return flowsTested
}

// ShrinkReplays returns the amount of shrinking candidate replays executed across all workers.
func (m *FuzzerMetrics) ShrinkReplays() uint64 {
	shrinkReplays := uint64(0)
	for _, workerMetrics := range m.workerMetrics {
		shrinkReplays += workerMetrics.shrinkReplays
	}
	return shrinkReplays
}

// WorkerStartupCount describes the amount of times a worker was created, or re-created for its
// index. Re-creation occurs when a worker hits its reset limit and its backend is discarded to
// free resources.
func (m *FuzzerMetrics) WorkerStartupCount() uint64 {
	workerStartupCount := uint64(0)
	for _, workerMetrics := range m.workerMetrics {
		workerStartupCount += workerMetrics.workerStartupCount
	}
	return workerStartupCount
}

// fuzzerWorkerMetrics represents metrics for a single FuzzerWorker instance.
type fuzzerWorkerMetrics struct {
	// sequencesTested describes the amount of sequences this worker executed.
	sequencesTested uint64

	// flowsTested describes the amount of flow invocations this worker executed.
	flowsTested uint64

	// shrinkReplays describes the amount of shrinking candidate replays this worker executed.
	shrinkReplays uint64

	// workerStartupCount describes the amount of times the worker was created, or re-created for
	// this index.
	workerStartupCount uint64
}
