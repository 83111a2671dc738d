package fuzzing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/halcyon-fuzz/halcyon/fuzzing/archive"
	"github.com/halcyon-fuzz/halcyon/fuzzing/config"
	"github.com/halcyon-fuzz/halcyon/logging"
	"github.com/halcyon-fuzz/halcyon/scenario"
	"github.com/halcyon-fuzz/halcyon/utils"
	"github.com/halcyon-fuzz/halcyon/version"
	"github.com/shopspring/decimal"
)

// Fuzzer represents a stateful property-based fuzzing campaign provider for one scenario. It
// distributes independent sequences across a pool of FuzzerWorker instances, each owning its own
// execution backend, and aggregates their outcomes into a CampaignResult.
type Fuzzer struct {
	// ctx describes the context for the fuzzing run, used to cancel running operations.
	ctx context.Context
	// ctxCancelFunc describes a function which can be used to cancel the fuzzing operations ctx
	// tracks.
	ctxCancelFunc context.CancelFunc

	// config describes the project configuration which the fuzzing is targeting.
	config config.ProjectConfig
	// scenario describes the user-declared scenario under test.
	scenario *scenario.Scenario
	// campaignSeed describes the top-level seed all per-sequence seeds are derived from.
	campaignSeed uint64

	// workers represents the work threads created by this Fuzzer when Start invokes a fuzz
	// operation.
	workers []*FuzzerWorker
	// metrics represents the metrics for the fuzzing campaign.
	metrics *FuzzerMetrics
	// archive stores minimized failure records for later replay, if configured.
	archive *archive.Archive
	// result collects per-sequence outcomes as workers finish.
	result *CampaignResult
	// nextSequenceIndex dispenses scheduled sequence indexes to workers.
	nextSequenceIndex atomic.Int64
	// logger describes the Fuzzer's log output and modifiers.
	logger *logging.Logger

	// Events describes the event system for the Fuzzer.
	Events FuzzerEvents

	// Hooks describes the replaceable functions used by the Fuzzer.
	Hooks FuzzerHooks
}

// NewFuzzer returns an instance of a new Fuzzer provided a project configuration and a scenario,
// or an error if one is encountered while initializing it.
func NewFuzzer(projectConfig config.ProjectConfig, s *scenario.Scenario) (*Fuzzer, error) {
	// Validate our provided config and scenario
	if err := projectConfig.Validate(version.Version); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	// Resolve the campaign seed. It is always logged on start, so unseeded campaigns stay
	// reproducible after the fact.
	var campaignSeed uint64
	if projectConfig.Fuzzing.Seed != nil {
		campaignSeed = *projectConfig.Fuzzing.Seed
	} else {
		campaignSeed = uint64(time.Now().UnixNano())
	}

	// Create and return our fuzzing instance.
	fuzzer := &Fuzzer{
		config:       projectConfig,
		scenario:     s,
		campaignSeed: campaignSeed,
		logger:       logging.GlobalLogger.NewSubLogger("module", "fuzzer"),
		Hooks: FuzzerHooks{
			NewBackendFunc: defaultNewBackendFunc,
		},
	}
	return fuzzer, nil
}

// Config exposes the underlying project configuration provided to the Fuzzer.
func (f *Fuzzer) Config() config.ProjectConfig {
	return f.config
}

// Scenario exposes the scenario under test.
func (f *Fuzzer) Scenario() *scenario.Scenario {
	return f.scenario
}

// CampaignSeed exposes the top-level seed the campaign derives all per-sequence seeds from.
func (f *Fuzzer) CampaignSeed() uint64 {
	return f.campaignSeed
}

// Metrics exposes the metrics tracked for the running campaign.
func (f *Fuzzer) Metrics() *FuzzerMetrics {
	return f.metrics
}

// Result exposes the campaign result being populated by the running (or finished) campaign.
func (f *Fuzzer) Result() *CampaignResult {
	return f.result
}

// claimSequenceIndex dispenses the next scheduled sequence index to a worker. Returns false when
// the campaign schedule is exhausted.
func (f *Fuzzer) claimSequenceIndex() (int, bool) {
	sequenceIndex := f.nextSequenceIndex.Add(1) - 1
	if sequenceIndex >= int64(f.config.Fuzzing.SequenceCount) {
		return 0, false
	}
	return int(sequenceIndex), true
}

// spawnWorkersLoop is a method which spawns a config-defined amount of FuzzerWorker to carry out
// the fuzzing campaign. Workers which hit their reset limit are destroyed and recreated at the
// same index. This function exits when the campaign schedule is exhausted, Fuzzer.ctx is
// cancelled, or a campaign-fatal error occurs.
func (f *Fuzzer) spawnWorkersLoop() error {
	// We create our fuzz workers in a loop, using a channel to block when we reach capacity.
	f.workers = make([]*FuzzerWorker, f.config.Fuzzing.Workers)
	threadReserveChannel := make(chan struct{}, f.config.Fuzzing.Workers)

	// Workers are "reset" when they hit the config-defined limit. They are destroyed and
	// recreated at the same index, so we track an available index queue.
	availableWorkerIndexes := make([]int, f.config.Fuzzing.Workers)
	availableWorkerIndexedLock := sync.Mutex{}
	for i := 0; i < len(availableWorkerIndexes); i++ {
		availableWorkerIndexes[i] = i
	}

	// working indicates whether replacement workers should still be spawned.
	var working atomic.Bool
	working.Store(!utils.CheckContextDone(f.ctx))

	// err captures the first campaign-fatal error reported by any worker goroutine.
	var err error
	errLock := sync.Mutex{}
	setErr := func(e error) {
		errLock.Lock()
		defer errLock.Unlock()
		if err == nil && e != nil {
			err = e
		}
	}
	getErr := func() error {
		errLock.Lock()
		defer errLock.Unlock()
		return err
	}

	f.logger.Info("Creating ", f.config.Fuzzing.Workers, " workers ...")
	for getErr() == nil && working.Load() {
		// Send an item into our channel to queue up a spot. This will block us if we hit
		// capacity until a worker slot is freed up.
		threadReserveChannel <- struct{}{}

		// Pop a worker index off of our queue
		availableWorkerIndexedLock.Lock()
		workerIndex := availableWorkerIndexes[0]
		availableWorkerIndexes = availableWorkerIndexes[1:]
		availableWorkerIndexedLock.Unlock()

		// Run our goroutine. This should take our queued struct out of the channel once it's
		// done, keeping us at our desired thread capacity.
		go func(workerIndex int) {
			// Create a new worker for this index.
			worker, workerCreatedErr := newFuzzerWorker(f, workerIndex)
			if workerCreatedErr != nil {
				setErr(workerCreatedErr)
			} else {
				f.workers[workerIndex] = worker
				setErr(f.Events.WorkerCreated.Publish(FuzzerWorkerCreatedEvent{Worker: worker}))

				// Run the worker until it is cancelled, out of work, or due for a reset.
				stopSpawning, workerErr := worker.run()
				setErr(workerErr)
				if stopSpawning {
					working.Store(false)
				}

				// Publish an event indicating we destroyed a worker.
				setErr(f.Events.WorkerDestroyed.Publish(FuzzerWorkerDestroyedEvent{Worker: worker}))
			}

			// Free our worker id before unblocking our channel, as a free one will be expected.
			availableWorkerIndexedLock.Lock()
			availableWorkerIndexes = append(availableWorkerIndexes, workerIndex)
			availableWorkerIndexedLock.Unlock()

			// Unblock our channel by freeing our capacity of another item, making way for
			// another worker.
			<-threadReserveChannel
		}(workerIndex)
	}

	// Explicitly call cancel on our context to ensure all threads exit if we encountered an
	// error or ran out of work.
	f.ctxCancelFunc()

	// Wait for every worker to be freed, so we don't have a race condition when reporting the
	// final campaign result.
	for {
		availableWorkerIndexedLock.Lock()
		freeWorkers := len(availableWorkerIndexes)
		availableWorkerIndexedLock.Unlock()
		if freeWorkers == len(f.workers) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return getErr()
}

// Start begins a fuzzing campaign on the configured scenario. This operation will not return
// until the campaign schedule completes, an error is encountered, or the operation is cancelled
// via the Stop method. Returns the campaign result and an error if a campaign-fatal one was
// encountered; test failures are reported through the result, not the error.
func (f *Fuzzer) Start() (*CampaignResult, error) {
	// Create our running context (allows us to cancel across threads)
	f.ctx, f.ctxCancelFunc = context.WithCancel(context.Background())

	// If we set a timeout, create the timeout context now, as we're about to begin fuzzing.
	if f.config.Fuzzing.Timeout > 0 {
		f.logger.Info("Running with a timeout of ", f.config.Fuzzing.Timeout, " seconds")
		f.ctx, f.ctxCancelFunc = context.WithTimeout(f.ctx, time.Duration(f.config.Fuzzing.Timeout)*time.Second)
	}

	// The context is cancelled on every exit path, including early error returns, so background
	// loops observe shutdown and any timeout timer is released.
	defer func() { f.ctxCancelFunc() }()

	// Initialize our metrics, sequence dispenser and campaign result.
	f.metrics = newFuzzerMetrics(f.config.Fuzzing.Workers)
	f.nextSequenceIndex.Store(0)
	f.result = newCampaignResult(uuid.New().String(), f.campaignSeed)

	// Open the failure archive, if one is configured.
	var err error
	if f.config.Fuzzing.ArchiveDirectory != "" {
		f.archive, err = archive.Open(f.config.Fuzzing.ArchiveDirectory)
		if err != nil {
			return nil, err
		}
	}

	f.logger.Info("Starting campaign ", f.result.RunID, " with seed ", fmt.Sprintf("%d", f.campaignSeed))

	// Start our printing loop now that we're about to begin fuzzing.
	go f.runMetricsPrintLoop()

	// Publish a fuzzer starting event.
	err = f.Events.FuzzerStarting.Publish(FuzzerStartingEvent{Fuzzer: f})
	if err == nil {
		// Run the main worker loop.
		err = f.spawnWorkersLoop()
	}

	// NOTE: After this point, we capture errors but do not return immediately, as we want to
	// exit gracefully.

	// Close the failure archive, flushing persisted records.
	if f.archive != nil {
		archiveCloseErr := f.archive.Close()
		f.archive = nil
		if err == nil {
			err = archiveCloseErr
		}
	}

	// Publish a fuzzer stopping event.
	fuzzerStoppingErr := f.Events.FuzzerStopping.Publish(FuzzerStoppingEvent{Fuzzer: f, err: err})
	if err == nil && fuzzerStoppingErr != nil {
		err = fuzzerStoppingErr
	}

	// Log our campaign summary.
	outcomes := f.result.Outcomes()
	countWithStatus := func(status SequenceStatus) int {
		return utils.SliceCount(outcomes, func(outcome *SequenceOutcome) bool {
			return outcome.Status == status
		})
	}
	passed := countWithStatus(SequenceStatusPassed)
	failed := countWithStatus(SequenceStatusFailed)
	aborted := countWithStatus(SequenceStatusAborted)
	f.logger.Info("Campaign finished: ", passed, " passed, ", failed, " failed, ", aborted, " aborted")
	if firstFailure := f.result.FirstFailure(); firstFailure != nil {
		f.logger.Error(fmt.Sprintf(
			"First failure in sequence %d (campaign seed %d, sequence seed %d): %s",
			firstFailure.SequenceIndex, f.campaignSeed, firstFailure.Seed, firstFailure.Failure.Error(),
		))
	}

	// Return the result and any encountered error.
	return f.result, err
}

// Stop stops a running operation invoked by the Start method. Cancellation is cooperative:
// in-flight external calls finish, then workers observe the cancellation before starting their
// next flow. This method may return before complete operation teardown occurs.
func (f *Fuzzer) Stop() {
	// Call the cancel function on our running context to stop all working goroutines
	if f.ctxCancelFunc != nil {
		f.ctxCancelFunc()
	}
}

// runMetricsPrintLoop prints metrics to the logger in a loop until ctx signals a stopped
// operation.
func (f *Fuzzer) runMetricsPrintLoop() {
	startTime := time.Now()

	// Define cached variables for our metrics to calculate deltas.
	var lastFlowsTested, lastSequencesTested uint64
	lastPrintedTime := startTime
	for !utils.CheckContextDone(f.ctx) {
		time.Sleep(time.Second * 3)

		// Obtain our metrics
		flowsTested := f.metrics.FlowsTested()
		sequencesTested := f.metrics.SequencesTested()

		// Calculate rates since the last update
		secondsSinceLastUpdate := decimal.NewFromFloat(time.Since(lastPrintedTime).Seconds())
		flowRate := decimal.NewFromInt(int64(flowsTested - lastFlowsTested)).Div(secondsSinceLastUpdate)
		sequenceRate := decimal.NewFromInt(int64(sequencesTested - lastSequencesTested)).Div(secondsSinceLastUpdate)

		// Print a metrics update
		f.logger.Info(
			"fuzz: elapsed: ", time.Since(startTime).Round(time.Second).String(),
			", flows: ", flowsTested, " (", flowRate.StringFixed(1), "/sec)",
			", sequences: ", sequencesTested, " (", sequenceRate.StringFixed(1), "/sec)",
			", shrink replays: ", f.metrics.ShrinkReplays(),
			", worker resets: ", f.metrics.WorkerStartupCount(),
		)

		// Update our delta tracking metrics
		lastPrintedTime = time.Now()
		lastFlowsTested = flowsTested
		lastSequencesTested = sequencesTested
	}
}
