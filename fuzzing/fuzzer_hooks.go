package fuzzing

import (
	"github.com/halcyon-fuzz/halcyon/chain"
)

// NewBackendFunc describes a function which creates an execution backend for one FuzzerWorker.
// Every worker receives its own backend, so concurrently running sequences never share state.
type NewBackendFunc func(fuzzer *Fuzzer) (chain.Backend, error)

// FuzzerHooks describes the replaceable functions used by the Fuzzer.
type FuzzerHooks struct {
	// NewBackendFunc describes the function used to create each worker's execution backend.
	NewBackendFunc NewBackendFunc
}

// defaultNewBackendFunc is a NewBackendFunc which creates an in-memory TestChain whose account
// derivation is seeded by the campaign seed, keeping account addresses reproducible across
// campaign re-runs and failure replays.
func defaultNewBackendFunc(fuzzer *Fuzzer) (chain.Backend, error) {
	return chain.NewTestChain(fuzzer.CampaignSeed()), nil
}
