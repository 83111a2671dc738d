package chain

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// CallHandlerFunc describes a function simulating one contract registered on a TestChain. It
// receives the chain so it can read and mutate simulated state, and returns the call outcome.
// Returning an error signals a backend failure; contract reverts are reported via CallResult.
type CallHandlerFunc func(chain *TestChain, call *Call) (*CallResult, error)

// TestChain provides an in-memory Backend implementation used by the engine's own tests and by
// scenarios exercising a modeled system without an external node. It maintains account balances,
// per-target key-value storage, a logical clock, and a snapshot stack, with contract behavior
// supplied through registered call handlers.
type TestChain struct {
	// accountSeed describes the seed all account addresses are derived from.
	accountSeed uint64

	// balances describes the native token balance of each account.
	balances map[Address]*uint256.Int

	// storage describes per-target key-value state available to call handlers.
	storage map[string]map[string][]byte

	// timestamp describes the chain's logical clock.
	timestamp uint64

	// blockNumber describes the chain's logical block height.
	blockNumber uint64

	// handlers describes the registered call handlers, keyed by call target.
	handlers map[string]CallHandlerFunc

	// snapshots describes state checkpoints taken on this chain, keyed by their handle.
	snapshots map[SnapshotID]*chainState

	// nextSnapshotID describes the handle the next snapshot will be assigned.
	nextSnapshotID SnapshotID
}

// chainState describes a deep copy of a TestChain's mutable state, stored per snapshot.
type chainState struct {
	balances    map[Address]*uint256.Int
	storage     map[string]map[string][]byte
	timestamp   uint64
	blockNumber uint64
}

// NewTestChain creates a TestChain deriving its accounts from the provided seed.
func NewTestChain(accountSeed uint64) *TestChain {
	return &TestChain{
		accountSeed: accountSeed,
		balances:    make(map[Address]*uint256.Int),
		storage:     make(map[string]map[string][]byte),
		handlers:    make(map[string]CallHandlerFunc),
		snapshots:   make(map[SnapshotID]*chainState),
	}
}

// Clone creates a fresh TestChain with the same account seed and registered handlers, but none
// of this chain's mutated state or snapshots. Each fuzzing worker clones the base chain so that
// concurrently running sequences never observe each other's mutations.
func (t *TestChain) Clone() *TestChain {
	cloned := NewTestChain(t.accountSeed)
	for target, handler := range t.handlers {
		cloned.handlers[target] = handler
	}
	for addr, balance := range t.balances {
		cloned.balances[addr] = balance.Clone()
	}
	for target, slots := range t.storage {
		clonedSlots := make(map[string][]byte, len(slots))
		for key, value := range slots {
			clonedSlots[key] = append([]byte(nil), value...)
		}
		cloned.storage[target] = clonedSlots
	}
	cloned.timestamp = t.timestamp
	cloned.blockNumber = t.blockNumber
	return cloned
}

// RegisterHandler registers a call handler simulating a contract reachable at the given target.
func (t *TestChain) RegisterHandler(target string, handler CallHandlerFunc) {
	t.handlers[target] = handler
}

// Balance returns the native token balance of the provided address. Unknown addresses hold zero.
func (t *TestChain) Balance(addr Address) *uint256.Int {
	if balance, ok := t.balances[addr]; ok {
		return balance.Clone()
	}
	return uint256.NewInt(0)
}

// SetBalance sets the native token balance of the provided address.
func (t *TestChain) SetBalance(addr Address, balance *uint256.Int) {
	t.balances[addr] = balance.Clone()
}

// GetStorage reads a value from the provided target's key-value storage. Returns nil if the key
// has never been written.
func (t *TestChain) GetStorage(target string, key string) []byte {
	if slots, ok := t.storage[target]; ok {
		return slots[key]
	}
	return nil
}

// SetStorage writes a value into the provided target's key-value storage.
func (t *TestChain) SetStorage(target string, key string, value []byte) {
	slots, ok := t.storage[target]
	if !ok {
		slots = make(map[string][]byte)
		t.storage[target] = slots
	}
	slots[key] = append([]byte(nil), value...)
}

// BlockNumber returns the chain's logical block height.
func (t *TestChain) BlockNumber() uint64 {
	return t.blockNumber
}

// Submit executes one call against the chain by dispatching it to the registered handler for its
// target, implementing Backend. An unknown target or a cancelled context is a backend failure.
func (t *TestChain) Submit(ctx context.Context, call *Call) (*CallResult, error) {
	// Honor cancellation before starting work; an in-progress handler is never aborted.
	select {
	case <-ctx.Done():
		return nil, &BackendError{Op: "submit", Err: ctx.Err()}
	default:
	}

	handler, ok := t.handlers[call.Target]
	if !ok {
		return nil, &BackendError{Op: "submit", Err: fmt.Errorf("no handler registered for target %q", call.Target)}
	}

	result, err := handler(t, call)
	if err != nil {
		return nil, &BackendError{Op: "submit", Err: err}
	}

	// Every successful call advances the logical block height, mirroring one transaction per
	// block semantics.
	t.blockNumber++
	return result, nil
}

// Snapshot takes a deep copy of the chain's mutable state, implementing Backend.
func (t *TestChain) Snapshot() (SnapshotID, error) {
	state := &chainState{
		balances:    make(map[Address]*uint256.Int, len(t.balances)),
		storage:     make(map[string]map[string][]byte, len(t.storage)),
		timestamp:   t.timestamp,
		blockNumber: t.blockNumber,
	}
	for addr, balance := range t.balances {
		state.balances[addr] = balance.Clone()
	}
	for target, slots := range t.storage {
		copiedSlots := make(map[string][]byte, len(slots))
		for key, value := range slots {
			copiedSlots[key] = append([]byte(nil), value...)
		}
		state.storage[target] = copiedSlots
	}

	id := t.nextSnapshotID
	t.nextSnapshotID++
	t.snapshots[id] = state
	return id, nil
}

// Restore rolls the chain's mutable state back to the provided snapshot, implementing Backend.
// The snapshot remains valid, so it may be restored repeatedly (e.g. once per shrink attempt).
func (t *TestChain) Restore(id SnapshotID) error {
	state, ok := t.snapshots[id]
	if !ok {
		return &BackendError{Op: "restore", Err: fmt.Errorf("unknown snapshot %d", id)}
	}

	t.balances = make(map[Address]*uint256.Int, len(state.balances))
	for addr, balance := range state.balances {
		t.balances[addr] = balance.Clone()
	}
	t.storage = make(map[string]map[string][]byte, len(state.storage))
	for target, slots := range state.storage {
		copiedSlots := make(map[string][]byte, len(slots))
		for key, value := range slots {
			copiedSlots[key] = append([]byte(nil), value...)
		}
		t.storage[target] = copiedSlots
	}
	t.timestamp = state.timestamp
	t.blockNumber = state.blockNumber
	return nil
}

// AdvanceTime advances the logical clock by the provided delta and the block height by one,
// implementing Backend.
func (t *TestChain) AdvanceTime(delta uint64) error {
	t.timestamp += delta
	t.blockNumber++
	return nil
}

// Timestamp returns the chain's logical clock value, implementing Backend.
func (t *TestChain) Timestamp() uint64 {
	return t.timestamp
}

// Account derives the externally owned account for the provided index, implementing Backend.
// Addresses are the trailing twenty bytes of keccak256(seed || index), so derivation depends on
// nothing but the chain's account seed and the index.
func (t *TestChain) Account(index int) (Account, error) {
	if index < 0 {
		return Account{}, &BackendError{Op: "account", Err: fmt.Errorf("negative account index %d", index)}
	}

	var preimage [16]byte
	binary.BigEndian.PutUint64(preimage[:8], t.accountSeed)
	binary.BigEndian.PutUint64(preimage[8:], uint64(index))

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(preimage[:])
	digest := hasher.Sum(nil)

	var addr Address
	copy(addr[:], digest[len(digest)-20:])
	return Account{Index: index, Address: addr}, nil
}
