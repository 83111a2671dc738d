package chain

import (
	"context"
	"fmt"
)

// SnapshotID describes an opaque handle to a state checkpoint taken on a Backend.
type SnapshotID uint64

// Backend describes the narrow interface the fuzzing engine consumes to drive an external
// contract execution environment. Implementations must support independent, mutually isolated
// snapshots; the engine never shares a snapshot between concurrently running sequences. The
// engine does not implement contract semantics, gas accounting, or any VM opcodes itself.
type Backend interface {
	// Submit executes one state-mutating or read call against the backend. A reverted call is
	// reported through the CallResult, not the error; a non-nil error indicates a backend
	// failure (transport error, timeout, connection loss).
	Submit(ctx context.Context, call *Call) (*CallResult, error)

	// Snapshot takes a cheap state checkpoint and returns a handle which can be used to roll the
	// backend state back via Restore.
	Snapshot() (SnapshotID, error)

	// Restore rolls the backend state back to the checkpoint the provided handle identifies.
	Restore(id SnapshotID) error

	// AdvanceTime advances the backend's logical clock/block by the provided delta, for use by
	// time-sensitive flows.
	AdvanceTime(delta uint64) error

	// Timestamp returns the backend's current logical clock value.
	Timestamp() uint64

	// Account derives the externally owned account for the provided index. Derivation must be
	// deterministic so that random account selection is itself reproducible from a random draw.
	Account(index int) (Account, error)
}

// BackendError describes a failure of the execution backend itself, as opposed to a contract
// call revert. These are treated as environment failures by the engine and surfaced per the
// configured policy, never silently ignored.
type BackendError struct {
	// Op describes the backend operation which failed.
	Op string

	// Err describes the underlying error, if any.
	Err error
}

// Error returns the error message string, implementing the `error` interface.
func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend %s failed", e.Op)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *BackendError) Unwrap() error {
	return e.Err
}
