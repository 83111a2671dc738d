package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

// Address describes a 20-byte account address on the simulated execution environment.
type Address [20]byte

// Hex returns the hexadecimal string representation of the Address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String returns the string representation of the Address, implementing fmt.Stringer.
func (a Address) String() string {
	return a.Hex()
}

// Account describes an externally owned account handle derived deterministically by a Backend.
type Account struct {
	// Index describes the derivation index the account was obtained from.
	Index int

	// Address describes the account's address.
	Address Address
}

// Call describes one invocation submitted to the execution backend. The engine treats its
// contents as opaque; targets, methods and arguments are interpreted by the backend alone.
type Call struct {
	// Sender describes the account the call originates from.
	Sender Account

	// Target identifies the contract the call is directed at.
	Target string

	// Method identifies the contract method to invoke.
	Method string

	// Args describes the method arguments, interpreted by the backend's call handler.
	Args []any

	// Value describes the native token amount transferred with the call, or nil for zero.
	Value *uint256.Int
}

// CallResult describes the outcome of one submitted call.
type CallResult struct {
	// Reverted indicates whether the call reverted rather than completing successfully.
	Reverted bool

	// RevertReason describes the error the call reverted with, if the backend could decode one.
	// It is nil when Reverted is false, and may be nil for reverts carrying no data.
	RevertReason *RevertError

	// ReturnData describes the raw data the call returned.
	ReturnData []byte
}

// RevertError describes the decoded identity of a contract revert: a kind (custom error name,
// panic class or plain revert) together with its raw payload. Two reverts are considered the
// same failure when their kinds and payloads match, regardless of human-readable message text.
type RevertError struct {
	// Kind describes the identity of the error, e.g. a custom error name or "panic".
	Kind string `json:"kind"`

	// Data describes the raw encoded payload associated with the error, if any.
	Data []byte `json:"data,omitempty"`

	// Message describes an optional human-readable message. It does not participate in identity
	// matching.
	Message string `json:"message,omitempty"`
}

// NewRevertError creates a RevertError with the provided kind and message and no payload.
func NewRevertError(kind string, message string) *RevertError {
	return &RevertError{Kind: kind, Message: message}
}

// Error returns the error message string, implementing the `error` interface.
func (e *RevertError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("reverted with %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("reverted with %s", e.Kind)
}

// Matches compares the identity of two reverts. Identity covers the error kind and the decoded
// payload, but not the message, so reworded errors of the same kind still match.
func (e *RevertError) Matches(other *RevertError) bool {
	if other == nil {
		return false
	}
	return e.Kind == other.Kind && bytes.Equal(e.Data, other.Data)
}
