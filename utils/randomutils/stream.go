package randomutils

import (
	"fmt"

	"pgregory.net/rand"
)

// InvalidRangeError indicates a random stream primitive was invoked with arguments which do not
// describe a valid range (e.g. min > max, a probability outside [0, 1], or a non-positive index
// bound). It indicates a bug in the calling flow or argument generation code, so it is never
// retried by the engine.
type InvalidRangeError struct {
	// Message describes the constraint which was violated.
	Message string
}

// Error returns the error message string, implementing the `error` interface.
func (e *InvalidRangeError) Error() string {
	return e.Message
}

// StreamState describes the exact position of a Stream. Storing a StreamState alongside a trace
// entry is sufficient to regenerate the same random decisions on replay, as every draw a Stream
// produces is a pure function of (seed, draw count).
type StreamState struct {
	// Seed describes the seed the Stream was created with.
	Seed uint64 `json:"seed"`

	// Count describes the number of draws made from the Stream so far.
	Count uint64 `json:"count"`
}

// Stream provides deterministic random primitives for fuzzing campaigns. Each draw is produced by
// a PRNG constructed from the stream seed and the current draw index, so two streams built from
// the same seed and fed the same call sequence yield identical outputs, regardless of wall-clock
// time or sibling streams. A Stream is not safe for concurrent use; each sequence owns its own.
type Stream struct {
	// seed describes the seed from which all draws are derived.
	seed uint64

	// count describes the amount of draws made from this stream so far.
	count uint64
}

// NewStream creates a Stream which derives all of its draws from the provided seed.
func NewStream(seed uint64) *Stream {
	return &Stream{seed: seed}
}

// NewStreamFromState creates a Stream positioned at the provided StreamState. Draws made from it
// will be identical to the draws the originally captured stream made from that position onwards.
func NewStreamFromState(state StreamState) *Stream {
	return &Stream{seed: state.Seed, count: state.Count}
}

// State captures the current position of the Stream for trace recording and later replay.
func (s *Stream) State() StreamState {
	return StreamState{Seed: s.seed, Count: s.count}
}

// Seed returns the seed this Stream was created with.
func (s *Stream) Seed() uint64 {
	return s.seed
}

// next obtains a PRNG for the current draw position and advances the stream by one position.
func (s *Stream) next() *rand.Rand {
	r := rand.New(s.seed, s.count)
	s.count++
	return r
}

// Uint64InRange returns a uniformly distributed integer in the inclusive range [min, max].
// Returns an *InvalidRangeError if min > max.
func (s *Stream) Uint64InRange(min uint64, max uint64) (uint64, error) {
	if min > max {
		return 0, &InvalidRangeError{Message: fmt.Sprintf("invalid random range: min (%d) is greater than max (%d)", min, max)}
	}

	// The range width may overflow a uint64 if it spans the whole domain, so we special case it.
	width := max - min
	if width == ^uint64(0) {
		return s.next().Uint64(), nil
	}
	return min + s.next().Uint64n(width+1), nil
}

// Int64InRange returns a uniformly distributed signed integer in the inclusive range [min, max].
// Returns an *InvalidRangeError if min > max.
func (s *Stream) Int64InRange(min int64, max int64) (int64, error) {
	if min > max {
		return 0, &InvalidRangeError{Message: fmt.Sprintf("invalid random range: min (%d) is greater than max (%d)", min, max)}
	}

	// Offset the signed range into unsigned space to avoid overflow on the width computation.
	width := uint64(max) - uint64(min)
	if width == ^uint64(0) {
		return int64(s.next().Uint64()), nil
	}
	return min + int64(s.next().Uint64n(width+1)), nil
}

// Bool returns a boolean which is true with the provided probability.
// Returns an *InvalidRangeError if the probability lies outside [0, 1].
func (s *Stream) Bool(trueProbability float64) (bool, error) {
	if trueProbability < 0 || trueProbability > 1 {
		return false, &InvalidRangeError{Message: fmt.Sprintf("invalid random probability: %v is not in [0, 1]", trueProbability)}
	}
	return s.next().Float64() < trueProbability, nil
}

// Index returns an integer in [0, n), suitable for positional selection out of n items.
// Returns an *InvalidRangeError if n is not positive.
func (s *Stream) Index(n int) (int, error) {
	if n <= 0 {
		return 0, &InvalidRangeError{Message: fmt.Sprintf("invalid random index bound: %d is not positive", n)}
	}
	return int(s.next().Uint64n(uint64(n))), nil
}

// Fork creates a child Stream seeded from this stream's random data. This can be leveraged to
// give each of multiple concurrent consumers its own deterministic stream derived from an
// original. Returns the forked child stream.
func (s *Stream) Fork() *Stream {
	return NewStream(s.next().Uint64())
}

// DeriveSeed deterministically derives a child seed from a parent seed and an index. Re-running
// with the same parent seed reproduces the same child seed for every index, which is the basis
// for reproducible per-sequence seeding in parallel campaigns.
func DeriveSeed(parentSeed uint64, index uint64) uint64 {
	return rand.New(parentSeed, index).Uint64()
}
