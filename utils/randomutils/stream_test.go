package randomutils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStreamDeterminism ensures two streams created from the same seed produce identical draws,
// and that a differently seeded stream diverges.
func TestStreamDeterminism(t *testing.T) {
	streamA := NewStream(12345)
	streamB := NewStream(12345)
	streamC := NewStream(54321)

	matchedC := 0
	for i := 0; i < 256; i++ {
		a, err := streamA.Uint64InRange(0, 1_000_000)
		require.NoError(t, err)
		b, err := streamB.Uint64InRange(0, 1_000_000)
		require.NoError(t, err)
		c, err := streamC.Uint64InRange(0, 1_000_000)
		require.NoError(t, err)

		assert.EqualValues(t, a, b)
		if a == c {
			matchedC++
		}
	}

	// A small number of collisions with the differently-seeded stream is possible, but the full
	// sequences should not match.
	assert.Less(t, matchedC, 256)
}

// TestStreamStateReplay ensures a stream restored from a captured state reproduces the exact
// draws the original stream made from that position.
func TestStreamStateReplay(t *testing.T) {
	stream := NewStream(99)

	// Advance the stream by some amount before capturing its state.
	for i := 0; i < 17; i++ {
		_, err := stream.Index(100)
		require.NoError(t, err)
	}
	state := stream.State()

	// Record draws made past the capture point.
	original := make([]uint64, 32)
	for i := range original {
		v, err := stream.Uint64InRange(0, ^uint64(0))
		require.NoError(t, err)
		original[i] = v
	}

	// Replay from the captured state and expect identical draws.
	replayed := NewStreamFromState(state)
	for i := range original {
		v, err := replayed.Uint64InRange(0, ^uint64(0))
		require.NoError(t, err)
		assert.EqualValues(t, original[i], v)
	}
}

// TestStreamRangeBounds ensures inclusive range draws stay within bounds and single-value ranges
// always return that value.
func TestStreamRangeBounds(t *testing.T) {
	stream := NewStream(7)
	for i := 0; i < 512; i++ {
		v, err := stream.Uint64InRange(10, 20)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, uint64(10))
		assert.LessOrEqual(t, v, uint64(20))
	}
	for i := 0; i < 16; i++ {
		v, err := stream.Uint64InRange(42, 42)
		require.NoError(t, err)
		assert.EqualValues(t, uint64(42), v)

		sv, err := stream.Int64InRange(-5, -5)
		require.NoError(t, err)
		assert.EqualValues(t, int64(-5), sv)
	}
}

// TestStreamInvalidRanges ensures constraint violations surface as InvalidRangeError.
func TestStreamInvalidRanges(t *testing.T) {
	stream := NewStream(0)

	_, err := stream.Uint64InRange(5, 4)
	var invalidRangeErr *InvalidRangeError
	assert.ErrorAs(t, err, &invalidRangeErr)

	_, err = stream.Int64InRange(1, -1)
	assert.ErrorAs(t, err, &invalidRangeErr)

	_, err = stream.Bool(1.5)
	assert.ErrorAs(t, err, &invalidRangeErr)

	_, err = stream.Bool(-0.1)
	assert.ErrorAs(t, err, &invalidRangeErr)

	_, err = stream.Index(0)
	assert.ErrorAs(t, err, &invalidRangeErr)
}

// TestStreamBoolBias ensures boolean draws honor degenerate probabilities exactly and roughly
// track an intermediate probability over many draws.
func TestStreamBoolBias(t *testing.T) {
	stream := NewStream(1)
	trueCount := 0
	for i := 0; i < 1000; i++ {
		always, err := stream.Bool(1)
		require.NoError(t, err)
		assert.True(t, always)

		never, err := stream.Bool(0)
		require.NoError(t, err)
		assert.False(t, never)

		coin, err := stream.Bool(0.5)
		require.NoError(t, err)
		if coin {
			trueCount++
		}
	}
	assert.Greater(t, trueCount, 350)
	assert.Less(t, trueCount, 650)
}

// TestStreamFork ensures forked child streams are deterministic functions of the parent state.
func TestStreamFork(t *testing.T) {
	parentA := NewStream(1234)
	parentB := NewStream(1234)

	childA := parentA.Fork()
	childB := parentB.Fork()
	for i := 0; i < 64; i++ {
		a, err := childA.Uint64InRange(0, ^uint64(0))
		require.NoError(t, err)
		b, err := childB.Uint64InRange(0, ^uint64(0))
		require.NoError(t, err)
		assert.EqualValues(t, a, b)
	}
}

// TestDeriveSeed ensures per-index seed derivation is stable and spreads across indexes.
func TestDeriveSeed(t *testing.T) {
	seen := make(map[uint64]struct{})
	for i := uint64(0); i < 128; i++ {
		first := DeriveSeed(42, i)
		second := DeriveSeed(42, i)
		assert.EqualValues(t, first, second)
		seen[first] = struct{}{}
	}
	assert.EqualValues(t, 128, len(seen))
}

// TestWeightedChooseSingleEligible ensures selection always picks the only positively weighted
// choice.
func TestWeightedChooseSingleEligible(t *testing.T) {
	stream := NewStream(3)
	choices := []*WeightedChoice[string]{
		NewWeightedChoice("ignored", big.NewInt(0)),
		NewWeightedChoice("selected", big.NewInt(5)),
	}
	for i := 0; i < 100; i++ {
		choice, err := WeightedChoose(choices, stream)
		require.NoError(t, err)
		assert.EqualValues(t, "selected", choice.Data)
	}
}

// TestWeightedChooseDistribution ensures two equally weighted choices converge toward equal
// selection shares over a large number of draws.
func TestWeightedChooseDistribution(t *testing.T) {
	stream := NewStream(4)
	choices := []*WeightedChoice[int]{
		NewWeightedChoice(0, big.NewInt(7)),
		NewWeightedChoice(1, big.NewInt(7)),
	}
	counts := make([]int, 2)
	for i := 0; i < 10000; i++ {
		choice, err := WeightedChoose(choices, stream)
		require.NoError(t, err)
		counts[choice.Data]++
	}
	assert.Greater(t, counts[0], 4500)
	assert.Greater(t, counts[1], 4500)
}

// TestWeightedChooseNoPositiveWeights ensures selection fails when every weight is non-positive.
func TestWeightedChooseNoPositiveWeights(t *testing.T) {
	stream := NewStream(5)
	choices := []*WeightedChoice[string]{
		NewWeightedChoice("a", big.NewInt(0)),
		NewWeightedChoice("b", big.NewInt(-3)),
	}
	_, err := WeightedChoose(choices, stream)
	assert.Error(t, err)
}
