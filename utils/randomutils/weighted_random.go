package randomutils

import (
	"fmt"
	"math/big"
)

// WeightedChoice describes a weighted, randomly selectable object for use with WeightedChoose.
type WeightedChoice[T any] struct {
	// Data describes the wrapped data returned when this choice is selected.
	Data T

	// weight describes a value indicating the likelihood of this choice to appear in a random
	// selection. Its probability is calculated as its weight over the sum of all weights offered.
	weight *big.Int
}

// NewWeightedChoice creates a WeightedChoice with the given underlying data and selection weight.
func NewWeightedChoice[T any](data T, weight *big.Int) *WeightedChoice[T] {
	return &WeightedChoice[T]{
		Data:   data,
		weight: new(big.Int).Set(weight),
	}
}

// Weight returns the selection weight of this choice.
func (c *WeightedChoice[T]) Weight() *big.Int {
	return new(big.Int).Set(c.weight)
}

// WeightedChoose selects one of the provided choices using a single draw from the provided
// Stream. Selection builds a cumulative weight distribution over the choices and picks the one
// whose cumulative range contains the drawn position. Choices with non-positive weights are never
// selected. Returns an error if no choice has a positive weight.
func WeightedChoose[T any](choices []*WeightedChoice[T], stream *Stream) (*WeightedChoice[T], error) {
	// Sum all positive weights to obtain the span our random draw ranges over.
	totalWeight := big.NewInt(0)
	for _, choice := range choices {
		if choice.weight.Sign() > 0 {
			totalWeight.Add(totalWeight, choice.weight)
		}
	}
	if totalWeight.Sign() == 0 {
		return nil, fmt.Errorf("could not return a weighted random choice because no choices exist with positive weights")
	}

	// Draw a position in [0, totalWeight). Weight sums beyond 64 bits are rejected rather than
	// drawn non-uniformly; scenario weights are small multipliers in practice.
	if !totalWeight.IsUint64() {
		return nil, fmt.Errorf("could not return a weighted random choice because the total weight %v exceeds the supported range", totalWeight)
	}
	position, err := stream.Uint64InRange(0, totalWeight.Uint64()-1)
	if err != nil {
		return nil, err
	}
	selectedWeightPosition := new(big.Int).SetUint64(position)

	// Walk the cumulative distribution until the drawn position falls within a choice's range.
	for _, choice := range choices {
		if choice.weight.Sign() <= 0 {
			continue
		}
		if selectedWeightPosition.Cmp(choice.weight) < 0 {
			return choice, nil
		}
		selectedWeightPosition.Sub(selectedWeightPosition, choice.weight)
	}
	return nil, fmt.Errorf("could not obtain a weighted random choice, selected position does not exist")
}
