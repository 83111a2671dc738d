package scenario

import (
	"fmt"
	"math/big"
)

// Flow describes one weighted, randomly selectable test action within a Scenario. Flow identity
// (its name) is stable across a sequence; its weight and guard may change value as scenario state
// evolves, but are always re-evaluated fresh before every selection, never cached.
type Flow struct {
	// Name uniquely identifies the flow within its Scenario. It is recorded in sequence traces
	// and used to re-resolve the flow on replay.
	Name string

	// Weight describes a constant selection weight. It is ignored when WeightFunc is set. A flow
	// with neither Weight nor WeightFunc set defaults to a weight of one.
	Weight *big.Int

	// WeightFunc describes a dynamic selection weight evaluated against current scenario state
	// before every selection. This lets flows become more or less likely as state evolves, e.g.
	// a probability which grows with elapsed simulated time.
	WeightFunc func(runtime *Runtime) *big.Int

	// Guard describes an optional precondition. When it returns false, the flow is ineligible
	// for selection that step.
	Guard func(runtime *Runtime) bool

	// MaxTimes caps how many times the flow may be invoked within one sequence. After the cap is
	// reached the flow becomes ineligible. Zero means unbounded.
	MaxTimes int

	// Action describes the test action itself. A returned error is a sequence failure.
	Action func(runtime *Runtime) error
}

// weight resolves the flow's selection weight against the current runtime state.
func (f *Flow) weight(runtime *Runtime) *big.Int {
	if f.WeightFunc != nil {
		return f.WeightFunc(runtime)
	}
	if f.Weight != nil {
		return f.Weight
	}
	return big.NewInt(1)
}

// Invariant describes a named state assertion checked at sequence checkpoints. Invariants are
// invoked with the sequence runtime and must not mutate externally observable state; the engine
// does not enforce this but assumes it.
type Invariant struct {
	// Name uniquely identifies the invariant within its Scenario.
	Name string

	// Period describes at which checkpoints the invariant runs: at the first checkpoint and
	// every Period-th checkpoint after that. Zero or one means every checkpoint. An
	// end-of-sequence checkpoint always runs the invariant regardless of period.
	Period int

	// Check describes the assertion. A returned error is an invariant violation.
	Check func(runtime *Runtime) error
}

// Scenario describes one user-declared test scenario: a set of weighted flows, a set of
// invariants, and optional per-sequence lifecycle hooks. A Scenario is read-only to the engine;
// per-sequence mutable state is created fresh by NewState for every sequence, so concurrently
// running sequences never share scenario state.
type Scenario struct {
	// Name identifies the scenario in results, logs and persisted failure records.
	Name string

	// NewState creates the scenario instance state for one sequence. It is invoked once per
	// sequence and the result is exposed to flows and invariants as Runtime.State. It may be
	// nil for stateless scenarios.
	NewState func() any

	// Flows describes the scenario's test actions.
	Flows []*Flow

	// Invariants describes the scenario's state assertions.
	Invariants []*Invariant

	// PreSequence describes an optional hook which runs once before any flow of a sequence,
	// e.g. to deploy contracts or fund accounts. A returned error is fatal for that sequence.
	PreSequence func(runtime *Runtime) error

	// PostSequence describes an optional hook which runs once after a sequence finishes. It runs
	// even when the sequence failed, for cleanup and result collection.
	PostSequence func(runtime *Runtime) error

	// PreFlow describes an optional hook which runs before every flow action, receiving the flow
	// about to execute. A returned error is a sequence failure.
	PreFlow func(runtime *Runtime, flow *Flow) error

	// PostFlow describes an optional hook which runs after every successfully executed flow
	// action. A returned error is a sequence failure.
	PostFlow func(runtime *Runtime, flow *Flow) error

	// PreInvariants describes an optional hook which runs once before each checkpoint's invariant
	// checks. It is skipped at checkpoints where no invariant is due.
	PreInvariants func(runtime *Runtime) error

	// PostInvariants describes an optional hook which runs once after each checkpoint's invariant
	// checks.
	PostInvariants func(runtime *Runtime) error

	// PreInvariant describes an optional hook which runs before each individual invariant check,
	// receiving the invariant about to run.
	PreInvariant func(runtime *Runtime, invariant *Invariant) error

	// PostInvariant describes an optional hook which runs after each individual invariant check.
	PostInvariant func(runtime *Runtime, invariant *Invariant) error
}

// Validate performs basic validation of the scenario declaration, ensuring flow and invariant
// definitions are well-formed before a campaign starts. Returns an error if validation fails.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario must have a name")
	}
	if len(s.Flows) == 0 {
		return fmt.Errorf("scenario '%s' must declare at least one flow", s.Name)
	}

	flowNames := make(map[string]struct{}, len(s.Flows))
	for _, flow := range s.Flows {
		if flow.Name == "" {
			return fmt.Errorf("scenario '%s' declares a flow with no name", s.Name)
		}
		if _, exists := flowNames[flow.Name]; exists {
			return fmt.Errorf("scenario '%s' declares flow '%s' more than once", s.Name, flow.Name)
		}
		flowNames[flow.Name] = struct{}{}
		if flow.Action == nil {
			return fmt.Errorf("scenario '%s' flow '%s' has no action", s.Name, flow.Name)
		}
		if flow.MaxTimes < 0 {
			return fmt.Errorf("scenario '%s' flow '%s' has a negative invocation cap", s.Name, flow.Name)
		}
	}

	invariantNames := make(map[string]struct{}, len(s.Invariants))
	for _, invariant := range s.Invariants {
		if invariant.Name == "" {
			return fmt.Errorf("scenario '%s' declares an invariant with no name", s.Name)
		}
		if _, exists := invariantNames[invariant.Name]; exists {
			return fmt.Errorf("scenario '%s' declares invariant '%s' more than once", s.Name, invariant.Name)
		}
		invariantNames[invariant.Name] = struct{}{}
		if invariant.Check == nil {
			return fmt.Errorf("scenario '%s' invariant '%s' has no check", s.Name, invariant.Name)
		}
		if invariant.Period < 0 {
			return fmt.Errorf("scenario '%s' invariant '%s' has a negative period", s.Name, invariant.Name)
		}
	}
	return nil
}

// flow resolves a flow by name, returning nil if the scenario declares no flow with that name.
func (s *Scenario) flow(name string) *Flow {
	for _, flow := range s.Flows {
		if flow.Name == name {
			return flow
		}
	}
	return nil
}
