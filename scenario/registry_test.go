package scenario

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRegistryTestScenario declares a minimal valid scenario under the provided name.
func newRegistryTestScenario(name string) *Scenario {
	return &Scenario{
		Name:     name,
		NewState: func() any { return nil },
		Flows: []*Flow{
			{Name: "step", Weight: big.NewInt(1), Action: func(rt *Runtime) error { return nil }},
		},
	}
}

// TestRegistry verifies scenario registration, duplicate rejection and lookup by name.
func TestRegistry(t *testing.T) {
	require.NoError(t, Register(newRegistryTestScenario("registry-a")))
	require.NoError(t, Register(newRegistryTestScenario("registry-b")))

	// Duplicate names and invalid scenarios are rejected.
	assert.Error(t, Register(newRegistryTestScenario("registry-a")))
	assert.Error(t, Register(&Scenario{Name: "registry-invalid"}))

	resolved, err := Lookup("registry-a")
	require.NoError(t, err)
	assert.Equal(t, "registry-a", resolved.Name)

	_, err = Lookup("registry-missing")
	assert.Error(t, err)

	names := RegisteredNames()
	assert.Contains(t, names, "registry-a")
	assert.Contains(t, names, "registry-b")
	assert.True(t, slicesIsSorted(names))
}

// slicesIsSorted reports whether the provided names are in lexicographic order.
func slicesIsSorted(names []string) bool {
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			return false
		}
	}
	return true
}
