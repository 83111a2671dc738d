package scenario

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// registeredScenarios maps scenario names to registered scenarios, so command line invocations
// can resolve a scenario by name.
var registeredScenarios map[string]*Scenario

// registeredScenariosLock provides thread-synchronization for registeredScenarios.
var registeredScenariosLock sync.Mutex

// Register validates and registers a scenario under its name, making it resolvable by command
// line invocations. Returns an error if the scenario is invalid or its name is already taken.
// The expected use is a Register call per scenario from the embedding binary's init or main,
// before command execution.
func Register(s *Scenario) error {
	if err := s.Validate(); err != nil {
		return err
	}

	registeredScenariosLock.Lock()
	defer registeredScenariosLock.Unlock()
	if registeredScenarios == nil {
		registeredScenarios = make(map[string]*Scenario)
	}
	if _, ok := registeredScenarios[s.Name]; ok {
		return fmt.Errorf("a scenario named '%s' is already registered", s.Name)
	}
	registeredScenarios[s.Name] = s
	return nil
}

// Lookup resolves a registered scenario by name. Returns an error naming the registered
// scenarios if no scenario with the provided name exists.
func Lookup(name string) (*Scenario, error) {
	registeredScenariosLock.Lock()
	defer registeredScenariosLock.Unlock()
	if s, ok := registeredScenarios[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no scenario named '%s' is registered (registered: %v)", name, registeredNames())
}

// RegisteredNames returns the names of all registered scenarios in lexicographic order.
func RegisteredNames() []string {
	registeredScenariosLock.Lock()
	defer registeredScenariosLock.Unlock()
	return registeredNames()
}

// registeredNames returns sorted registered scenario names. Callers must hold
// registeredScenariosLock.
func registeredNames() []string {
	names := make([]string, 0, len(registeredScenarios))
	for name := range registeredScenarios {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
