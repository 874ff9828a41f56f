// Package tasktypes is the static registry of task types. A task type
// decides how submissions are compiled and run, and which managers it
// always takes from the dataset.
package tasktypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

var ErrUnknownTaskType = errors.New("unknown task type")

// TaskType describes one registered task type.
type TaskType struct {
	Name string
	// autoManagers is nil when the task type does not mandate managers.
	autoManagers []string
	validate     func(params []json.RawMessage) error
}

// AutoManagers returns the manager filenames the task type always takes
// from the dataset, or nil when it does not declare any. An empty,
// non-nil list means "none, and none from the dataset either".
func (t TaskType) AutoManagers() []string {
	if t.autoManagers == nil {
		return nil
	}
	return slices.Clone(t.autoManagers)
}

// ValidateParameters checks the dataset's JSON parameters for this type.
func (t TaskType) ValidateParameters(raw []byte) error {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return fmt.Errorf("%s parameters must be a JSON array: %w", t.Name, err)
	}
	if t.validate == nil {
		return nil
	}
	if err := t.validate(params); err != nil {
		return fmt.Errorf("invalid %s parameters: %w", t.Name, err)
	}
	return nil
}

var registry = map[string]TaskType{
	"Batch": {
		Name:     "Batch",
		validate: validateBatch,
	},
	"OutputOnly": {
		Name:         "OutputOnly",
		autoManagers: []string{},
		validate:     oneOf(0, "diff", "comparator"),
	},
	"Communication": {
		Name:         "Communication",
		autoManagers: []string{"manager"},
	},
	"TwoSteps": {
		Name:     "TwoSteps",
		validate: oneOf(0, "diff", "comparator"),
	},
}

// Get looks a task type up by name.
func Get(name string) (TaskType, error) {
	tt, ok := registry[name]
	if !ok {
		return TaskType{}, fmt.Errorf("%w: %q", ErrUnknownTaskType, name)
	}
	return tt, nil
}

// Names lists the registered task types, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Batch takes [compilation, [input, output], evaluation].
func validateBatch(params []json.RawMessage) error {
	if len(params) != 3 {
		return fmt.Errorf("expected 3 parameters, got %d", len(params))
	}
	if err := oneOf(0, "alone", "grader")(params); err != nil {
		return err
	}
	var io []string
	if err := json.Unmarshal(params[1], &io); err != nil || len(io) != 2 {
		return fmt.Errorf("parameter 1 must be [input, output] filenames")
	}
	return oneOf(2, "diff", "comparator")(params)
}

func oneOf(idx int, allowed ...string) func([]json.RawMessage) error {
	return func(params []json.RawMessage) error {
		if len(params) <= idx {
			return fmt.Errorf("missing parameter %d", idx)
		}
		var v string
		if err := json.Unmarshal(params[idx], &v); err != nil {
			return fmt.Errorf("parameter %d must be a string", idx)
		}
		if !slices.Contains(allowed, v) {
			return fmt.Errorf("parameter %d is %q, expected one of %v", idx, v, allowed)
		}
		return nil
	}
}
