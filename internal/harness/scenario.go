package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultRunID is stamped on sinks when a scenario sets no run_id.
const DefaultRunID = "test-run-default"

// Scenario defines one compile scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Template is the path of the template file. Relative paths are
	// resolved against the scenario's base path.
	Template string `yaml:"template"`

	// RunID is the run id stamped on sinks. Defaults to DefaultRunID.
	RunID string `yaml:"run_id,omitempty"`

	// Seed seeds the randomizer for randomized controls.
	Seed uint64 `yaml:"seed,omitempty"`

	// Catalog maps a choice category to its options.
	Catalog map[string][]string `yaml:"catalog,omitempty"`

	// Saved is form state persisted before the template is loaded, as the
	// browser would have left it.
	Saved map[string]any `yaml:"saved,omitempty"`

	// Steps are applied in order after loading.
	Steps []Step `yaml:"steps,omitempty"`

	// ExpectError is the compile error code the scenario must produce.
	// Empty means the compile must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions check the compiled result.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one form edit. Exactly one of Set, Randomize, Bypass,
// SavePreset or ApplyPreset is given.
type Step struct {
	Set   string `yaml:"set,omitempty"`
	Value any    `yaml:"value,omitempty"`

	Randomize string `yaml:"randomize,omitempty"`
	Bypass    string `yaml:"bypass,omitempty"`

	// Off clears a randomize or bypass flag instead of setting it.
	Off bool `yaml:"off,omitempty"`

	SavePreset  string `yaml:"save_preset,omitempty"`
	ApplyPreset string `yaml:"apply_preset,omitempty"`
}

// Step operations, as recorded in the trace.
const (
	OpSet         = "set"
	OpRandomize   = "randomize"
	OpBypass      = "bypass"
	OpSavePreset  = "save_preset"
	OpApplyPreset = "apply_preset"
)

// Op returns the step's operation and its argument, or "" when the step
// names no operation or more than one.
func (s Step) Op() (op, arg string) {
	n := 0
	for _, c := range []struct{ op, arg string }{
		{OpSet, s.Set},
		{OpRandomize, s.Randomize},
		{OpBypass, s.Bypass},
		{OpSavePreset, s.SavePreset},
		{OpApplyPreset, s.ApplyPreset},
	} {
		if c.arg != "" {
			op, arg = c.op, c.arg
			n++
		}
	}
	if n != 1 {
		return "", ""
	}
	return op, arg
}

// Assertion checks one property of the compiled result.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Node and Input address a compiled node input (input, node_absent).
	Node  string `yaml:"node,omitempty"`
	Input string `yaml:"input,omitempty"`

	// Param names a control (bypass, state).
	Param string `yaml:"param,omitempty"`

	// Value is the expected value (input, meta_text, state).
	Value any `yaml:"value,omitempty"`

	// Outcome is the expected bypass outcome (bypass).
	Outcome string `yaml:"outcome,omitempty"`

	// Code is the expected warning code (warning).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertInput      = "input"
	AssertNodeAbsent = "node_absent"
	AssertMetaText   = "meta_text"
	AssertBypass     = "bypass"
	AssertWarning    = "warning"
	AssertState      = "state"
)

// LoadScenario reads and parses a scenario YAML file. The template path
// is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the template path relative to basePath.
// Unknown fields are rejected so typos fail loudly.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Template != "" && !filepath.IsAbs(scenario.Template) && basePath != "" {
		scenario.Template = filepath.Join(basePath, scenario.Template)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Template == "" {
		return fmt.Errorf("template is required")
	}
	if _, err := os.Stat(s.Template); os.IsNotExist(err) {
		return fmt.Errorf("template file not found: %s", s.Template)
	}
	if len(s.Assertions) == 0 && s.ExpectError == "" {
		return fmt.Errorf("assertions list is required unless expect_error is set")
	}

	for i, step := range s.Steps {
		op, _ := step.Op()
		if op == "" {
			return fmt.Errorf("steps[%d]: exactly one of set, randomize, bypass, save_preset, apply_preset is required", i)
		}
		if op == OpSet && step.Value == nil {
			return fmt.Errorf("steps[%d]: value is required for set", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertInput:
		if a.Node == "" || a.Input == "" {
			return fmt.Errorf("assertions[%d]: node and input are required for input", index)
		}
	case AssertNodeAbsent:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for node_absent", index)
		}
	case AssertMetaText:
		if _, ok := a.Value.(string); !ok && a.Value != nil {
			return fmt.Errorf("assertions[%d]: value must be a string for meta_text", index)
		}
	case AssertBypass:
		if a.Param == "" || a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: param and outcome are required for bypass", index)
		}
	case AssertWarning:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for warning", index)
		}
	case AssertState:
		if a.Param == "" {
			return fmt.Errorf("assertions[%d]: param is required for state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
