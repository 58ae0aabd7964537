package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "testdata/scenarios"

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join(scenarioDir, name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestGolden(t *testing.T) {
	for _, name := range []string{"sampler_choice", "lora_bypass", "missing_image"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Trace(t *testing.T) {
	result, err := Run(loadTestScenario(t, "sampler_choice"))
	require.NoError(t, err)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, TraceEvent{Seq: 1, Op: OpSet, Param: "sampler"}, result.Trace[0])
	assert.Equal(t, TraceEvent{Seq: 2, Op: OpSet, Param: "steps"}, result.Trace[1])
}

func TestRun_DefaultRunID(t *testing.T) {
	result, err := Run(loadTestScenario(t, "lora_meta"))
	require.NoError(t, err)
	require.NotNil(t, result.Compiled)
	assert.Equal(t, DefaultRunID, result.Compiled.RunID)
}

func TestRun_StepErrorFailsScenario(t *testing.T) {
	s := loadTestScenario(t, "sampler_choice")
	s.Steps = append(s.Steps, Step{Set: "cfg", Value: 7})

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, "cfg", last.Param)
	assert.NotEmpty(t, last.Error)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "steps[2] set cfg")
}

func TestRun_FailedAssertion(t *testing.T) {
	s := loadTestScenario(t, "sampler_choice")
	s.Assertions = []Assertion{{Type: AssertInput, Node: "1", Input: "value", Value: "euler"}}

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `Expected: 1.value = "euler"`)
	assert.Contains(t, result.Errors[0], `Actual: "dpmpp"`)
}

func TestRun_UnexpectedCompileError(t *testing.T) {
	s := loadTestScenario(t, "missing_image")
	s.ExpectError = ""
	s.Assertions = []Assertion{{Type: AssertNodeAbsent, Node: "9"}}

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Equal(t, "E201", result.ErrCode)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "compile failed")
	assert.Contains(t, result.Errors[1], "compile failed (E201)")
}

func TestRun_WrongExpectedError(t *testing.T) {
	s := loadTestScenario(t, "sampler_choice")
	s.ExpectError = "E201"
	s.Assertions = nil

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected compile error E201")
}

func TestRun_Presets(t *testing.T) {
	s := loadTestScenario(t, "sampler_choice")
	s.Steps = []Step{
		{Set: "sampler", Value: "dpmpp"},
		{SavePreset: "fast"},
		{Set: "sampler", Value: "euler"},
		{ApplyPreset: "fast"},
	}
	s.Assertions = []Assertion{{Type: AssertState, Param: "sampler", Value: "dpmpp"}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_BypassOutcomes(t *testing.T) {
	s := loadTestScenario(t, "sampler_choice")
	s.Steps = []Step{{Bypass: "steps"}}
	s.Assertions = []Assertion{{Type: AssertBypass, Param: "steps", Outcome: "not_bypassable"}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	s.Assertions = []Assertion{{Type: AssertBypass, Param: "steps", Outcome: "applied"}}
	result, err = Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "Actual: not_bypassable")
}

func TestRun_Warnings(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "dup.json")
	require.NoError(t, os.WriteFile(template, []byte(`{
		"1": {"class_type": "CozyGenIntInput", "inputs": {"param_name": "steps", "default_value": 20}},
		"2": {"class_type": "CozyGenIntInput", "inputs": {"param_name": "steps", "default_value": 30}}
	}`), 0o644))

	s := &Scenario{
		Name:        "dup",
		Description: "duplicate names",
		Template:    template,
		Assertions:  []Assertion{{Type: AssertWarning, Code: "W101"}},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "lora_meta")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Snapshot(s, first)
	require.NoError(t, err)
	b, err := Snapshot(s, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Contains(t, string(a), `"meta_text":"detail = ink.safetensors:0.80"`)
}
