package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_ResolvesTemplate(t *testing.T) {
	s, err := LoadScenario(filepath.Join(scenarioDir, "sampler_choice.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sampler_choice", s.Name)
	assert.Equal(t, filepath.Join(scenarioDir, "..", "templates", "txt2img.json"), s.Template)
	assert.Equal(t, []string{"euler", "dpmpp"}, s.Catalog["sampler"])
	require.Len(t, s.Steps, 2)
	assert.Equal(t, 30, s.Steps[1].Value)
}

func TestLoadScenario_Invalid(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "t.json")
	require.NoError(t, os.WriteFile(template, []byte(`{}`), 0o644))

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "description: d\ntemplate: t.json\nassertions: [{type: node_absent, node: '1'}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			body: "name: n\ntemplate: t.json\nassertions: [{type: node_absent, node: '1'}]\n",
			want: "description is required",
		},
		{
			name: "missing template file",
			body: "name: n\ndescription: d\ntemplate: nope.json\nassertions: [{type: node_absent, node: '1'}]\n",
			want: "template file not found",
		},
		{
			name: "no assertions",
			body: "name: n\ndescription: d\ntemplate: t.json\n",
			want: "assertions list is required",
		},
		{
			name: "step with two operations",
			body: "name: n\ndescription: d\ntemplate: t.json\nsteps: [{set: a, value: 1, bypass: a}]\nassertions: [{type: node_absent, node: '1'}]\n",
			want: "steps[0]: exactly one of",
		},
		{
			name: "set without value",
			body: "name: n\ndescription: d\ntemplate: t.json\nsteps: [{set: a}]\nassertions: [{type: node_absent, node: '1'}]\n",
			want: "value is required for set",
		},
		{
			name: "unknown assertion type",
			body: "name: n\ndescription: d\ntemplate: t.json\nassertions: [{type: nope}]\n",
			want: `unknown assertion type "nope"`,
		},
		{
			name: "input without node",
			body: "name: n\ndescription: d\ntemplate: t.json\nassertions: [{type: input, input: value}]\n",
			want: "node and input are required",
		},
		{
			name: "bypass without outcome",
			body: "name: n\ndescription: d\ntemplate: t.json\nassertions: [{type: bypass, param: a}]\n",
			want: "param and outcome are required",
		},
		{
			name: "non-string meta text",
			body: "name: n\ndescription: d\ntemplate: t.json\nassertions: [{type: meta_text, value: 3}]\n",
			want: "value must be a string",
		},
		{
			name: "unknown field",
			body: "name: n\ndescription: d\ntemplate: t.json\nasserts: []\n",
			want: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, dir, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_ExpectErrorNeedsNoAssertions(t *testing.T) {
	s, err := LoadScenario(filepath.Join(scenarioDir, "missing_image.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "E201", s.ExpectError)
	assert.Empty(t, s.Assertions)
}

func TestStep_Op(t *testing.T) {
	tests := []struct {
		step    Step
		wantOp  string
		wantArg string
	}{
		{Step{Set: "steps", Value: 3}, OpSet, "steps"},
		{Step{Randomize: "seed"}, OpRandomize, "seed"},
		{Step{Bypass: "style", Off: true}, OpBypass, "style"},
		{Step{SavePreset: "p"}, OpSavePreset, "p"},
		{Step{ApplyPreset: "p"}, OpApplyPreset, "p"},
		{Step{}, "", ""},
		{Step{Randomize: "seed", Bypass: "seed"}, "", ""},
	}
	for _, tt := range tests {
		op, arg := tt.step.Op()
		assert.Equal(t, tt.wantOp, op)
		assert.Equal(t, tt.wantArg, arg)
	}
}
