package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cozygen/internal/graph"
)

// GoldenDir holds golden files relative to the test's package.
const GoldenDir = "testdata/golden"

// Snapshot encodes the parts of a scenario result that golden files pin:
// the compiled graph, run id, meta text and bypass outcomes, or the
// compile error code. The encoding is canonical JSON.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	snap := graph.Object{
		"scenario_name": graph.String(scenario.Name),
	}
	if result.Compiled == nil {
		snap["error_code"] = graph.String(result.ErrCode)
		return graph.MarshalCanonicalValue(snap)
	}

	out := result.Compiled
	snap["run_id"] = graph.String(out.RunID)
	snap["graph"] = out.Graph.Object()
	if out.MetaText != "" {
		snap["meta_text"] = graph.String(out.MetaText)
	}
	if len(out.Bypass) > 0 {
		bypass := make(graph.Array, len(out.Bypass))
		for i, r := range out.Bypass {
			bypass[i] = graph.Object{
				"param_name": graph.String(r.ParamName),
				"outcome":    graph.String(string(r.Outcome)),
			}
		}
		snap["bypass"] = bypass
	}
	return graph.MarshalCanonicalValue(snap)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario could not be executed; a mismatch
// fails t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenario, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
