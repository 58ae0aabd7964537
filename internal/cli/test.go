package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cozygen/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool
	Filter    string
	GoldenDir string
}

// ScenarioReport is the outcome of one scenario file.
type ScenarioReport struct {
	Name    string   `json:"name"`
	File    string   `json:"file"`
	Pass    bool     `json:"pass"`
	Updated bool     `json:"golden_updated,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// SuiteReport summarizes a test run.
type SuiteReport struct {
	Scenarios []ScenarioReport `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run compile scenarios",
		Long: `Run compile scenarios through the harness.

Each scenario loads a template against a scripted catalog, applies form
edits, compiles with a fixed run id and checks its assertions. When a
golden file exists for the scenario the compiled snapshot must match it
byte for byte. Golden files live in a "golden" directory next to the
scenarios directory unless --golden-dir says otherwise.

Exit codes:
  0 - Every scenario passed
  1 - At least one scenario failed
  2 - The scenarios directory or filter is unusable

Examples:
  cozygen test ./testdata/scenarios
  cozygen test ./testdata/scenarios --filter "lora_*"
  cozygen test ./testdata/scenarios --update
  cozygen test ./testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from the current snapshots")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory")

	return cmd
}

func runTests(opts *TestOptions, root string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	paths, err := scenarioPaths(root, opts.Filter)
	if err != nil {
		code := ErrCodeUsage
		if errors.Is(err, fs.ErrNotExist) {
			code = ErrCodeNotFound
			err = fmt.Errorf("scenarios directory not found: %s", root)
		}
		_ = f.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot collect scenarios", err)
	}

	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(root)), "golden")
	}

	suite := SuiteReport{Scenarios: []ScenarioReport{}}
	for _, path := range paths {
		r := checkScenario(path, goldenDir, opts.Update)
		suite.Scenarios = append(suite.Scenarios, r)
		if r.Pass {
			suite.Passed++
		} else {
			suite.Failed++
		}
		f.VerboseLog("%s: pass=%t", r.File, r.Pass)
	}
	suite.Total = len(suite.Scenarios)

	if f.Format == "json" {
		if suite.Failed > 0 {
			_ = f.Error(ErrCodeScenarios, fmt.Sprintf("%d of %d scenarios failed", suite.Failed, suite.Total), suite)
		} else if err := f.Success(suite); err != nil {
			return err
		}
	} else {
		printSuite(f.Writer, suite)
	}

	if suite.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	return nil
}

// scenarioPaths walks root for .yaml and .yml files whose base name,
// without extension, matches filter.
func scenarioPaths(root, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("bad --filter %q: %w", filter, err)
		}
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			// The pattern was checked above.
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext)); !ok {
				return nil
			}
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// checkScenario runs one scenario file and compares its snapshot with the
// golden file, rewriting the golden file instead when update is set.
func checkScenario(path, goldenDir string, update bool) ScenarioReport {
	r := ScenarioReport{Name: filepath.Base(path), File: path}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		r.Errors = []string{err.Error()}
		return r
	}
	r.Name = scenario.Name

	result, err := harness.Run(scenario)
	if err != nil {
		r.Errors = []string{fmt.Sprintf("run: %v", err)}
		return r
	}
	snapshot, err := harness.Snapshot(scenario, result)
	if err != nil {
		r.Errors = []string{fmt.Sprintf("snapshot: %v", err)}
		return r
	}

	golden := filepath.Join(goldenDir, scenario.Name+".golden")
	if update {
		if err := writeGolden(golden, snapshot); err != nil {
			r.Errors = []string{err.Error()}
			return r
		}
		r.Pass, r.Updated = true, true
		return r
	}

	want, err := os.ReadFile(golden)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No golden file: the assertions alone decide.
	case err != nil:
		r.Errors = append(r.Errors, fmt.Sprintf("read golden: %v", err))
	case !bytes.Equal(want, snapshot):
		r.Errors = append(r.Errors, fmt.Sprintf("snapshot does not match golden file %s (rerun with --update)", golden))
	}

	r.Errors = append(r.Errors, result.Errors...)
	r.Pass = len(r.Errors) == 0 && result.Pass
	return r
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden: %w", err)
	}
	return nil
}

func printSuite(w io.Writer, suite SuiteReport) {
	if suite.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, r := range suite.Scenarios {
		switch {
		case !r.Pass:
			fmt.Fprintf(w, "FAIL  %s\n", r.Name)
			for _, e := range r.Errors {
				fmt.Fprintf(w, "      %s\n", e)
			}
		case r.Updated:
			fmt.Fprintf(w, "PASS  %s (golden updated)\n", r.Name)
		default:
			fmt.Fprintf(w, "PASS  %s\n", r.Name)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Total)
}
