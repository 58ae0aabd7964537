package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/cozygen/internal/choices"
	"github.com/roach88/cozygen/internal/compiler"
	"github.com/roach88/cozygen/internal/session"
	"github.com/roach88/cozygen/internal/store"
	"github.com/roach88/cozygen/internal/templates"
	"github.com/roach88/cozygen/internal/testutil"
)

// epoch is the fixed clock used for scenario runs.
var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness applies scenario steps to a workbench.
type Harness struct {
	wb     *session.Workbench
	store  *store.Store
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database with a fixed run
// id, a seeded randomizer and the scenario's catalog, so results are
// reproducible.
//
// Execution flow:
// 1. Create fresh in-memory database and seed saved form state
// 2. Load the template and resolve its choices
// 3. Apply steps in order
// 4. Compile and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runID := scenario.RunID
	if runID == "" {
		runID = DefaultRunID
	}
	comp := compiler.New(
		compiler.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(runID)),
		compiler.WithRandomizer(compiler.NewPCGRandomizer(scenario.Seed, scenario.Seed)),
		compiler.WithLogger(logger),
	)
	resolver := choices.NewResolver(testutil.NewCatalog(scenario.Catalog), choices.WithLogger(logger))

	h := &Harness{
		wb: session.New(
			templates.NewDir(filepath.Dir(scenario.Template)),
			resolver,
			st,
			session.WithCompiler(comp),
			session.WithLogger(logger),
			session.WithClock(func() time.Time { return epoch }),
		),
		store:  st,
		logger: logger,
	}

	ctx := context.Background()
	name := filepath.Base(scenario.Template)
	if err := h.seed(ctx, name, scenario.Saved); err != nil {
		return nil, fmt.Errorf("failed to seed saved state: %w", err)
	}

	view, err := h.wb.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	result := NewResult()
	result.Warnings = view.Warnings
	h.executeSteps(ctx, scenario.Steps, result)
	h.compile(ctx, scenario.ExpectError, result)

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context, template string, saved map[string]any) error {
	if len(saved) == 0 {
		return nil
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return err
	}
	return h.store.Put(ctx, session.FormDataKey(template), string(data))
}

// executeSteps applies each step, recording it in the trace. A failing
// step fails the scenario but later steps still run.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) {
	for i, step := range steps {
		op, arg := step.Op()
		var err error
		switch op {
		case OpSet:
			var raw []byte
			if raw, err = json.Marshal(step.Value); err == nil {
				err = h.wb.SetValue(ctx, arg, raw)
			}
		case OpRandomize:
			err = h.wb.SetRandomize(ctx, arg, !step.Off)
		case OpBypass:
			err = h.wb.SetBypass(ctx, arg, !step.Off)
		case OpSavePreset:
			err = h.wb.SavePreset(ctx, arg)
		case OpApplyPreset:
			var res *session.PresetResult
			if res, err = h.wb.ApplyPreset(ctx, arg); err == nil && len(res.Missing) > 0 {
				h.logger.Debug("preset names missing from template", "preset", arg, "missing", res.Missing)
			}
		default:
			err = fmt.Errorf("step names no operation")
		}
		result.AddTrace(op, arg, err)
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d] %s %s: %v", i, op, arg, err))
		}
	}
}

func (h *Harness) compile(ctx context.Context, expectError string, result *Result) {
	out, err := h.wb.Compile(ctx)
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		result.ErrCode = string(compileErr.Code)
	}

	switch {
	case expectError != "":
		if result.ErrCode != expectError {
			result.AddError(fmt.Sprintf("expected compile error %s, got %v", expectError, err))
		}
	case err != nil:
		result.AddError(fmt.Sprintf("compile failed: %v", err))
	}
	result.Compiled = out
}
