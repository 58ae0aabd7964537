// Package compiler turns a workflow template plus form state into the
// graph submitted to the backend: values are injected, randomized controls
// drawn, sinks stamped with a run id, and bypassed controls spliced out.
package compiler

import (
	"log/slog"

	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/graph"
)

// Request is everything one compile needs.
type Request struct {
	Template  *graph.Graph
	Controls  []discovery.Control
	State     form.State
	Randomize form.Flags
	Bypass    form.Flags
}

// Compiled is a finished compile.
type Compiled struct {
	Graph       *graph.Graph
	RunID       string
	State       form.State
	MetaText    string
	Bypass      []BypassResult
	Fingerprint string
}

// Compiler runs the injector and bypass passes.
type Compiler struct {
	runIDs RunIDGenerator
	random Randomizer
	logger *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithRunIDGenerator overrides the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(c *Compiler) { c.runIDs = g }
}

// WithRandomizer overrides the system-seeded randomizer.
func WithRandomizer(r Randomizer) Option {
	return func(c *Compiler) { c.random = r }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// New creates a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		runIDs: UUIDv7Generator{},
		random: NewSystemRandomizer(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile injects values then applies bypasses. A missing image value
// fails before anything is produced. req.Template is never modified.
func (c *Compiler) Compile(req Request) (*Compiled, error) {
	if req.Template == nil || req.Template.Len() == 0 {
		return nil, &CompileError{Code: ErrCodeEmptyTemplate, Message: "template has no nodes"}
	}
	controls := req.Controls
	if controls == nil {
		controls = discovery.Discover(req.Template)
	}

	runID := c.runIDs.Generate()
	inj, err := Inject(req.Template, controls, req.State, req.Randomize, runID, c.random, c.logger)
	if err != nil {
		return nil, err
	}

	out, results := Rewrite(inj.Graph, controls, req.Bypass, c.logger)

	fp, err := graph.Fingerprint(graph.DomainCompiled, out)
	if err != nil {
		return nil, &CompileError{Code: ErrCodeEncode, Message: err.Error()}
	}

	c.logger.Debug("compiled template",
		"run_id", runID,
		"nodes", out.Len(),
		"bypassed", countApplied(results),
		"fingerprint", fp,
	)
	return &Compiled{
		Graph:       out,
		RunID:       runID,
		State:       inj.State,
		MetaText:    inj.MetaText(),
		Bypass:      results,
		Fingerprint: fp,
	}, nil
}

func countApplied(results []BypassResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome == BypassApplied {
			n++
		}
	}
	return n
}
