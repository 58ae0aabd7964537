package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cozygen/internal/compiler"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/graph"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	edits     editFlags
	Output    string
	Canonical bool
}

// CompileResult is the JSON payload of the compile command.
type CompileResult struct {
	RunID       string                  `json:"run_id"`
	Fingerprint string                  `json:"fingerprint"`
	MetaText    string                  `json:"meta_text,omitempty"`
	Bypass      []compiler.BypassResult `json:"bypass,omitempty"`
	State       map[string]any          `json:"state"`
	Graph       *graph.Graph            `json:"graph"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <template>",
		Short: "Compile a template into a backend graph",
		Long: `Load a template, apply form edits and compile it without submitting.

Edits given with --set, --image, --randomize and --bypass are persisted
like edits in the browser. --image uploads the local file to the backend
and sets the control to the name it was stored under. The compiled graph
is written to stdout or --output.

Examples:
  cozygen compile txt2img.json
  cozygen compile txt2img.json --set steps=30 --set sampler=euler
  cozygen compile txt2img.json --randomize seed --bypass style -o out.json
  cozygen compile txt2img.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	opts.edits.register(cmd)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the compiled graph to this file")
	cmd.Flags().BoolVar(&opts.Canonical, "canonical", false, "write canonical JSON (sorted keys, no whitespace)")

	return cmd
}

func runCompile(opts *CompileOptions, template string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	a, err := startApp(cmd, opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	view, err := a.wb.Load(ctx, template)
	if err != nil {
		return f.Fail("failed to load template", err)
	}
	for _, w := range view.Warnings {
		f.VerboseLog("warning [%s]: %s", w.Code, w.Message)
	}
	if err := opts.edits.apply(ctx, a.wb, a.client); err != nil {
		return f.Fail("failed to apply edits", err)
	}

	out, err := a.wb.Compile(ctx)
	if err != nil {
		return f.Fail("compile failed", err)
	}
	for _, r := range out.Bypass {
		f.VerboseLog("bypass %s: %s", r.ParamName, r.Outcome)
	}

	if opts.Format == "json" && opts.Output == "" {
		return f.Success(newCompileResult(out))
	}

	data, err := encodeGraph(out.Graph, opts.Canonical)
	if err != nil {
		return f.Fail("failed to encode graph", err)
	}
	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return f.Fail("failed to write output", err)
	}
	if opts.Format == "json" {
		return f.Success(map[string]string{"run_id": out.RunID, "output": opts.Output})
	}
	fmt.Fprintf(f.Writer, "Compiled %s (run %s) to %s\n", template, out.RunID, opts.Output)
	return nil
}

func newCompileResult(out *compiler.Compiled) CompileResult {
	state := make(map[string]any, len(out.State))
	for name, v := range out.State {
		state[name] = form.ToAny(v)
	}
	return CompileResult{
		RunID:       out.RunID,
		Fingerprint: out.Fingerprint,
		MetaText:    out.MetaText,
		Bypass:      out.Bypass,
		State:       state,
		Graph:       out.Graph,
	}
}

// encodeGraph renders g as indented JSON, or canonical JSON when asked.
// Both end with a newline.
func encodeGraph(g *graph.Graph, canonical bool) ([]byte, error) {
	var data []byte
	var err error
	if canonical {
		data, err = graph.MarshalCanonical(g)
	} else {
		var compact []byte
		if compact, err = g.MarshalJSON(); err == nil {
			var buf bytes.Buffer
			if err = json.Indent(&buf, compact, "", "  "); err == nil {
				data = buf.Bytes()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
