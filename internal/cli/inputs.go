package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/cozygen/internal/session"
)

// NewInputsCommand creates the inputs command.
func NewInputsCommand(rootOpts *RootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "inputs <template>",
		Short: "List a template's form controls",
		Long: `Load a template and list its controls in display order, with the
current value, resolved options and randomize/bypass flags.

Validation warnings such as duplicate param names are printed after the
table. With --refresh, cached option lists for the template's categories
are dropped first so they are fetched from the backend again.

Examples:
  cozygen inputs txt2img.json
  cozygen inputs txt2img.json --refresh
  cozygen inputs txt2img.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInputs(rootOpts, args[0], refresh, cmd)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refetch cached choice lists")
	return cmd
}

func runInputs(opts *RootOptions, template string, refresh bool, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	a, err := startApp(cmd, opts, f)
	if err != nil {
		return err
	}
	defer a.Close()

	if refresh {
		if err := a.refreshChoices(cmd.Context(), template); err != nil {
			return f.Fail("failed to refresh choices", err)
		}
	}
	view, err := a.wb.Load(cmd.Context(), template)
	if err != nil {
		return f.Fail("failed to load template", err)
	}
	if opts.Format == "json" {
		return f.Success(view)
	}
	writeView(f.Writer, view)
	return nil
}

func writeView(w io.Writer, view *session.View) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAM\tKIND\tNODE\tVALUE\tFLAGS\tOPTIONS")
	for _, c := range view.Controls {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ParamName, c.Kind, c.NodeID, formatValue(c.Value), controlFlags(c), formatOptions(c.Options))
	}
	_ = tw.Flush()

	for _, warn := range view.Warnings {
		fmt.Fprintf(w, "warning [%s]: %s\n", warn.Code, warn.Message)
	}
}

func controlFlags(c session.ControlView) string {
	var flags []string
	if c.Randomize {
		flags = append(flags, "random")
	}
	if c.Bypass {
		flags = append(flags, "bypass")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// formatOptions shows at most a handful of options.
func formatOptions(options []string) string {
	const shown = 4
	switch {
	case len(options) == 0:
		return "-"
	case len(options) <= shown:
		return strings.Join(options, ", ")
	}
	return fmt.Sprintf("%s, ... (%d)", strings.Join(options[:shown], ", "), len(options))
}
