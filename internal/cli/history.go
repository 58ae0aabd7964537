package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cozygen/internal/server"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
	RunID string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [template]",
		Short: "Show submitted runs",
		Long: `List submitted runs, newest first, optionally for one template.

With --run, show one run including the form values it was submitted with.

Examples:
  cozygen history
  cozygen history txt2img.json --limit 5
  cozygen history --run 0192f7c4-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			template := ""
			if len(args) == 1 {
				template = args[0]
			}
			return runHistory(opts, template, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show a single run")

	return cmd
}

func runHistory(opts *HistoryOptions, template string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	if opts.Limit <= 0 {
		_ = f.Error(ErrCodeUsage, "--limit must be positive", nil)
		return NewExitError(ExitCommandError, "invalid limit")
	}

	a, err := startApp(cmd, opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	if opts.RunID != "" {
		run, err := a.wb.HistoryEntry(ctx, opts.RunID)
		if err != nil {
			return f.Fail("failed to load run", err)
		}
		view := server.NewRunView(run)
		if opts.Format == "json" {
			return f.Success(view)
		}
		w := f.Writer
		fmt.Fprintf(w, "Run:         %s\n", view.RunID)
		fmt.Fprintf(w, "Prompt:      %s\n", view.PromptID)
		fmt.Fprintf(w, "Template:    %s\n", view.Template)
		fmt.Fprintf(w, "Status:      %s\n", view.Status)
		fmt.Fprintf(w, "Submitted:   %s\n", view.SubmittedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "Fingerprint: %s\n", view.Fingerprint)
		fmt.Fprintf(w, "Form:        %s\n", view.FormData)
		fmt.Fprintf(w, "Randomize:   %s\n", view.Randomize)
		fmt.Fprintf(w, "Bypass:      %s\n", view.Bypass)
		if view.MetaText != "" {
			fmt.Fprintf(w, "LoRAs:\n%s\n", view.MetaText)
		}
		return nil
	}

	runs, err := a.wb.History(ctx, template, opts.Limit)
	if err != nil {
		return f.Fail("failed to list history", err)
	}
	views := make([]server.RunView, len(runs))
	for i, r := range runs {
		views[i] = server.NewRunView(r)
	}
	if opts.Format == "json" {
		return f.Success(map[string]any{"runs": views})
	}
	if len(views) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSUBMITTED\tTEMPLATE\tSTATUS\tRUN")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", v.Seq, v.SubmittedAt.Format(time.DateTime), v.Template, v.Status, v.RunID)
	}
	return tw.Flush()
}
