package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/store"
)

// QueueWarningThreshold is the backend queue depth above which submit
// warns that the new run will wait.
const QueueWarningThreshold = 10

// InterruptTimeout bounds the interrupt request sent when a waiting
// submit is cancelled.
const InterruptTimeout = 5 * time.Second

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	edits editFlags
	Wait  bool
}

// SubmitResult is the JSON payload of the submit command.
type SubmitResult struct {
	RunID    string `json:"run_id"`
	PromptID string `json:"prompt_id"`
	Seq      int64  `json:"seq"`
	MetaText string `json:"meta_text,omitempty"`
	Status   string `json:"status"`

	// QueueDepth is set when the backend queue was deeper than
	// QueueWarningThreshold before this run was added.
	QueueDepth int `json:"queue_depth,omitempty"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <template>",
		Short: "Compile a template and queue it on the backend",
		Long: `Load a template, apply form edits, compile and queue it.

Randomized draws become the new form values, and the run is recorded in
history. With --wait the command follows the run until it finishes, fails
or is interrupted. Pressing Ctrl-C while waiting interrupts the run on the
backend.

Exit codes:
  0 - Run queued (or finished, with --wait)
  1 - Compile rejected, or the run failed or was interrupted
  2 - Command error (config, template, backend)

A warning is printed when more than 10 prompts are already queued on the
backend.

Examples:
  cozygen submit txt2img.json
  cozygen submit txt2img.json --randomize seed --wait
  cozygen submit img2img.json --image source=./photo.png`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], cmd)
		},
	}

	opts.edits.register(cmd)
	cmd.Flags().BoolVarP(&opts.Wait, "wait", "w", false, "follow the run until it ends")

	return cmd
}

func runSubmit(opts *SubmitOptions, template string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	a, err := startApp(cmd, opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := a.wb.Load(ctx, template); err != nil {
		return f.Fail("failed to load template", err)
	}
	if err := opts.edits.apply(ctx, a.wb, a.client); err != nil {
		return f.Fail("failed to apply edits", err)
	}

	// The event stream must be open before queueing or early progress
	// messages are lost.
	var events *comfy.Events
	if opts.Wait {
		if events, err = a.dialEvents(ctx); err != nil {
			return f.Fail("failed to connect to backend events", err)
		}
		defer events.Close()
	}

	depth := busyQueue(ctx, a)

	sub, err := a.wb.Submit(ctx)
	if err != nil {
		return f.Fail("submit failed", err)
	}
	result := SubmitResult{
		RunID:      sub.RunID,
		PromptID:   sub.PromptID,
		Seq:        sub.Seq,
		MetaText:   sub.Compiled.MetaText,
		Status:     store.RunQueued,
		QueueDepth: depth,
	}
	f.VerboseLog("queued run %s as prompt %s", sub.RunID, sub.PromptID)

	if events != nil {
		status, err := a.wb.Track(ctx, sub, events, func(p comfy.Progress) {
			f.VerboseLog("progress %s: %d/%d", p.Node, p.Value, p.Max)
		})
		switch {
		case err == nil:
			result.Status = status
		case ctx.Err() != nil:
			if err := interruptRun(cmd.Context(), a, sub.RunID); err != nil {
				return f.Fail("stopped waiting", err)
			}
			result.Status = store.RunInterrupted
		default:
			return f.Fail("lost track of run", err)
		}
	}

	if err := reportSubmit(f, result); err != nil {
		return err
	}
	if result.Status == store.RunFailed || result.Status == store.RunInterrupted {
		return NewExitError(ExitFailure, fmt.Sprintf("run %s %s", result.RunID, result.Status))
	}
	return nil
}

// busyQueue returns the backend queue depth when it exceeds
// QueueWarningThreshold and 0 otherwise. An unreadable queue does not
// block submitting.
func busyQueue(ctx context.Context, a *app) int {
	depth, err := a.client.QueueDepth(ctx)
	if err != nil {
		a.logger.Debug("queue depth unavailable", "error", err)
		return 0
	}
	if depth <= QueueWarningThreshold {
		return 0
	}
	a.logger.Warn("backend queue is busy", "depth", depth, "threshold", QueueWarningThreshold)
	return depth
}

// interruptRun stops the backend's current prompt and records runID as
// interrupted. parent must not be the cancelled signal context.
func interruptRun(parent context.Context, a *app, runID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), InterruptTimeout)
	defer cancel()

	if err := a.client.Interrupt(ctx); err != nil {
		return fmt.Errorf("interrupt run %s: %w", runID, err)
	}
	a.logger.Info("interrupted run", "run_id", runID)
	return a.wb.MarkRun(ctx, runID, store.RunInterrupted)
}

func reportSubmit(f *OutputFormatter, r SubmitResult) error {
	if f.Format == "json" {
		if r.Status == store.RunFailed || r.Status == store.RunInterrupted {
			return f.Error(ErrCodeRun, fmt.Sprintf("run %s %s", r.RunID, r.Status), r)
		}
		return f.Success(r)
	}
	if r.QueueDepth > 0 {
		fmt.Fprintf(f.Writer, "Warning: %d prompts were already queued; this run may wait.\n", r.QueueDepth)
	}
	fmt.Fprintf(f.Writer, "Run %s (prompt %s, #%d): %s\n", r.RunID, r.PromptID, r.Seq, r.Status)
	if r.MetaText != "" {
		fmt.Fprintln(f.Writer, r.MetaText)
	}
	return nil
}
