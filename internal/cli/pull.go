package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/templates"
)

// PullOptions holds flags for the pull command.
type PullOptions struct {
	*RootOptions
	As   string
	List bool
}

// PullResult describes one pulled template.
type PullResult struct {
	Workflow string `json:"workflow"`
	Template string `json:"template"`
	Nodes    int    `json:"nodes"`
	Controls int    `json:"controls"`
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PullOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pull [workflow]",
		Short: "Copy a workflow from the backend into the templates directory",
		Long: `Fetch a workflow stored on the backend and save it as a JSON template.

With --list, print the workflows the backend offers instead.

Examples:
  cozygen pull --list
  cozygen pull txt2img.json
  cozygen pull "SDXL base.json" --as sdxl.json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "template file name to save as")
	cmd.Flags().BoolVarP(&opts.List, "list", "l", false, "list backend workflows")

	return cmd
}

func runPull(opts *PullOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	if !opts.List && len(args) == 0 {
		_ = f.Error(ErrCodeUsage, "a workflow name is required unless --list is given", nil)
		return NewExitError(ExitCommandError, "missing workflow name")
	}

	a, err := startApp(cmd, opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	if opts.List {
		names, err := a.client.Workflows(ctx)
		if err != nil {
			return f.Fail("failed to list workflows", err)
		}
		if opts.Format == "json" {
			return f.Success(map[string]any{"workflows": names})
		}
		for _, name := range names {
			fmt.Fprintln(f.Writer, name)
		}
		return nil
	}

	workflow := args[0]
	g, err := a.client.Workflow(ctx, workflow)
	if err != nil {
		return f.Fail("failed to fetch workflow", err)
	}

	name := opts.As
	if name == "" {
		name = templateName(workflow)
	}
	if err := a.dir.Save(name, g); err != nil {
		return f.Fail("failed to save template", err)
	}

	result := PullResult{
		Workflow: workflow,
		Template: name,
		Nodes:    g.Len(),
		Controls: len(discovery.Discover(g)),
	}
	if opts.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "Saved %s as %s (%d nodes, %d controls)\n",
		result.Workflow, filepath.Join(a.dir.Root(), result.Template), result.Nodes, result.Controls)
	return nil
}

// templateName turns a backend workflow name into a local JSON file name.
func templateName(workflow string) string {
	base := filepath.Base(strings.ReplaceAll(workflow, "\\", "/"))
	if filepath.Ext(base) != templates.ExtJSON {
		base = strings.TrimSuffix(base, filepath.Ext(base)) + templates.ExtJSON
	}
	return base
}
