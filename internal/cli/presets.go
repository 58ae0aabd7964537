package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPresetsCommand creates the presets command and its subcommands.
func NewPresetsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage named form presets",
		Long: `Save, apply, list and delete named snapshots of a template's form.

Applying a preset only touches controls the template still has; names it
no longer has are reported as missing.

Examples:
  cozygen presets list txt2img.json
  cozygen presets save txt2img.json portrait
  cozygen presets apply txt2img.json portrait
  cozygen presets delete txt2img.json portrait`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list <template>",
		Short:         "List a template's presets",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPresets(rootOpts, cmd, args[0], "", presetList)
		},
	})
	for _, sub := range []struct {
		action presetAction
		short  string
	}{
		{presetSave, "Save the current form as a preset"},
		{presetApply, "Apply a preset to the form"},
		{presetDelete, "Delete a preset"},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:           string(sub.action) + " <template> <name>",
			Short:         sub.short,
			Args:          cobra.ExactArgs(2),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPresets(rootOpts, cmd, args[0], args[1], sub.action)
			},
		})
	}

	return cmd
}

type presetAction string

const (
	presetList   presetAction = "list"
	presetSave   presetAction = "save"
	presetApply  presetAction = "apply"
	presetDelete presetAction = "delete"
)

func runPresets(opts *RootOptions, cmd *cobra.Command, template, name string, action presetAction) error {
	f := newFormatter(opts, cmd)
	a, err := startApp(cmd, opts, f)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if _, err := a.wb.Load(ctx, template); err != nil {
		return f.Fail("failed to load template", err)
	}

	switch action {
	case presetList:
		names, err := a.wb.ListPresets(ctx)
		if err != nil {
			return f.Fail("failed to list presets", err)
		}
		if opts.Format == "json" {
			return f.Success(map[string]any{"template": template, "presets": names})
		}
		if len(names) == 0 {
			fmt.Fprintf(f.Writer, "No presets for %s.\n", template)
		}
		for _, n := range names {
			fmt.Fprintln(f.Writer, n)
		}
		return nil

	case presetSave:
		if err := a.wb.SavePreset(ctx, name); err != nil {
			return f.Fail("failed to save preset", err)
		}
		return f.Success(fmt.Sprintf("Saved preset %q for %s", name, template))

	case presetApply:
		res, err := a.wb.ApplyPreset(ctx, name)
		if err != nil {
			return f.Fail("failed to apply preset", err)
		}
		if opts.Format == "json" {
			return f.Success(res)
		}
		fmt.Fprintf(f.Writer, "Applied preset %q: %d value(s)\n", name, len(res.Applied))
		for _, m := range res.Missing {
			fmt.Fprintf(f.Writer, "  missing: %s\n", m)
		}
		return nil

	case presetDelete:
		if err := a.wb.DeletePreset(ctx, name); err != nil {
			return f.Fail("failed to delete preset", err)
		}
		return f.Success(fmt.Sprintf("Deleted preset %q for %s", name, template))
	}
	return fmt.Errorf("unknown preset action %q", action)
}
