package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/session"
)

// imageUploader stores a local image on the backend and returns the name
// image controls refer to it by.
type imageUploader interface {
	UploadImage(ctx context.Context, path string) (*comfy.Upload, error)
}

// editFlags are form edits applied to a loaded template before compiling.
// Edits persist like edits made in the browser.
type editFlags struct {
	set         []string
	images      []string
	randomize   []string
	noRandomize []string
	bypass      []string
	noBypass    []string
}

func (e *editFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&e.set, "set", "s", nil, "set a value, name=value (value is JSON or a bare string)")
	cmd.Flags().StringArrayVar(&e.images, "image", nil, "upload a local image for an image control, name=path")
	cmd.Flags().StringSliceVar(&e.randomize, "randomize", nil, "randomize these controls")
	cmd.Flags().StringSliceVar(&e.noRandomize, "no-randomize", nil, "stop randomizing these controls")
	cmd.Flags().StringSliceVar(&e.bypass, "bypass", nil, "bypass these controls")
	cmd.Flags().StringSliceVar(&e.noBypass, "no-bypass", nil, "stop bypassing these controls")
}

func (e *editFlags) apply(ctx context.Context, wb *session.Workbench, up imageUploader) error {
	for _, kv := range e.set {
		name, raw, err := parseAssignment(kv)
		if err != nil {
			return err
		}
		if err := wb.SetValue(ctx, name, raw); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	for _, kv := range e.images {
		if err := uploadImage(ctx, wb, up, kv); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		names []string
		on    bool
		set   func(context.Context, string, bool) error
	}{
		{e.randomize, true, wb.SetRandomize},
		{e.noRandomize, false, wb.SetRandomize},
		{e.bypass, true, wb.SetBypass},
		{e.noBypass, false, wb.SetBypass},
	} {
		for _, name := range f.names {
			if err := f.set(ctx, name, f.on); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseAssignment splits name=value. A value that is not valid JSON is
// taken as a string, so --set sampler=euler needs no quoting.
func parseAssignment(kv string) (string, json.RawMessage, error) {
	name, value, ok := strings.Cut(kv, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid --set %q: want name=value", kv)
	}
	if json.Valid([]byte(value)) {
		return name, json.RawMessage(value), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", nil, err
	}
	return name, raw, nil
}

// uploadImage handles one --image name=path: the file goes to the backend
// first and the control takes the name the backend stored it under.
func uploadImage(ctx context.Context, wb *session.Workbench, up imageUploader, kv string) error {
	name, path, ok := strings.Cut(kv, "=")
	name, path = strings.TrimSpace(name), strings.TrimSpace(path)
	if !ok || name == "" || path == "" {
		return fmt.Errorf("invalid --image %q: want name=path", kv)
	}
	if err := wb.CheckImage(name); err != nil {
		return fmt.Errorf("image %s: %w", name, err)
	}
	res, err := up.UploadImage(ctx, path)
	if err != nil {
		return fmt.Errorf("image %s: %w", name, err)
	}
	raw, err := json.Marshal(res.Filename)
	if err != nil {
		return err
	}
	if err := wb.SetValue(ctx, name, raw); err != nil {
		return fmt.Errorf("image %s: %w", name, err)
	}
	return nil
}
