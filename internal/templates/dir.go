// Package templates loads workflow templates from a directory. Templates
// are plain backend JSON (.json) or CUE documents (.cue) that evaluate to
// the same shape.
package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/cozygen/internal/graph"
)

// Template file extensions.
const (
	ExtJSON = ".json"
	ExtCUE  = ".cue"
)

// ErrNotFound is wrapped when a named template does not exist.
var ErrNotFound = errors.New("template not found")

// LoadError is a template that exists but cannot be turned into a graph.
type LoadError struct {
	Name    string
	Message string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Dir is a directory of templates.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root. The directory need not exist yet.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the directory path.
func (d *Dir) Root() string { return d.root }

// List returns the template file names, sorted.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list templates: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// Load reads and parses one template by file name.
func (d *Dir) Load(name string) (*graph.Graph, error) {
	path, err := d.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	if filepath.Ext(name) == ExtCUE {
		data, err = evalCUE(path, data)
		if err != nil {
			return nil, err
		}
	}

	g, err := graph.Parse(data)
	if err != nil {
		return nil, &LoadError{Name: name, Message: err.Error()}
	}
	return g, nil
}

// Save writes g as indented JSON under name, replacing any existing file.
func (d *Dir) Save(name string, g *graph.Graph) error {
	if filepath.Ext(name) != ExtJSON {
		return fmt.Errorf("save template %s: only %s templates can be written", name, ExtJSON)
	}
	path, err := d.path(name)
	if err != nil {
		return err
	}
	compact, err := g.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode template %s: %w", name, err)
	}
	var data bytes.Buffer
	if err := json.Indent(&data, compact, "", "  "); err != nil {
		return fmt.Errorf("encode template %s: %w", name, err)
	}
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("create template dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write template %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func (d *Dir) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	if !isTemplateFile(name) {
		return "", fmt.Errorf("invalid template name %q: want %s or %s", name, ExtJSON, ExtCUE)
	}
	return filepath.Join(d.root, name), nil
}

func isTemplateFile(name string) bool {
	switch filepath.Ext(name) {
	case ExtJSON, ExtCUE:
		return !strings.HasPrefix(name, ".")
	}
	return false
}

// evalCUE evaluates a CUE template to concrete JSON.
func evalCUE(path string, src []byte) ([]byte, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cuecontext.Filename(path))
	if err := v.Err(); err != nil {
		return nil, cueLoadError(path, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(path, err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, cueLoadError(path, err)
	}
	return data, nil
}

// cueLoadError keeps the position of the first CUE error.
func cueLoadError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Name: filepath.Base(path), Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Name: filepath.Base(path), Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
