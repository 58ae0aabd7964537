// Package catalog provides choice catalogs: a fixed in-memory one for
// offline work and a Redis-backed cache in front of a live backend.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cozygen/internal/choices"
)

// ErrUnknownCategory is wrapped by Static for categories it does not hold.
var ErrUnknownCategory = errors.New("catalog: unknown category")

// Static serves fixed option lists.
type Static struct {
	lists map[string][]string
}

var _ choices.Catalog = (*Static)(nil)

// NewStatic creates a catalog over lists. Lists are cleaned on the way in.
func NewStatic(lists map[string][]string) *Static {
	s := &Static{lists: make(map[string][]string, len(lists))}
	for category, list := range lists {
		s.lists[category] = choices.Clean(list)
	}
	return s
}

// LoadStatic reads a YAML document mapping category to option list:
//
//	samplers: [euler, dpmpp_2m]
//	loras:
//	  - style/ink.safetensors
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var lists map[string][]string
	if err := yaml.Unmarshal(data, &lists); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return NewStatic(lists), nil
}

// Choices returns a copy of the list for category.
func (s *Static) Choices(ctx context.Context, category string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, ok := s.lists[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return slices.Clone(list), nil
}

// Categories returns the known categories, sorted.
func (s *Static) Categories() []string {
	out := make([]string, 0, len(s.lists))
	for c := range s.lists {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
