package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Catalog is a scriptable choice catalog for tests.
//
// Lists holds the options per category; Errors makes a category fail.
// Unknown categories fail with a not-found error. Hook, when set, runs at
// the start of every call and can block or mutate external state.
type Catalog struct {
	Lists  map[string][]string
	Errors map[string]error
	Hook   func(ctx context.Context, category string)

	mu    sync.Mutex
	calls []string
}

// NewCatalog creates a catalog over lists.
func NewCatalog(lists map[string][]string) *Catalog {
	return &Catalog{Lists: lists, Errors: map[string]error{}}
}

// Choices implements the catalog contract.
func (c *Catalog) Choices(ctx context.Context, category string) ([]string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, category)
	c.mu.Unlock()

	if c.Hook != nil {
		c.Hook(ctx, category)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := c.Errors[category]; ok {
		return nil, err
	}
	list, ok := c.Lists[category]
	if !ok {
		return nil, fmt.Errorf("category %q not found", category)
	}
	return slices.Clone(list), nil
}

// Calls returns the requested categories, sorted.
func (c *Catalog) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := slices.Clone(c.calls)
	slices.Sort(out)
	return out
}
