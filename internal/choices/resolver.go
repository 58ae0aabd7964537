// Package choices resolves the option lists of enum-like controls.
package choices

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
)

// ErrStale is returned when a resolution finished after a newer one began.
var ErrStale = errors.New("choices: resolution superseded by a newer epoch")

// Catalog returns the ordered options for a category.
type Catalog interface {
	Choices(ctx context.Context, category string) ([]string, error)
}

// Observer receives one call per catalog fetch.
type Observer interface {
	ObserveFetch(category string, elapsed time.Duration, err error)
}

// Set is the resolved option list of one control. Compound selectors use
// Axes, every other kind uses Options.
type Set struct {
	Category string              `json:"category,omitempty"`
	Options  []string            `json:"options,omitempty"`
	Axes     map[string][]string `json:"axes,omitempty"`
}

// Axis returns the options of one axis of a compound selector.
func (s Set) Axis(name string) []string {
	return s.Axes[name]
}

// Sets maps control node ids to their resolved options.
type Sets map[graph.NodeID]Set

// Result is one completed resolution pass.
type Result struct {
	Epoch int64
	Sets  Sets
}

// Resolver fans catalog fetches out across controls.
//
// Every Resolve call starts a new epoch. Invalidate also advances it, so a
// template change abandons whatever is in flight.
type Resolver struct {
	catalog  Catalog
	logger   *slog.Logger
	observer Observer
	limit    int
	epoch    atomic.Int64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithObserver reports fetch timings and failures.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithConcurrency bounds in-flight fetches. Zero or less means unbounded.
func WithConcurrency(n int) Option {
	return func(r *Resolver) { r.limit = n }
}

// NewResolver creates a resolver over catalog.
func NewResolver(catalog Catalog, opts ...Option) *Resolver {
	r := &Resolver{catalog: catalog, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Epoch returns the current epoch.
func (r *Resolver) Epoch() int64 {
	return r.epoch.Load()
}

// Invalidate advances the epoch, marking in-flight resolutions stale.
func (r *Resolver) Invalidate() int64 {
	return r.epoch.Add(1)
}

// Categories lists the distinct catalog categories controls draw from, in
// first-use order.
func Categories(controls []discovery.Control) []string {
	var out []string
	for _, c := range controls {
		category := c.Entry().CategoryFor(c.Node, c.ParamName)
		if category != "" && !slices.Contains(out, category) {
			out = append(out, category)
		}
	}
	return out
}

type job struct {
	id       graph.NodeID
	param    string
	kind     registry.Kind
	category string
}

// Resolve fetches options for every control that needs them. Fetches run
// concurrently and all complete before Resolve returns. A failed fetch
// leaves that control with an empty list and is logged, never returned.
//
// If another Resolve or Invalidate happened meanwhile, the result is
// returned together with ErrStale and must not be applied.
func (r *Resolver) Resolve(ctx context.Context, controls []discovery.Control) (*Result, error) {
	epoch := r.epoch.Add(1)

	var jobs []job
	for _, c := range controls {
		category := c.Entry().CategoryFor(c.Node, c.ParamName)
		if category == "" {
			continue
		}
		jobs = append(jobs, job{id: c.ID, param: c.ParamName, kind: c.Kind, category: category})
	}

	fetched := make([][]string, len(jobs))
	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, j := range jobs {
		g.Go(func() error {
			fetched[i] = r.fetch(ctx, j)
			return nil
		})
	}
	_ = g.Wait()

	sets := make(Sets, len(jobs))
	for i, j := range jobs {
		sets[j.id] = buildSet(j, fetched[i])
	}

	result := &Result{Epoch: epoch, Sets: sets}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if r.epoch.Load() != epoch {
		return result, ErrStale
	}
	return result, nil
}

func (r *Resolver) fetch(ctx context.Context, j job) []string {
	start := time.Now()
	list, err := r.catalog.Choices(ctx, j.category)
	if r.observer != nil {
		r.observer.ObserveFetch(j.category, time.Since(start), err)
	}
	if err != nil {
		r.logger.Warn("catalog fetch failed",
			"param_name", j.param,
			"category", j.category,
			"node_id", j.id,
			"error", err,
		)
		return nil
	}
	return list
}

func buildSet(j job, list []string) Set {
	switch j.kind {
	case registry.KindWanVideoModel:
		return Set{
			Category: j.category,
			Axes: map[string][]string{
				registry.AxisModelName:     nonNil(list),
				registry.AxisBasePrecision: registry.WanVideoPrecisions,
				registry.AxisQuantization:  registry.WanVideoQuantizations,
				registry.AxisLoadDevice:    registry.WanVideoLoadDevices,
			},
		}
	case registry.KindLora, registry.KindLoraStack:
		if !slices.Contains(list, registry.LoraNone) {
			list = append([]string{registry.LoraNone}, list...)
		}
		return Set{Category: j.category, Options: list}
	default:
		return Set{Category: j.category, Options: nonNil(list)}
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
