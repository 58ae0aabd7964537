// Package session drives one user's work on one template at a time: it
// loads a template, resolves choices, derives and persists form state, and
// compiles and submits runs.
//
// Thread-safety: every Workbench method is safe from any goroutine. Load
// calls race by epoch; the newest one wins and older ones return
// ErrStaleEpoch without touching state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/cozygen/internal/choices"
	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/compiler"
	"github.com/roach88/cozygen/internal/defaults"
	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
	"github.com/roach88/cozygen/internal/store"
)

var (
	// ErrStaleEpoch is returned by a Load that was superseded while its
	// choices were resolving.
	ErrStaleEpoch = choices.ErrStale

	// ErrNoTemplate is returned by operations that need a loaded template.
	ErrNoTemplate = errors.New("session: no template loaded")

	// ErrUnknownControl is returned for a param_name the template lacks.
	ErrUnknownControl = errors.New("session: unknown control")

	// ErrNotImageControl is returned when an upload targets a control that
	// does not take an image.
	ErrNotImageControl = errors.New("session: not an image control")
)

// Persisted key suffixes, appended to the template name.
const (
	suffixFormData  = "_formData"
	suffixRandomize = "_randomizeState"
	suffixBypass    = "_bypassedState"
)

// FormDataKey is the store key holding template's persisted form state.
func FormDataKey(template string) string {
	return template + suffixFormData
}

// TemplateSource loads templates by name.
type TemplateSource interface {
	Load(name string) (*graph.Graph, error)
}

// Submitter queues a compiled graph on the backend.
type Submitter interface {
	Queue(ctx context.Context, g *graph.Graph) (*comfy.QueueResult, error)
}

// Store persists form state, presets and history.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	SavePreset(ctx context.Context, p store.Preset) (int64, error)
	Preset(ctx context.Context, template, name string) (store.Preset, error)
	Presets(ctx context.Context, template string) ([]store.Preset, error)
	DeletePreset(ctx context.Context, template, name string) error
	AppendRun(ctx context.Context, r store.Run) (int64, error)
	SetRunStatus(ctx context.Context, runID, status, promptID string) error
	Run(ctx context.Context, runID string) (store.Run, error)
	Runs(ctx context.Context, template string, limit int) ([]store.Run, error)
}

// Metrics receives compile and submission observations.
type Metrics interface {
	ObserveCompile(out *compiler.Compiled, err error)
	ObserveSubmit(status string)
}

// loaded is the workbench's view of the current template.
type loaded struct {
	name      string
	template  *graph.Graph
	controls  []discovery.Control
	sets      choices.Sets
	state     form.State
	randomize form.Flags
	bypass    form.Flags
	warnings  []compiler.ValidationWarning
	epoch     int64
}

func (l *loaded) control(paramName string) (discovery.Control, bool) {
	// Later controls win on duplicate names, matching state derivation.
	for i := len(l.controls) - 1; i >= 0; i-- {
		if l.controls[i].ParamName == paramName {
			return l.controls[i], true
		}
	}
	return discovery.Control{}, false
}

// Workbench orchestrates the pipeline for the current template.
type Workbench struct {
	source    TemplateSource
	resolver  *choices.Resolver
	store     Store
	submitter Submitter
	compiler  *compiler.Compiler
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	current *loaded
}

// Option configures a Workbench.
type Option func(*Workbench)

// WithSubmitter sets the backend used by Submit.
func WithSubmitter(s Submitter) Option {
	return func(w *Workbench) { w.submitter = s }
}

// WithCompiler replaces the default compiler.
func WithCompiler(c *compiler.Compiler) Option {
	return func(w *Workbench) { w.compiler = c }
}

// WithMetrics reports compiles and submissions.
func WithMetrics(m Metrics) Option {
	return func(w *Workbench) { w.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Workbench) { w.logger = l }
}

// WithClock overrides time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workbench) { w.now = now }
}

// New creates a workbench.
func New(source TemplateSource, resolver *choices.Resolver, st Store, opts ...Option) *Workbench {
	w := &Workbench{
		source:   source,
		resolver: resolver,
		store:    st,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.compiler == nil {
		w.compiler = compiler.New(compiler.WithLogger(w.logger))
	}
	return w
}

// Load makes name the current template and returns its view.
//
// Saved form state and flags for name are restored: values are matched to
// controls by param_name and flags for names the template no longer has
// are dropped.
func (w *Workbench) Load(ctx context.Context, name string) (*View, error) {
	tmpl, err := w.source.Load(name)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", name, err)
	}
	controls := discovery.Discover(tmpl)

	res, err := w.resolver.Resolve(ctx, controls)
	if err != nil {
		return nil, err
	}

	saved, randomize, bypass, err := w.restore(ctx, name)
	if err != nil {
		return nil, err
	}
	names := discovery.Names(controls)

	next := &loaded{
		name:      name,
		template:  tmpl,
		controls:  controls,
		sets:      res.Sets,
		state:     defaults.DeriveAll(controls, res.Sets, saved),
		randomize: randomize.Filter(names),
		bypass:    bypass.Filter(names),
		warnings:  compiler.Validate(controls),
		epoch:     res.Epoch,
	}
	for _, warn := range next.warnings {
		w.logger.Warn("template warning", "template", name, "code", warn.Code, "message", warn.Message)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolver.Epoch() != res.Epoch {
		return nil, ErrStaleEpoch
	}
	w.current = next
	w.logger.Debug("template loaded", "template", name, "controls", len(controls), "epoch", res.Epoch)
	return next.view(), nil
}

func (w *Workbench) restore(ctx context.Context, name string) (form.Saved, form.Flags, form.Flags, error) {
	raw, _, err := w.store.Get(ctx, FormDataKey(name))
	if err != nil {
		return nil, nil, nil, err
	}
	saved, err := form.ParseSaved([]byte(raw))
	if err != nil {
		w.logger.Warn("discarding unreadable saved state", "template", name, "error", err)
		saved = form.Saved{}
	}
	randomize, err := w.flags(ctx, name+suffixRandomize)
	if err != nil {
		return nil, nil, nil, err
	}
	bypass, err := w.flags(ctx, name+suffixBypass)
	if err != nil {
		return nil, nil, nil, err
	}
	return saved, randomize, bypass, nil
}

func (w *Workbench) flags(ctx context.Context, key string) (form.Flags, error) {
	raw, _, err := w.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	f, err := form.ParseFlags([]byte(raw))
	if err != nil {
		w.logger.Warn("discarding unreadable flags", "key", key, "error", err)
		return form.Flags{}, nil
	}
	return f, nil
}

// Invalidate abandons any in-flight Load.
func (w *Workbench) Invalidate() {
	w.resolver.Invalidate()
}

// TemplatesChanged is a templates.ChangeHandler: a change to the current
// template invalidates in-flight loads.
func (w *Workbench) TemplatesChanged(names []string) {
	w.mu.Lock()
	cur := w.current
	w.mu.Unlock()
	if cur != nil && slices.Contains(names, cur.name) {
		w.logger.Info("current template changed on disk", "template", cur.name)
		w.Invalidate()
	}
}

// View returns the current template's view.
func (w *Workbench) View() (*View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil, ErrNoTemplate
	}
	return w.current.view(), nil
}

// SetValue decodes raw for the named control, stores it and persists the
// form state.
func (w *Workbench) SetValue(ctx context.Context, paramName string, raw json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, err := w.requireLocked()
	if err != nil {
		return err
	}
	c, ok := cur.control(paramName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownControl, paramName)
	}
	v, err := form.Decode(c.Kind, raw)
	if err != nil {
		return fmt.Errorf("set %s: %w", paramName, err)
	}
	cur.state[paramName] = v
	return w.persistState(ctx, cur)
}

// CheckImage reports whether paramName names an image control of the
// current template.
func (w *Workbench) CheckImage(paramName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, err := w.requireLocked()
	if err != nil {
		return err
	}
	c, ok := cur.control(paramName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownControl, paramName)
	}
	if c.Kind != registry.KindImage {
		return fmt.Errorf("%w: %q", ErrNotImageControl, paramName)
	}
	return nil
}

// SetRandomize toggles the randomize flag for a control and persists it.
func (w *Workbench) SetRandomize(ctx context.Context, paramName string, on bool) error {
	return w.setFlag(ctx, paramName, on, func(l *loaded) (form.Flags, string) {
		return l.randomize, suffixRandomize
	})
}

// SetBypass toggles the bypass flag for a control and persists it.
func (w *Workbench) SetBypass(ctx context.Context, paramName string, on bool) error {
	return w.setFlag(ctx, paramName, on, func(l *loaded) (form.Flags, string) {
		return l.bypass, suffixBypass
	})
}

func (w *Workbench) setFlag(ctx context.Context, paramName string, on bool, pick func(*loaded) (form.Flags, string)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, err := w.requireLocked()
	if err != nil {
		return err
	}
	if _, ok := cur.control(paramName); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownControl, paramName)
	}
	flags, suffix := pick(cur)
	flags[paramName] = on
	return w.putJSON(ctx, cur.name+suffix, flags)
}

// Compile compiles the current template with the current state. The
// returned State carries randomized draws; the workbench's own state is
// left unchanged.
func (w *Workbench) Compile(ctx context.Context) (*compiler.Compiled, error) {
	out, _, _, err := w.compile(ctx)
	return out, err
}

// compile also returns the template it compiled and the request it built,
// which stay valid if another Load replaces the current template.
func (w *Workbench) compile(ctx context.Context) (*compiler.Compiled, *loaded, compiler.Request, error) {
	w.mu.Lock()
	cur, err := w.requireLocked()
	if err != nil {
		w.mu.Unlock()
		return nil, nil, compiler.Request{}, err
	}
	req := compiler.Request{
		Template:  cur.template,
		Controls:  cur.controls,
		State:     cur.state.Clone(),
		Randomize: cur.randomize.Merge(nil),
		Bypass:    cur.bypass.Merge(nil),
	}
	w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, req, err
	}
	out, err := w.compiler.Compile(req)
	if w.metrics != nil {
		w.metrics.ObserveCompile(out, err)
	}
	return out, cur, req, err
}

func (w *Workbench) requireLocked() (*loaded, error) {
	if w.current == nil {
		return nil, ErrNoTemplate
	}
	return w.current, nil
}

func (w *Workbench) persistState(ctx context.Context, cur *loaded) error {
	data, err := form.Encode(cur.state)
	if err != nil {
		return err
	}
	return w.store.Put(ctx, FormDataKey(cur.name), string(data))
}

func (w *Workbench) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return w.store.Put(ctx, key, string(data))
}
