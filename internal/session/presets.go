package session

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/roach88/cozygen/internal/defaults"
	"github.com/roach88/cozygen/internal/discovery"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/store"
)

// PresetResult reports how a preset mapped onto the current template.
type PresetResult struct {
	Applied []string `json:"applied"`
	Missing []string `json:"missing,omitempty"`
}

// SavePreset stores the current form state and flags under name.
func (w *Workbench) SavePreset(ctx context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, err := w.requireLocked()
	if err != nil {
		return err
	}
	formData, err := form.Encode(cur.state)
	if err != nil {
		return err
	}
	randomize, _ := json.Marshal(cur.randomize)
	bypass, _ := json.Marshal(cur.bypass)
	_, err = w.store.SavePreset(ctx, store.Preset{
		Template:  cur.name,
		Name:      name,
		FormData:  string(formData),
		Randomize: string(randomize),
		Bypass:    string(bypass),
	})
	return err
}

// ApplyPreset overlays a saved preset onto the current state. Only names
// the template still has are applied; the rest are reported as missing.
// Choice values are re-validated against the current options.
func (w *Workbench) ApplyPreset(ctx context.Context, name string) (*PresetResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, err := w.requireLocked()
	if err != nil {
		return nil, err
	}
	p, err := w.store.Preset(ctx, cur.name, name)
	if err != nil {
		return nil, err
	}
	saved, err := form.ParseSaved([]byte(p.FormData))
	if err != nil {
		return nil, err
	}
	randomize, err := form.ParseFlags([]byte(p.Randomize))
	if err != nil {
		return nil, err
	}
	bypass, err := form.ParseFlags([]byte(p.Bypass))
	if err != nil {
		return nil, err
	}

	res := &PresetResult{}
	for paramName, raw := range saved {
		c, ok := cur.control(paramName)
		if !ok {
			res.Missing = append(res.Missing, paramName)
			continue
		}
		cur.state[paramName] = defaults.Derive(c, cur.sets[c.ID], raw)
		res.Applied = append(res.Applied, paramName)
	}
	slices.Sort(res.Applied)
	slices.Sort(res.Missing)

	names := discovery.Names(cur.controls)
	cur.randomize = cur.randomize.Merge(randomize.Filter(names))
	cur.bypass = cur.bypass.Merge(bypass.Filter(names))

	if err := w.persistState(ctx, cur); err != nil {
		return nil, err
	}
	if err := w.putJSON(ctx, cur.name+suffixRandomize, cur.randomize); err != nil {
		return nil, err
	}
	if err := w.putJSON(ctx, cur.name+suffixBypass, cur.bypass); err != nil {
		return nil, err
	}
	w.logger.Debug("preset applied", "template", cur.name, "preset", name, "applied", len(res.Applied), "missing", res.Missing)
	return res, nil
}

// DeletePreset removes a preset of the current template.
func (w *Workbench) DeletePreset(ctx context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, err := w.requireLocked()
	if err != nil {
		return err
	}
	return w.store.DeletePreset(ctx, cur.name, name)
}

// ListPresets returns the current template's preset names, sorted.
func (w *Workbench) ListPresets(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	cur, err := w.requireLocked()
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	presets, err := w.store.Presets(ctx, cur.name)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(presets))
	for i, p := range presets {
		names[i] = p.Name
	}
	return names, nil
}
