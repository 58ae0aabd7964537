// Package form holds the user-facing state of a loaded template: one value
// per control keyed by param_name, plus randomize and bypass flags.
package form

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/registry"
)

// Value is a sealed interface over the shapes a control's value can take.
type Value interface {
	formValue()
}

// Scalar holds the value of a single-field control.
type Scalar struct {
	V graph.Value
}

func (Scalar) formValue() {}

// MarshalJSON encodes the wrapped literal directly.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.V == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.V)
}

// Lora is one LoRA selection.
type Lora struct {
	Name     string  `json:"lora"`
	Strength float64 `json:"strength"`
}

func (Lora) formValue() {}

// Active reports whether the entry contributes to the run.
func (l Lora) Active() bool {
	return l.Name != registry.LoraNone && l.Name != "" && l.Strength != 0
}

// LoraStack is the fixed-length value of a multi-slot LoRA control. Count is
// how many slots are in use; it travels beside the slots, never inside them.
// A zero Count means the caller did not choose one.
type LoraStack struct {
	Slots [registry.LoraSlots]Lora
	Count int
}

func (LoraStack) formValue() {}

type loraStackJSON struct {
	Slots []Lora `json:"slots"`
	Count *int   `json:"num_loras,omitempty"`
}

// MarshalJSON encodes the stack as {"slots": [...], "num_loras": n}.
func (s LoraStack) MarshalJSON() ([]byte, error) {
	out := loraStackJSON{Slots: s.Slots[:]}
	if s.Count > 0 {
		c := s.Count
		out.Count = &c
	}
	return json.Marshal(out)
}

// InferCount returns 1 + the index of the last active slot, clamped to
// [1, LoraSlots], or LoraSlots when no slot is active.
func (s LoraStack) InferCount() int {
	last := -1
	for i, slot := range s.Slots {
		if slot.Active() {
			last = i
		}
	}
	if last < 0 {
		return registry.LoraSlots
	}
	return ClampCount(last + 1)
}

// EffectiveCount returns Count when set, otherwise the inferred count.
func (s LoraStack) EffectiveCount() int {
	if s.Count > 0 {
		return ClampCount(s.Count)
	}
	return s.InferCount()
}

// ClampCount clamps n to [1, LoraSlots].
func ClampCount(n int) int {
	return max(1, min(registry.LoraSlots, n))
}

// Fields holds a compound selector, one string per axis.
type Fields map[string]string

func (Fields) formValue() {}

// Get returns the axis value or "".
func (f Fields) Get(axis string) string {
	return f[axis]
}

// ToAny converts v into plain Go data for display and comparison.
func ToAny(v Value) any {
	switch val := v.(type) {
	case Scalar:
		return graph.ToAny(val.V)
	case Lora:
		return map[string]any{"lora": val.Name, "strength": val.Strength}
	case LoraStack:
		slots := make([]any, len(val.Slots))
		for i, s := range val.Slots {
			slots[i] = map[string]any{"lora": s.Name, "strength": s.Strength}
		}
		return map[string]any{"slots": slots, "num_loras": val.EffectiveCount()}
	case Fields:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case nil:
		return nil
	}
	panic(fmt.Sprintf("form: unhandled value %T", v))
}

// FromAny builds a Value of the given kind from plain data, as found in
// YAML scenarios or JSON request bodies.
func FromAny(kind registry.Kind, data any) (Value, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return Decode(kind, raw)
}
